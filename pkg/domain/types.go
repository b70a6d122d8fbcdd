package domain

import "time"

type AccountRole string

const (
	RoleClient AccountRole = "client"
	RoleAdmin  AccountRole = "admin"
)

// LegacyRecord is a customer row imported from the pre-migration system.
// BoxID is the unique business key; the claim fields flip exactly once.
type LegacyRecord struct {
	ID               string     `json:"id"`
	BoxID            string     `json:"boxId"`
	FullName         string     `json:"fullName,omitempty"`
	Email            string     `json:"email,omitempty"`
	RegistrationDate string     `json:"registrationDate,omitempty"` // YYYY-MM-DD, no time component
	IsClaimed        bool       `json:"isClaimed"`
	ClaimedByUserID  string     `json:"claimedByUserId,omitempty"`
	ClaimedAt        *time.Time `json:"claimedAt,omitempty"`
	RawRow           []string   `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Account is the authenticated account created by a successful claim.
// The rest of the platform owns it after creation.
type Account struct {
	ID           string      `json:"id"`
	BoxID        string      `json:"boxId"`
	Email        string      `json:"email"`
	FullName     string      `json:"fullName"`
	Phone        string      `json:"phone,omitempty"`
	PasswordHash string      `json:"-"`
	Role         AccountRole `json:"role"`
	ReferralCode string      `json:"referralCode"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// ImportStats summarizes one bulk import batch.
type ImportStats struct {
	Imported     int      `json:"importados"`
	Duplicates   int      `json:"duplicados"`
	Errors       int      `json:"errores"`
	Total        int      `json:"total"`
	SampleErrors []string `json:"erroresEjemplo,omitempty"`
}

// RecordStats holds aggregate counters for the admin dashboard.
type RecordStats struct {
	Total     int64 `json:"total"`
	Claimed   int64 `json:"claimed"`
	Unclaimed int64 `json:"unclaimed"`
}
