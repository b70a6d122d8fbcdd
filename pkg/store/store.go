package store

import (
	"errors"
	"time"

	"enviobox/pkg/domain"
)

var (
	// ErrRecordNotFound is returned by mutations targeting a missing record.
	ErrRecordNotFound = errors.New("legacy record not found")
	// ErrRecordClaimed is returned when deleting a record already bound to an account.
	ErrRecordClaimed = errors.New("legacy record already claimed")
	// ErrAlreadyClaimed is returned by MarkClaimed when the claim flag was already set.
	ErrAlreadyClaimed = errors.New("legacy record claim flag already set")
)

// SearchFilters narrows admin listings. Search matches box id, email and
// name (every word of Search must appear in the name for the name branch).
type SearchFilters struct {
	Search  string
	Claimed *bool
}

// Page is 1-based pagination.
type Page struct {
	Number int
	Size   int
}

// Store defines persistence for legacy records and claim-created accounts.
//
// MarkClaimed and CreateAccount are meant to run inside InTransaction so a
// claim commits atomically; implementations must guarantee two concurrent
// transactions cannot both flip the same record's claim flag.
type Store interface {
	// legacy records
	FindLegacyByBoxID(boxID string) (domain.LegacyRecord, bool, error)
	InsertLegacyIfAbsent(rec domain.LegacyRecord) (inserted bool, id string, err error)
	MarkClaimed(boxID, accountID string, now time.Time) error
	DeleteLegacyRecord(id string) error
	SearchLegacyRecords(filters SearchFilters, page Page) ([]domain.LegacyRecord, int64, error)
	LegacyRecordStats() (domain.RecordStats, error)

	// accounts
	FindAccountByEmail(email string) (domain.Account, bool, error)
	CreateAccount(account domain.Account) error

	// InTransaction runs fn against a transaction-bound store. fn returning
	// an error rolls back every write made through its argument.
	InTransaction(fn func(Store) error) error
}
