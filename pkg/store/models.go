package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"enviobox/pkg/domain"
)

// GORM models used for persistence.
type LegacyRecordModel struct {
	ID               string `gorm:"primaryKey"`
	BoxID            string `gorm:"uniqueIndex;not null"`
	FullName         string
	Email            string
	RegistrationDate string
	IsClaimed        bool   `gorm:"not null;default:false"`
	ClaimedByUserID  string `gorm:"index"`
	ClaimedAt        *time.Time
	RawRow           datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null;index"`
}

type AccountModel struct {
	ID           string `gorm:"primaryKey"`
	BoxID        string `gorm:"not null;index"`
	Email        string `gorm:"uniqueIndex;not null"`
	FullName     string
	Phone        string
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	ReferralCode string `gorm:"uniqueIndex;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func legacyToModel(rec domain.LegacyRecord) LegacyRecordModel {
	var raw datatypes.JSON
	if len(rec.RawRow) > 0 {
		if data, err := json.Marshal(rec.RawRow); err == nil {
			raw = datatypes.JSON(data)
		}
	}
	return LegacyRecordModel{
		ID:               rec.ID,
		BoxID:            rec.BoxID,
		FullName:         rec.FullName,
		Email:            rec.Email,
		RegistrationDate: rec.RegistrationDate,
		IsClaimed:        rec.IsClaimed,
		ClaimedByUserID:  rec.ClaimedByUserID,
		ClaimedAt:        rec.ClaimedAt,
		RawRow:           raw,
		CreatedAt:        rec.CreatedAt,
	}
}

func legacyFromModel(model LegacyRecordModel) domain.LegacyRecord {
	var raw []string
	if len(model.RawRow) > 0 {
		_ = json.Unmarshal(model.RawRow, &raw)
	}
	return domain.LegacyRecord{
		ID:               model.ID,
		BoxID:            model.BoxID,
		FullName:         model.FullName,
		Email:            model.Email,
		RegistrationDate: model.RegistrationDate,
		IsClaimed:        model.IsClaimed,
		ClaimedByUserID:  model.ClaimedByUserID,
		ClaimedAt:        model.ClaimedAt,
		RawRow:           raw,
		CreatedAt:        model.CreatedAt,
	}
}

func accountToModel(a domain.Account) AccountModel {
	return AccountModel{
		ID:           a.ID,
		BoxID:        a.BoxID,
		Email:        a.Email,
		FullName:     a.FullName,
		Phone:        a.Phone,
		PasswordHash: a.PasswordHash,
		Role:         string(a.Role),
		ReferralCode: a.ReferralCode,
		CreatedAt:    a.CreatedAt,
	}
}

func accountFromModel(model AccountModel) domain.Account {
	return domain.Account{
		ID:           model.ID,
		BoxID:        model.BoxID,
		Email:        model.Email,
		FullName:     model.FullName,
		Phone:        model.Phone,
		PasswordHash: model.PasswordHash,
		Role:         domain.AccountRole(model.Role),
		ReferralCode: model.ReferralCode,
		CreatedAt:    model.CreatedAt,
	}
}
