package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"enviobox/pkg/domain"
)

const migrateLockID int64 = 48120731

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&LegacyRecordModel{}, &AccountModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// FindLegacyByBoxID looks up a record by its box id. Inside a transaction the
// row is locked FOR UPDATE so a competing claim blocks until commit.
func (s *GormStore) FindLegacyByBoxID(boxID string) (domain.LegacyRecord, bool, error) {
	query := s.db
	if s.inTx {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model LegacyRecordModel
	if err := query.Where("box_id = ?", boxID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.LegacyRecord{}, false, nil
		}
		return domain.LegacyRecord{}, false, err
	}
	return legacyFromModel(model), true, nil
}

// InsertLegacyIfAbsent inserts a record keyed by box id. An existing box id
// makes the insert a no-op and reports inserted=false.
func (s *GormStore) InsertLegacyIfAbsent(rec domain.LegacyRecord) (bool, string, error) {
	model := legacyToModel(rec)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "box_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return false, "", res.Error
	}
	if res.RowsAffected == 0 {
		return false, "", nil
	}
	return true, model.ID, nil
}

// MarkClaimed flips the claim fields of an unclaimed record.
func (s *GormStore) MarkClaimed(boxID, accountID string, now time.Time) error {
	res := s.db.Model(&LegacyRecordModel{}).
		Where("box_id = ? AND is_claimed = ?", boxID, false).
		Updates(map[string]any{
			"is_claimed":         true,
			"claimed_by_user_id": accountID,
			"claimed_at":         now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// DeleteLegacyRecord removes an unclaimed record by id.
func (s *GormStore) DeleteLegacyRecord(id string) error {
	var model LegacyRecordModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrRecordNotFound
		}
		return err
	}
	if model.IsClaimed {
		return ErrRecordClaimed
	}
	return s.db.Delete(&LegacyRecordModel{}, "id = ? AND is_claimed = ?", id, false).Error
}

// SearchLegacyRecords lists records for the admin view. Filtered results are
// ordered exact box match first, then box id length, then alphabetical;
// unfiltered results come newest first.
func (s *GormStore) SearchLegacyRecords(filters SearchFilters, page Page) ([]domain.LegacyRecord, int64, error) {
	query := s.db.Model(&LegacyRecordModel{})
	search := strings.TrimSpace(filters.Search)
	if search != "" {
		like := "%" + search + "%"
		nameQuery := s.db.Session(&gorm.Session{NewDB: true})
		for _, word := range strings.Fields(search) {
			nameQuery = nameQuery.Where("full_name ILIKE ?", "%"+word+"%")
		}
		query = query.Where(
			s.db.Session(&gorm.Session{NewDB: true}).
				Where("box_id ILIKE ?", like).
				Or("email ILIKE ?", like).
				Or(nameQuery),
		)
	}
	if filters.Claimed != nil {
		query = query.Where("is_claimed = ?", *filters.Claimed)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if search != "" {
		query = query.Order(clause.OrderBy{Expression: clause.Expr{
			SQL:  "(upper(box_id) = ?) DESC, length(box_id) ASC, box_id ASC",
			Vars: []any{strings.ToUpper(search)},
		}})
	} else {
		query = query.Order("created_at DESC")
	}
	if page.Size > 0 {
		offset := 0
		if page.Number > 1 {
			offset = (page.Number - 1) * page.Size
		}
		query = query.Offset(offset).Limit(page.Size)
	}

	var models []LegacyRecordModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	records := make([]domain.LegacyRecord, 0, len(models))
	for _, model := range models {
		records = append(records, legacyFromModel(model))
	}
	return records, total, nil
}

// LegacyRecordStats returns aggregate counters for the admin dashboard.
func (s *GormStore) LegacyRecordStats() (domain.RecordStats, error) {
	stats := domain.RecordStats{}
	if err := s.db.Model(&LegacyRecordModel{}).Count(&stats.Total).Error; err != nil {
		return domain.RecordStats{}, err
	}
	if err := s.db.Model(&LegacyRecordModel{}).Where("is_claimed = ?", true).Count(&stats.Claimed).Error; err != nil {
		return domain.RecordStats{}, err
	}
	stats.Unclaimed = stats.Total - stats.Claimed
	return stats, nil
}

// FindAccountByEmail looks up an account by email.
func (s *GormStore) FindAccountByEmail(email string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

// CreateAccount inserts a claim-created account.
func (s *GormStore) CreateAccount(account domain.Account) error {
	model := accountToModel(account)
	return s.db.Create(&model).Error
}

// InTransaction runs fn against a transaction-bound store.
func (s *GormStore) InTransaction(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}
