// Package db implements the transactional store for time entries and
// company settings on top of GORM. All check-then-write operations in
// the service layer run through WithTransaction so the row locks taken
// here hold until commit.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	e "github.com/rachuba/backoffice/internal/timetracking/errors"
	"github.com/rachuba/backoffice/internal/timetracking/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// runningTimerIndex is the backstop for the one-running-timer
// invariant: even if a caller bypasses the transactional lock, the
// store rejects a second running row per user. The WHERE clause works
// on both PostgreSQL and SQLite.
const runningTimerIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uniq_running_timer
ON time_entries (user_id, company_id) WHERE is_running AND is_active`

func NewRepository(cfg *Config) (*Repository, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
	return Open(postgres.Open(dsn))
}

// Open connects through an arbitrary dialector and migrates the
// schema. Tests use this with an in-memory SQLite dialector.
func Open(dialector gorm.Dialector) (*Repository, error) {
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.TimeEntry{}, &models.CompanySettings{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := db.Exec(runningTimerIndex).Error; err != nil {
		return nil, fmt.Errorf("failed to create running timer index: %w", err)
	}

	if dialector.Name() == "sqlite" {
		// An in-memory SQLite database exists per connection; a single
		// pooled connection keeps all transactions on the same store.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &Repository{db: db}, nil
}

// forUpdate adds a row lock on dialects that support it. SQLite has no
// FOR UPDATE syntax; its single-writer model serializes transactions
// in tests instead.
func (r *Repository) forUpdate(tx *gorm.DB) *gorm.DB {
	if r.db.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *Repository) CreateEntry(ctx context.Context, entry *models.TimeEntry) error {
	result := r.db.WithContext(ctx).Create(entry)
	if result.Error != nil {
		// The only unique index on time_entries is the running-timer
		// backstop, so a duplicate key here means a lost start race.
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return e.ErrAlreadyRunning
		}
		return result.Error
	}
	return nil
}

func (r *Repository) GetEntry(ctx context.Context, companyID, id uuid.UUID) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	result := r.db.WithContext(ctx).
		First(&entry, "id = ? AND company_id = ? AND is_active = ?", id, companyID, true)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &entry, nil
}

// GetEntryForUpdate locks the row for the remainder of the enclosing
// transaction before returning it.
func (r *Repository) GetEntryForUpdate(ctx context.Context, companyID, id uuid.UUID) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	result := r.forUpdate(r.db.WithContext(ctx)).
		First(&entry, "id = ? AND company_id = ? AND is_active = ?", id, companyID, true)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &entry, nil
}

// SaveEntry writes the full row back. Callers are expected to hold the
// row lock via GetEntryForUpdate/FindRunningForUpdate when racing
// mutators are possible.
func (r *Repository) SaveEntry(ctx context.Context, entry *models.TimeEntry) error {
	return r.db.WithContext(ctx).Save(entry).Error
}

// UpdateEntry applies a partial column update. A map is used instead
// of a struct so zero values (false, nil) are written as given.
func (r *Repository) UpdateEntry(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.TimeEntry{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

func (r *Repository) FindRunning(ctx context.Context, companyID, userID uuid.UUID) (*models.TimeEntry, error) {
	return r.findRunning(r.db.WithContext(ctx), companyID, userID)
}

// FindRunningForUpdate is the locked variant used by start/stop/
// discard inside their transaction.
func (r *Repository) FindRunningForUpdate(ctx context.Context, companyID, userID uuid.UUID) (*models.TimeEntry, error) {
	return r.findRunning(r.forUpdate(r.db.WithContext(ctx)), companyID, userID)
}

func (r *Repository) findRunning(tx *gorm.DB, companyID, userID uuid.UUID) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	result := tx.First(&entry,
		"company_id = ? AND user_id = ? AND is_running = ? AND is_active = ?",
		companyID, userID, true, true)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &entry, nil
}

// LockUserEntries takes a per-user advisory lock held until the
// enclosing transaction commits. Row locks only cover rows that
// already exist, so two transactions inserting into an empty or
// disjoint candidate set would never block each other; this lock is
// the serialization point for the overlap check. SQLite's single
// writer already serializes transactions, so it is a no-op there.
func (r *Repository) LockUserEntries(ctx context.Context, companyID, userID uuid.UUID) error {
	if r.db.Dialector.Name() == "sqlite" {
		return nil
	}
	return r.db.WithContext(ctx).
		Exec("SELECT pg_advisory_xact_lock(hashtext(?))", companyID.String()+":"+userID.String()).
		Error
}

// ListActiveForUpdate returns the overlap candidate set for a user
// with the existing rows locked. Callers guarding against concurrent
// inserts must take LockUserEntries first; the row locks alone do not
// block new rows.
func (r *Repository) ListActiveForUpdate(ctx context.Context, companyID, userID uuid.UUID, excludeID *uuid.UUID) ([]*models.TimeEntry, error) {
	tx := r.forUpdate(r.db.WithContext(ctx)).
		Where("company_id = ? AND user_id = ? AND is_active = ?", companyID, userID, true)
	if excludeID != nil {
		tx = tx.Where("id <> ?", *excludeID)
	}
	var entries []*models.TimeEntry
	if err := tx.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListEntries returns a filtered, paginated page of active entries
// plus the total match count.
func (r *Repository) ListEntries(ctx context.Context, companyID uuid.UUID, filter *models.EntryFilter) ([]*models.TimeEntry, int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.TimeEntry{}).
		Where("company_id = ? AND is_active = ?", companyID, true)

	if filter.UserID != nil {
		tx = tx.Where("user_id = ?", *filter.UserID)
	}
	if filter.ClientID != nil {
		tx = tx.Where("client_id = ?", *filter.ClientID)
	}
	if filter.TaskID != nil {
		tx = tx.Where("task_id = ?", *filter.TaskID)
	}
	if filter.Status != nil {
		tx = tx.Where("status = ?", *filter.Status)
	}
	if filter.From != nil {
		tx = tx.Where("start_time >= ?", *filter.From)
	}
	if filter.To != nil {
		tx = tx.Where("start_time < ?", *filter.To)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		tx = tx.Offset(filter.Offset)
	}

	var entries []*models.TimeEntry
	if err := tx.Order("start_time DESC").Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// UpdateStatusWhere transitions every listed entry currently in the
// from status in one statement and reports how many rows matched.
// Used by the bulk approval operations.
func (r *Repository) UpdateStatusWhere(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID, from models.EntryStatus, fields map[string]interface{}) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.TimeEntry{}).
		Where("id IN ? AND company_id = ? AND status = ? AND is_active = ?", ids, companyID, from, true).
		Updates(fields)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *Repository) GetSettings(ctx context.Context, companyID uuid.UUID) (*models.CompanySettings, error) {
	var settings models.CompanySettings
	result := r.db.WithContext(ctx).First(&settings, "company_id = ?", companyID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &settings, nil
}

func (r *Repository) SaveSettings(ctx context.Context, settings *models.CompanySettings) error {
	return r.db.WithContext(ctx).Save(settings).Error
}

func (r *Repository) WithTransaction(ctx context.Context, fn func(repo *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) Exec(ctx context.Context, query string, params ...interface{}) error {
	result := r.db.WithContext(ctx).Exec(query, params...)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

func (r *Repository) Close() error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
