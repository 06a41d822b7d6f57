// Package controller implements the core business logic (service
// layer) for the time entry lifecycle: manual entries, the running
// timer, the approval workflow and entry locking. Every check-then-
// write operation runs inside one repository transaction holding a
// row lock on the entries being checked, plus a per-user advisory
// lock where the check depends on rows a concurrent writer may still
// insert. Correctness never depends on in-process mutexes because the
// racing callers are separate requests.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rachuba/backoffice/internal/timetracking/auth"
	"github.com/rachuba/backoffice/internal/timetracking/db"
	e "github.com/rachuba/backoffice/internal/timetracking/errors"
	"github.com/rachuba/backoffice/internal/timetracking/models"
	"github.com/rachuba/backoffice/internal/timetracking/timecalc"
	"go.uber.org/zap"
)

// AuditSink receives fire-and-forget audit records after a mutation
// commits. Implementations must never block the caller.
type AuditSink interface {
	LogCreate(after *models.TimeEntry, actorID uuid.UUID)
	LogUpdate(before, after *models.TimeEntry, actorID uuid.UUID)
	LogDelete(before *models.TimeEntry, actorID uuid.UUID)
}

// SettingsProvider exposes the per-company policy fields the core
// reads: rounding, overlap, age lock and default rate.
type SettingsProvider interface {
	Get(ctx context.Context, companyID uuid.UUID) (*models.CompanySettings, error)
}

// OwnershipValidator confirms that client and task references belong
// to the given company before they are attached to an entry.
type OwnershipValidator interface {
	ValidateClient(ctx context.Context, companyID, clientID uuid.UUID) error
	ValidateTask(ctx context.Context, companyID, taskID uuid.UUID) error
}

// AllowAllOwnership accepts every reference. It is the default when no
// client or task directory is wired in.
type AllowAllOwnership struct{}

func (AllowAllOwnership) ValidateClient(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (AllowAllOwnership) ValidateTask(context.Context, uuid.UUID, uuid.UUID) error { return nil }

// Repository defines the storage interface for time entries.
type Repository interface {
	CreateEntry(ctx context.Context, entry *models.TimeEntry) error
	GetEntry(ctx context.Context, companyID, id uuid.UUID) (*models.TimeEntry, error)
	GetEntryForUpdate(ctx context.Context, companyID, id uuid.UUID) (*models.TimeEntry, error)
	SaveEntry(ctx context.Context, entry *models.TimeEntry) error
	FindRunning(ctx context.Context, companyID, userID uuid.UUID) (*models.TimeEntry, error)
	FindRunningForUpdate(ctx context.Context, companyID, userID uuid.UUID) (*models.TimeEntry, error)
	ListActiveForUpdate(ctx context.Context, companyID, userID uuid.UUID, excludeID *uuid.UUID) ([]*models.TimeEntry, error)
	ListEntries(ctx context.Context, companyID uuid.UUID, filter *models.EntryFilter) ([]*models.TimeEntry, int64, error)
	UpdateStatusWhere(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID, from models.EntryStatus, fields map[string]interface{}) (int64, error)
	WithTransaction(ctx context.Context, fn func(repo *db.Repository) error) error
	Close() error
}

// TimeEntryService provides the time entry operations consumed by the
// controller layer: timer lifecycle, manual CRUD, approval workflow
// and locking.
type TimeEntryService struct {
	repo      Repository
	settings  SettingsProvider
	ownership OwnershipValidator
	audit     AuditSink
	logger    *zap.Logger
	now       func() time.Time
}

// NewTimeEntryService constructs a TimeEntryService with its storage,
// settings, ownership and audit collaborators. A nil ownership
// validator accepts every reference.
func NewTimeEntryService(repo Repository, settings SettingsProvider, ownership OwnershipValidator, audit AuditSink, logger *zap.Logger) *TimeEntryService {
	if ownership == nil {
		ownership = AllowAllOwnership{}
	}
	return &TimeEntryService{
		repo:      repo,
		settings:  settings,
		ownership: ownership,
		audit:     audit,
		logger:    logger.Named("time_entry_service"),
		now:       time.Now,
	}
}

// Create adds a manual time entry. The interval may be finished or
// open; a running timer can only be produced through StartTimer.
// When the company forbids overlapping entries the overlap check and
// the insert share one transaction.
func (s *TimeEntryService) Create(ctx context.Context, entry *models.TimeEntry, actor auth.Actor) (*models.TimeEntry, error) {
	if entry.StartTime.IsZero() {
		return nil, fmt.Errorf("%w: start time is required", e.ErrInvalidInput)
	}
	if entry.EndTime != nil && entry.EndTime.Before(entry.StartTime) {
		return nil, fmt.Errorf("%w: end time before start time", e.ErrInvalidInput)
	}
	if entry.UserID == uuid.Nil {
		entry.UserID = actor.UserID
	}
	if entry.UserID != actor.UserID && !actor.CanManageAll() {
		return nil, e.ErrForbidden
	}
	if err := s.checkRefs(ctx, actor.CompanyID, entry.ClientID, entry.TaskID); err != nil {
		return nil, err
	}

	cfg, err := s.settings.Get(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}

	entry.ID = uuid.New()
	entry.CompanyID = actor.CompanyID
	entry.CreatedByID = actor.UserID
	entry.Status = models.StatusDraft
	entry.IsRunning = false
	entry.IsActive = true
	s.applyDerived(entry, cfg)

	err = s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		if !cfg.AllowOverlappingEntries {
			if err := checkOverlap(ctx, tx, entry.CompanyID, entry.UserID, entry.StartTime, entry.EndTime, nil); err != nil {
				return err
			}
		}
		return tx.CreateEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	go func() {
		s.audit.LogCreate(entry, actor.UserID)
	}()
	return entry, nil
}

// Update applies a partial edit to an existing entry. Locked entries
// (explicit or age-based) reject the edit; interval changes re-run the
// overlap check under the same transaction and re-derive duration and
// amount.
func (s *TimeEntryService) Update(ctx context.Context, update *models.TimeEntryUpdate, actor auth.Actor) (*models.TimeEntry, error) {
	if update.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: invalid entry ID", e.ErrInvalidInput)
	}
	if err := s.checkRefs(ctx, actor.CompanyID, update.ClientID, update.TaskID); err != nil {
		return nil, err
	}

	cfg, err := s.settings.Get(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}

	var before, updated *models.TimeEntry
	err = s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		entry, err := tx.GetEntryForUpdate(ctx, actor.CompanyID, update.ID)
		if err != nil {
			return err
		}
		if entry.UserID != actor.UserID && !actor.CanManageAll() {
			return e.ErrNotFound
		}
		if err := s.ensureMutable(entry, cfg); err != nil {
			return err
		}
		if entry.IsRunning && (update.StartTime != nil || update.EndTime != nil) {
			return fmt.Errorf("%w: the interval of a running timer cannot be edited", e.ErrInvalidInput)
		}

		snapshot := *entry
		before = &snapshot

		intervalChanged := false
		if update.StartTime != nil {
			entry.StartTime = *update.StartTime
			intervalChanged = true
		}
		if update.EndTime != nil {
			entry.EndTime = update.EndTime
			intervalChanged = true
		}
		if update.Description != nil {
			entry.Description = *update.Description
		}
		if update.ClientID != nil {
			entry.ClientID = update.ClientID
		}
		if update.TaskID != nil {
			entry.TaskID = update.TaskID
		}
		if update.IsBillable != nil {
			entry.IsBillable = *update.IsBillable
		}
		if update.HourlyRate != nil {
			entry.HourlyRate = update.HourlyRate
		}

		if entry.EndTime != nil && entry.EndTime.Before(entry.StartTime) {
			return fmt.Errorf("%w: end time before start time", e.ErrInvalidInput)
		}
		if !entry.IsRunning {
			s.applyDerived(entry, cfg)
		}
		if intervalChanged && !cfg.AllowOverlappingEntries {
			if err := checkOverlap(ctx, tx, entry.CompanyID, entry.UserID, entry.StartTime, entry.EndTime, &entry.ID); err != nil {
				return err
			}
		}

		if err := tx.SaveEntry(ctx, entry); err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	go func() {
		s.audit.LogUpdate(before, updated, actor.UserID)
	}()
	return updated, nil
}

// Remove soft-deletes an entry, subject to the same lock checks as
// Update. A running entry removed this way also stops being the
// user's active timer.
func (s *TimeEntryService) Remove(ctx context.Context, id uuid.UUID, actor auth.Actor) error {
	cfg, err := s.settings.Get(ctx, actor.CompanyID)
	if err != nil {
		return err
	}

	var before *models.TimeEntry
	err = s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		entry, err := tx.GetEntryForUpdate(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		if entry.UserID != actor.UserID && !actor.CanManageAll() {
			return e.ErrNotFound
		}
		if err := s.ensureMutable(entry, cfg); err != nil {
			return err
		}

		before = entry
		return tx.UpdateEntry(ctx, entry.ID, map[string]interface{}{
			"is_active":  false,
			"is_running": false,
		})
	})
	if err != nil {
		return err
	}

	go func() {
		s.audit.LogDelete(before, actor.UserID)
	}()
	return nil
}

// FindOne retrieves a single entry. Self-only actors can see only
// their own entries; other users' entries read as not found so their
// existence is not leaked.
func (s *TimeEntryService) FindOne(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.TimeEntry, error) {
	entry, err := s.repo.GetEntry(ctx, actor.CompanyID, id)
	if err != nil {
		return nil, err
	}
	if entry.UserID != actor.UserID && !actor.CanManageAll() {
		return nil, e.ErrNotFound
	}
	return entry, nil
}

// FindAll lists entries in the actor's company. Self-only actors are
// forced onto their own user filter.
func (s *TimeEntryService) FindAll(ctx context.Context, filter *models.EntryFilter, actor auth.Actor) ([]*models.TimeEntry, int64, error) {
	if filter == nil {
		filter = &models.EntryFilter{}
	}
	if !actor.CanManageAll() {
		userID := actor.UserID
		filter.UserID = &userID
	}
	return s.repo.ListEntries(ctx, actor.CompanyID, filter)
}

// applyDerived recomputes duration and amount for a finished interval.
// The effective rate is the entry's own rate, falling back to the
// company default; the resolved rate is persisted alongside the
// amount.
func (s *TimeEntryService) applyDerived(entry *models.TimeEntry, cfg *models.CompanySettings) {
	if entry.EndTime == nil {
		entry.DurationMinutes = nil
		entry.TotalAmount = nil
		return
	}

	minutes := timecalc.Round(
		timecalc.Duration(entry.StartTime, *entry.EndTime),
		cfg.RoundingMethod, cfg.RoundingIntervalMinutes,
	)
	entry.DurationMinutes = &minutes

	rate := entry.HourlyRate
	if rate == nil {
		rate = cfg.DefaultHourlyRate
	}
	if entry.IsBillable && rate != nil {
		amount := timecalc.Amount(minutes, *rate)
		entry.HourlyRate = rate
		entry.TotalAmount = &amount
	} else {
		entry.TotalAmount = nil
	}
}

// checkRefs consults the ownership validator for every association
// being set. A rejected reference surfaces as ErrInvalidInput.
func (s *TimeEntryService) checkRefs(ctx context.Context, companyID uuid.UUID, clientID, taskID *uuid.UUID) error {
	if clientID != nil {
		if err := s.ownership.ValidateClient(ctx, companyID, *clientID); err != nil {
			return fmt.Errorf("%w: %v", e.ErrInvalidInput, err)
		}
	}
	if taskID != nil {
		if err := s.ownership.ValidateTask(ctx, companyID, *taskID); err != nil {
			return fmt.Errorf("%w: %v", e.ErrInvalidInput, err)
		}
	}
	return nil
}

// ensureMutable rejects mutation of entries locked explicitly or by
// the company's age policy.
func (s *TimeEntryService) ensureMutable(entry *models.TimeEntry, cfg *models.CompanySettings) error {
	if entry.IsLocked {
		return e.ErrLocked
	}
	if cfg.LockEntriesAfterDays > 0 {
		cutoff := s.now().AddDate(0, 0, -cfg.LockEntriesAfterDays)
		if entry.StartTime.Before(cutoff) {
			return e.ErrLocked
		}
	}
	return nil
}

// checkOverlap fails with ErrOverlap when the interval intersects any
// active entry of the user. It first takes the per-user advisory lock:
// row locks on the candidate set cannot block a concurrent insert, so
// without the lock two writers with disjoint candidates could both
// pass the check and commit overlapping rows.
func checkOverlap(ctx context.Context, tx *db.Repository, companyID, userID uuid.UUID, start time.Time, end *time.Time, excludeID *uuid.UUID) error {
	if err := tx.LockUserEntries(ctx, companyID, userID); err != nil {
		return err
	}
	candidates, err := tx.ListActiveForUpdate(ctx, companyID, userID, excludeID)
	if err != nil {
		return err
	}
	for _, candidate := range candidates {
		if timecalc.Overlaps(start, end, candidate.StartTime, candidate.EndTime) {
			return e.ErrOverlap
		}
	}
	return nil
}
