package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rachuba/backoffice/internal/timetracking/auth"
	"github.com/rachuba/backoffice/internal/timetracking/db"
	e "github.com/rachuba/backoffice/internal/timetracking/errors"
	"github.com/rachuba/backoffice/internal/timetracking/models"
	"github.com/rachuba/backoffice/internal/timetracking/timecalc"
)

// StartTimer opens a running entry for the actor. At most one running
// entry may exist per user and company: the transaction locks the
// current running row (if any) before inserting, and the partial
// unique index in the store is the backstop if two starts still race;
// its violation surfaces as the same ErrAlreadyRunning.
func (s *TimeEntryService) StartTimer(ctx context.Context, req *models.TimerStartRequest, actor auth.Actor) (*models.TimeEntry, error) {
	if req == nil {
		req = &models.TimerStartRequest{}
	}
	if err := s.checkRefs(ctx, actor.CompanyID, req.ClientID, req.TaskID); err != nil {
		return nil, err
	}

	var created *models.TimeEntry
	err := s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		_, err := tx.FindRunningForUpdate(ctx, actor.CompanyID, actor.UserID)
		if err == nil {
			return e.ErrAlreadyRunning
		}
		if !errors.Is(err, e.ErrNotFound) {
			return err
		}

		entry := &models.TimeEntry{
			ID:          uuid.New(),
			CompanyID:   actor.CompanyID,
			UserID:      actor.UserID,
			CreatedByID: actor.UserID,
			Description: req.Description,
			StartTime:   s.now().UTC(),
			IsRunning:   true,
			ClientID:    req.ClientID,
			TaskID:      req.TaskID,
			IsBillable:  req.IsBillable == nil || *req.IsBillable,
			HourlyRate:  req.HourlyRate,
			Status:      models.StatusDraft,
			IsActive:    true,
		}
		if err := tx.CreateEntry(ctx, entry); err != nil {
			return err
		}
		created = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	go func() {
		s.audit.LogCreate(created, actor.UserID)
	}()
	return created, nil
}

// StopTimer finishes the actor's running entry: sets the end time,
// derives the rounded duration and, for billable entries with a
// resolved rate, the amount. A stop racing another stop observes no
// running entry after the first commit and fails ErrNotRunning.
func (s *TimeEntryService) StopTimer(ctx context.Context, req *models.TimerStopRequest, actor auth.Actor) (*models.TimeEntry, error) {
	if req == nil {
		req = &models.TimerStopRequest{}
	}

	cfg, err := s.settings.Get(ctx, actor.CompanyID)
	if err != nil {
		return nil, err
	}

	var before, stopped *models.TimeEntry
	err = s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		entry, err := tx.FindRunningForUpdate(ctx, actor.CompanyID, actor.UserID)
		if err != nil {
			if errors.Is(err, e.ErrNotFound) {
				return e.ErrNotRunning
			}
			return err
		}

		snapshot := *entry
		before = &snapshot

		end := s.now().UTC()
		minutes := timecalc.Round(
			timecalc.Duration(entry.StartTime, end),
			cfg.RoundingMethod, cfg.RoundingIntervalMinutes,
		)
		entry.EndTime = &end
		entry.DurationMinutes = &minutes
		entry.IsRunning = false

		rate := entry.HourlyRate
		if rate == nil {
			rate = cfg.DefaultHourlyRate
		}
		if entry.IsBillable && rate != nil {
			amount := timecalc.Amount(minutes, *rate)
			entry.HourlyRate = rate
			entry.TotalAmount = &amount
		}

		if req.Description != "" {
			if entry.Description != "" {
				entry.Description = entry.Description + " " + req.Description
			} else {
				entry.Description = req.Description
			}
		}

		if err := tx.SaveEntry(ctx, entry); err != nil {
			return err
		}
		stopped = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	go func() {
		s.audit.LogUpdate(before, stopped, actor.UserID)
	}()
	return stopped, nil
}

// DiscardTimer abandons the actor's running entry without ever
// materializing duration or amount; the row is soft-deleted as-is.
func (s *TimeEntryService) DiscardTimer(ctx context.Context, actor auth.Actor) error {
	var before *models.TimeEntry
	err := s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		entry, err := tx.FindRunningForUpdate(ctx, actor.CompanyID, actor.UserID)
		if err != nil {
			if errors.Is(err, e.ErrNotFound) {
				return e.ErrNotRunning
			}
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

// GetActiveTimer returns the actor's running entry, or nil when no
// timer is running. Plain read, no lock.
func (s *TimeEntryService) GetActiveTimer(ctx context.Context, actor auth.Actor) (*models.TimeEntry, error) {
	entry, err := s.repo.FindRunning(ctx, actor.CompanyID, actor.UserID)
	if err != nil {
		if errors.Is(err, e.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

// UpdateTimer patches description, billing flag and associations of
// the running entry. It takes the same row lock as StopTimer and
// DiscardTimer so a patch cannot race a concurrent stop and write
// back stale running state.
func (s *TimeEntryService) UpdateTimer(ctx context.Context, patch *models.TimerUpdate, actor auth.Actor) (*models.TimeEntry, error) {
	if patch == nil {
		return nil, fmt.Errorf("%w: empty timer patch", e.ErrInvalidInput)
	}
	if err := s.checkRefs(ctx, actor.CompanyID, patch.ClientID, patch.TaskID); err != nil {
		return nil, err
	}

	var before, updated *models.TimeEntry
	err := s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		entry, err := tx.FindRunningForUpdate(ctx, actor.CompanyID, actor.UserID)
		if err != nil {
			if errors.Is(err, e.ErrNotFound) {
				return e.ErrNotRunning
			}
			return err
		}

		snapshot := *entry
		before = &snapshot

		if patch.Description != nil {
			entry.Description = *patch.Description
		}
		if patch.ClientID != nil {
			entry.ClientID = patch.ClientID
		}
		if patch.TaskID != nil {
			entry.TaskID = patch.TaskID
		}
		if patch.IsBillable != nil {
			entry.IsBillable = *patch.IsBillable
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
