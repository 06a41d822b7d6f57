package controller

import (
	"context"

	"github.com/google/uuid"
	"github.com/rachuba/backoffice/internal/timetracking/auth"
	"github.com/rachuba/backoffice/internal/timetracking/db"
	e "github.com/rachuba/backoffice/internal/timetracking/errors"
	"github.com/rachuba/backoffice/internal/timetracking/models"
	"go.uber.org/zap"
)

// Lock marks an entry immutable. Idempotent: locking an already-locked
// entry returns it unchanged. The optional reason is recorded in the
// service log only.
func (s *TimeEntryService) Lock(ctx context.Context, id uuid.UUID, reason string, actor auth.Actor) (*models.TimeEntry, error) {
	if !actor.CanManageAll() {
		return nil, e.ErrForbidden
	}

	var before, locked *models.TimeEntry
	err := s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		entry, err := tx.GetEntryForUpdate(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		if entry.IsLocked {
			locked = entry
			return nil
		}

		snapshot := *entry
		before = &snapshot
		now := s.now().UTC()
		entry.IsLocked = true
		entry.LockedAt = &now
		entry.LockedByID = &actor.UserID
		locked = entry
		return tx.SaveEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	if before != nil {
		s.logger.Info("entry locked",
			zap.String("entry_id", id.String()),
			zap.String("locked_by", actor.UserID.String()),
			zap.String("reason", reason),
		)
		go func() {
			s.audit.LogUpdate(before, locked, actor.UserID)
		}()
	}
	return locked, nil
}

// Unlock clears the lock flag. Idempotent, and it never reverts the
// entry's workflow status: an approved entry stays approved.
func (s *TimeEntryService) Unlock(ctx context.Context, id uuid.UUID, reason string, actor auth.Actor) (*models.TimeEntry, error) {
	if !actor.CanManageAll() {
		return nil, e.ErrForbidden
	}

	var before, unlocked *models.TimeEntry
	err := s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		entry, err := tx.GetEntryForUpdate(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		if !entry.IsLocked {
			unlocked = entry
			return nil
		}

		snapshot := *entry
		before = &snapshot
		entry.IsLocked = false
		entry.LockedAt = nil
		entry.LockedByID = nil
		unlocked = entry
		return tx.SaveEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	if before != nil {
		s.logger.Info("entry unlocked",
			zap.String("entry_id", id.String()),
			zap.String("unlocked_by", actor.UserID.String()),
			zap.String("reason", reason),
		)
		go func() {
			s.audit.LogUpdate(before, unlocked, actor.UserID)
		}()
	}
	return unlocked, nil
}
