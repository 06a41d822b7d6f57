package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rachuba/backoffice/internal/timetracking/auth"
	"github.com/rachuba/backoffice/internal/timetracking/db"
	e "github.com/rachuba/backoffice/internal/timetracking/errors"
	"github.com/rachuba/backoffice/internal/timetracking/models"
)

// The approval workflow moves along DRAFT → SUBMITTED → APPROVED or
// REJECTED. APPROVED and REJECTED are terminal; there is no
// resubmission path.

// Submit moves the actor's own DRAFT entry to SUBMITTED. A running
// entry cannot be submitted; stop it first.
func (s *TimeEntryService) Submit(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.TimeEntry, error) {
	var before, submitted *models.TimeEntry
	err := s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		entry, err := tx.GetEntryForUpdate(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		if entry.UserID != actor.UserID {
			return e.ErrNotFound
		}
		if entry.IsRunning {
			return fmt.Errorf("%w: cannot submit a running timer", e.ErrInvalidInput)
		}
		if entry.Status != models.StatusDraft {
			return &e.InvalidStatusError{Current: string(entry.Status), Attempted: string(models.StatusSubmitted)}
		}

		snapshot := *entry
		before = &snapshot
		now := s.now().UTC()
		entry.Status = models.StatusSubmitted
		entry.SubmittedAt = &now
		submitted = entry
		return tx.SaveEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	go func() {
		s.audit.LogUpdate(before, submitted, actor.UserID)
	}()
	return submitted, nil
}

// Approve moves a SUBMITTED entry to APPROVED and locks it in the same
// step, so an approved entry immediately rejects further edits.
func (s *TimeEntryService) Approve(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.TimeEntry, error) {
	if !actor.CanManageAll() {
		return nil, e.ErrForbidden
	}

	var before, approved *models.TimeEntry
	err := s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		entry, err := tx.GetEntryForUpdate(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		if entry.Status != models.StatusSubmitted {
			return &e.InvalidStatusError{Current: string(entry.Status), Attempted: string(models.StatusApproved)}
		}

		snapshot := *entry
		before = &snapshot
		now := s.now().UTC()
		entry.Status = models.StatusApproved
		entry.ApprovedByID = &actor.UserID
		entry.ApprovedAt = &now
		entry.IsLocked = true
		entry.LockedAt = &now
		entry.LockedByID = &actor.UserID
		approved = entry
		return tx.SaveEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	go func() {
		s.audit.LogUpdate(before, approved, actor.UserID)
	}()
	return approved, nil
}

// Reject moves a SUBMITTED entry to REJECTED with a mandatory note and
// records the rejecting manager in RejectedByID/RejectedAt.
func (s *TimeEntryService) Reject(ctx context.Context, id uuid.UUID, note string, actor auth.Actor) (*models.TimeEntry, error) {
	if !actor.CanManageAll() {
		return nil, e.ErrForbidden
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, fmt.Errorf("%w: rejection note is required", e.ErrInvalidInput)
	}

	var before, rejected *models.TimeEntry
	err := s.repo.WithTransaction(ctx, func(tx *db.Repository) error {
		entry, err := tx.GetEntryForUpdate(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		if entry.Status != models.StatusSubmitted {
			return &e.InvalidStatusError{Current: string(entry.Status), Attempted: string(models.StatusRejected)}
		}

		snapshot := *entry
		before = &snapshot
		now := s.now().UTC()
		entry.Status = models.StatusRejected
		entry.RejectionNote = note
		entry.RejectedByID = &actor.UserID
		entry.RejectedAt = &now
		rejected = entry
		return tx.SaveEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	go func() {
		s.audit.LogUpdate(before, rejected, actor.UserID)
	}()
	return rejected, nil
}

// BulkApprove approves every listed entry currently in SUBMITTED state
// in the actor's company with one statement. Entries that are missing,
// foreign or not submitted are only counted, never detailed.
func (s *TimeEntryService) BulkApprove(ctx context.Context, ids []uuid.UUID, actor auth.Actor) (*models.BulkApproveResult, error) {
	if !actor.CanManageAll() {
		return nil, e.ErrForbidden
	}
	if len(ids) == 0 {
		return &models.BulkApproveResult{}, nil
	}

	now := s.now().UTC()
	matched, err := s.repo.UpdateStatusWhere(ctx, actor.CompanyID, ids, models.StatusSubmitted, map[string]interface{}{
		"status":         models.StatusApproved,
		"approved_by_id": actor.UserID,
		"approved_at":    now,
		"is_locked":      true,
		"locked_at":      now,
		"locked_by_id":   actor.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bulk approve: %w", err)
	}

	return &models.BulkApproveResult{
		Approved: int(matched),
		NotFound: len(ids) - int(matched),
	}, nil
}

// BulkReject is the rejection counterpart of BulkApprove; the note is
// required and shared by all rejected entries.
func (s *TimeEntryService) BulkReject(ctx context.Context, ids []uuid.UUID, note string, actor auth.Actor) (*models.BulkRejectResult, error) {
	if !actor.CanManageAll() {
		return nil, e.ErrForbidden
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, fmt.Errorf("%w: rejection note is required", e.ErrInvalidInput)
	}
	if len(ids) == 0 {
		return &models.BulkRejectResult{}, nil
	}

	now := s.now().UTC()
	matched, err := s.repo.UpdateStatusWhere(ctx, actor.CompanyID, ids, models.StatusSubmitted, map[string]interface{}{
		"status":         models.StatusRejected,
		"rejection_note": note,
		"rejected_by_id": actor.UserID,
		"rejected_at":    now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bulk reject: %w", err)
	}

	return &models.BulkRejectResult{
		Rejected: int(matched),
		NotFound: len(ids) - int(matched),
	}, nil
}
