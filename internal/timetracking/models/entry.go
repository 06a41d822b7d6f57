// Package models defines the core domain models for the time tracking
// service: the TimeEntry entity, its workflow status, partial-update
// shapes and the per-company settings the core reads.
package models

import (
	"time"

	"github.com/google/uuid"
)

// EntryStatus represents the approval workflow state of a time entry.
type EntryStatus string

const (
	// StatusDraft is the initial state of every entry.
	StatusDraft     EntryStatus = "DRAFT"
	StatusSubmitted EntryStatus = "SUBMITTED"
	StatusApproved  EntryStatus = "APPROVED"
	StatusRejected  EntryStatus = "REJECTED"
)

// TimeEntry is one tracked work interval. EndTime is nil while the
// timer is running; DurationMinutes and TotalAmount are derived on
// stop or on create/update of a finished interval.
type TimeEntry struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	CompanyID   uuid.UUID `gorm:"type:uuid;index:idx_entries_company_user;not null"`
	UserID      uuid.UUID `gorm:"type:uuid;index:idx_entries_company_user;not null"`
	CreatedByID uuid.UUID `gorm:"type:uuid"`

	Description string     `gorm:"size:3000"`
	StartTime   time.Time  `gorm:"not null;index"`
	EndTime     *time.Time `gorm:"index"`
	// DurationMinutes holds the rounded duration; nil while running.
	DurationMinutes *int
	IsRunning       bool `gorm:"not null;default:false"`

	ClientID *uuid.UUID `gorm:"type:uuid;index"`
	TaskID   *uuid.UUID `gorm:"type:uuid;index"`

	IsBillable  bool `gorm:"not null;default:true"`
	HourlyRate  *float64
	TotalAmount *float64

	Status        EntryStatus `gorm:"size:20;not null;default:DRAFT;index"`
	SubmittedAt   *time.Time
	ApprovedByID  *uuid.UUID `gorm:"type:uuid"`
	ApprovedAt    *time.Time
	RejectedByID  *uuid.UUID `gorm:"type:uuid"`
	RejectedAt    *time.Time
	RejectionNote string `gorm:"size:1000"`

	IsLocked   bool `gorm:"not null;default:false"`
	LockedAt   *time.Time
	LockedByID *uuid.UUID `gorm:"type:uuid"`

	// IsActive is the soft-delete marker; rows are never hard-deleted.
	IsActive bool `gorm:"not null;default:true;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimeEntryUpdate represents the fields that can be changed on an
// existing entry. Pointer types are used to allow partial updates;
// a nil field is left untouched.
type TimeEntryUpdate struct {
	ID          uuid.UUID
	Description *string
	StartTime   *time.Time
	EndTime     *time.Time
	ClientID    *uuid.UUID
	TaskID      *uuid.UUID
	IsBillable  *bool
	HourlyRate  *float64
}

// TimerStartRequest carries the optional attributes of a freshly
// started timer; the interval itself is owned by the service.
type TimerStartRequest struct {
	Description string
	ClientID    *uuid.UUID
	TaskID      *uuid.UUID
	IsBillable  *bool
	HourlyRate  *float64
}

// TimerStopRequest optionally appends to the running entry's
// description when the timer is stopped.
type TimerStopRequest struct {
	Description string
}

// TimerUpdate patches the currently running entry in place.
type TimerUpdate struct {
	Description *string
	ClientID    *uuid.UUID
	TaskID      *uuid.UUID
	IsBillable  *bool
}

// EntryFilter narrows FindAll results. CompanyID is always set by the
// service from the acting user, never by the caller.
type EntryFilter struct {
	UserID   *uuid.UUID
	ClientID *uuid.UUID
	TaskID   *uuid.UUID
	Status   *EntryStatus
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// BulkApproveResult reports how many of the requested entries were
// actually transitioned. NotFound counts entries that did not match
// (missing, other company, or not in SUBMITTED state); there is no
// per-row error detail.
type BulkApproveResult struct {
	Approved int
	NotFound int
}

// BulkRejectResult is the rejection counterpart of BulkApproveResult.
type BulkRejectResult struct {
	Rejected int
	NotFound int
}
