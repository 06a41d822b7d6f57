package models

import (
	"time"

	"github.com/google/uuid"
)

// RoundingMethod selects how computed durations are snapped to the
// company's rounding interval.
type RoundingMethod string

const (
	RoundNone    RoundingMethod = "NONE"
	RoundUp      RoundingMethod = "UP"
	RoundDown    RoundingMethod = "DOWN"
	RoundNearest RoundingMethod = "NEAREST"
)

// CompanySettings holds the per-tenant policy fields the time tracking
// core reads: rounding, overlap and locking policy plus the default
// hourly rate applied to billable entries without an explicit rate.
type CompanySettings struct {
	CompanyID               uuid.UUID      `gorm:"type:uuid;primaryKey"`
	RoundingMethod          RoundingMethod `gorm:"size:10;not null;default:NONE"`
	RoundingIntervalMinutes int            `gorm:"not null;default:0"`
	AllowOverlappingEntries bool           `gorm:"not null;default:true"`
	// LockEntriesAfterDays enables the implicit age lock; zero disables it.
	LockEntriesAfterDays int `gorm:"not null;default:0"`
	DefaultHourlyRate    *float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultSettings returns the policy applied to companies that have
// not stored an explicit settings row.
func DefaultSettings(companyID uuid.UUID) *CompanySettings {
	return &CompanySettings{
		CompanyID:               companyID,
		RoundingMethod:          RoundNone,
		RoundingIntervalMinutes: 0,
		AllowOverlappingEntries: true,
		LockEntriesAfterDays:    0,
	}
}
