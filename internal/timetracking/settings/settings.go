// Package settings serves per-company time tracking policy through a
// TTL-bounded cache. Settings are read on nearly every mutation of a
// time entry and written rarely, so reads are served from a process-
// local LRU and writes invalidate the tenant's cache entry
// synchronously.
//
// The cache is process-local: in a multi-instance deployment other
// instances keep serving the previous policy until their TTL expires.
// That staleness window is bounded by the configured TTL and accepted
// as a known limitation.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	e "github.com/rachuba/backoffice/internal/timetracking/errors"
	"github.com/rachuba/backoffice/internal/timetracking/models"
	"go.uber.org/zap"
)

const cacheSize = 1024

// Provider is the read side consumed by the time entry service.
type Provider interface {
	Get(ctx context.Context, companyID uuid.UUID) (*models.CompanySettings, error)
	Invalidate(companyID uuid.UUID)
}

// Store is the persistence interface the service reads through on a
// cache miss.
type Store interface {
	GetSettings(ctx context.Context, companyID uuid.UUID) (*models.CompanySettings, error)
	SaveSettings(ctx context.Context, settings *models.CompanySettings) error
}

// Service caches company settings in front of a Store.
type Service struct {
	store  Store
	cache  *expirable.LRU[uuid.UUID, *models.CompanySettings]
	logger *zap.Logger
}

func NewService(store Store, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		cache:  expirable.NewLRU[uuid.UUID, *models.CompanySettings](cacheSize, nil, ttl),
		logger: logger.Named("settings"),
	}
}

// Get returns the company's settings, falling back to defaults when no
// row has been stored yet.
func (s *Service) Get(ctx context.Context, companyID uuid.UUID) (*models.CompanySettings, error) {
	if cached, ok := s.cache.Get(companyID); ok {
		return cached, nil
	}

	stored, err := s.store.GetSettings(ctx, companyID)
	if err != nil {
		if errors.Is(err, e.ErrNotFound) {
			stored = models.DefaultSettings(companyID)
		} else {
			return nil, fmt.Errorf("failed to load company settings: %w", err)
		}
	}

	s.cache.Add(companyID, stored)
	return stored, nil
}

// Update persists new settings and drops the tenant's cache entry so
// the next read in this process observes the new policy immediately.
func (s *Service) Update(ctx context.Context, settings *models.CompanySettings) error {
	if settings.CompanyID == uuid.Nil {
		return fmt.Errorf("%w: missing company ID", e.ErrInvalidInput)
	}
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to save company settings: %w", err)
	}
	s.cache.Remove(settings.CompanyID)
	s.logger.Info("company settings updated",
		zap.String("company_id", settings.CompanyID.String()),
	)
	return nil
}

func (s *Service) Invalidate(companyID uuid.UUID) {
	s.cache.Remove(companyID)
}
