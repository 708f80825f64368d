package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trading-arena/internal/cache"
	"github.com/trading-arena/internal/config"
	apperrors "github.com/trading-arena/internal/errors"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/storage"
)

// ConstraintStore persists per-competition trading constraints
type ConstraintStore interface {
	GetConstraints(ctx context.Context, competitionID string) (*models.TradingConstraints, error)
	UpsertConstraints(ctx context.Context, tc *models.TradingConstraints) error
}

// ConstraintProvider serves trading constraints from cache, then the store, then system defaults
type ConstraintProvider struct {
	store    ConstraintStore
	cached   *cache.ReadThrough[*models.TradingConstraints]
	defaults config.TradingConstraintDefaults
}

// NewConstraintProvider creates a constraint provider caching entries for ttl
func NewConstraintProvider(store ConstraintStore, c cache.Cache, ttl time.Duration, defaults config.TradingConstraintDefaults) *ConstraintProvider {
	return &ConstraintProvider{
		store:    store,
		cached:   cache.NewReadThrough[*models.TradingConstraints](c, ttl),
		defaults: defaults,
	}
}

// Defaults returns the system-wide constraints for competitionID
func (p *ConstraintProvider) Defaults(competitionID string) *models.TradingConstraints {
	return &models.TradingConstraints{
		CompetitionID:       competitionID,
		MinimumPairAgeHours: p.defaults.MinimumPairAgeHours,
		Minimum24hVolumeUsd: p.defaults.Minimum24hVolumeUsd,
		MinimumLiquidityUsd: p.defaults.MinimumLiquidityUsd,
		MinimumFdvUsd:       p.defaults.MinimumFdvUsd,
	}
}

// GetConstraints returns the constraints of a competition, falling back to the defaults
// when none were configured
func (p *ConstraintProvider) GetConstraints(ctx context.Context, competitionID string) (*models.TradingConstraints, error) {
	return p.cached.Get(ctx, cache.Key(cache.KeyConstraints, competitionID), func(ctx context.Context) (*models.TradingConstraints, error) {
		tc, err := p.store.GetConstraints(ctx, competitionID)
		if errors.Is(err, storage.ErrNotFound) {
			return p.Defaults(competitionID), nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load trading constraints: %w", err)
		}
		return tc, nil
	})
}

// Upsert stores constraints and drops the cached copy
func (p *ConstraintProvider) Upsert(ctx context.Context, tc *models.TradingConstraints) error {
	if err := validateConstraints(tc); err != nil {
		return err
	}
	if err := p.store.UpsertConstraints(ctx, tc); err != nil {
		return err
	}
	return p.Invalidate(ctx, tc.CompetitionID)
}

// Ensure materializes the constraints of a competition: override replaces them when set,
// otherwise stored constraints are kept and missing ones are created from the defaults
func (p *ConstraintProvider) Ensure(ctx context.Context, competitionID string, override *models.TradingConstraints) (*models.TradingConstraints, error) {
	if override != nil {
		tc := *override
		tc.CompetitionID = competitionID
		if err := p.Upsert(ctx, &tc); err != nil {
			return nil, err
		}
		return &tc, nil
	}

	tc, err := p.store.GetConstraints(ctx, competitionID)
	if err == nil {
		return tc, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load trading constraints: %w", err)
	}
	tc = p.Defaults(competitionID)
	if err := p.Upsert(ctx, tc); err != nil {
		return nil, err
	}
	return tc, nil
}

// Invalidate drops the cached constraints of a competition
func (p *ConstraintProvider) Invalidate(ctx context.Context, competitionID string) error {
	return p.cached.Invalidate(ctx, cache.Key(cache.KeyConstraints, competitionID))
}

func validateConstraints(tc *models.TradingConstraints) error {
	if tc == nil || tc.CompetitionID == "" {
		return apperrors.NewValidationError("competitionId", "required")
	}
	checks := []struct {
		field string
		value float64
	}{
		{"minimumPairAgeHours", tc.MinimumPairAgeHours},
		{"minimum24hVolumeUsd", tc.Minimum24hVolumeUsd},
		{"minimumLiquidityUsd", tc.MinimumLiquidityUsd},
		{"minimumFdvUsd", tc.MinimumFdvUsd},
	}
	for _, c := range checks {
		if c.value < 0 {
			return apperrors.NewValidationError(c.field, "must not be negative")
		}
	}
	return nil
}
