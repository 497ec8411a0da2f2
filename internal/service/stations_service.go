package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/crazysandman/air-quality/internal/cache"
	"github.com/crazysandman/air-quality/internal/models"
)

// StationStore is the read side of the station repository.
type StationStore interface {
	ListLatest(ctx context.Context, limit int) ([]models.StationReading, error)
	ListByRegion(ctx context.Context, region string) ([]models.StationReading, error)
}

// StationsService serves persisted station state to the HTTP layer. The
// redis cache is optional; with no cache (or a failing one) every read
// falls through to Postgres, so a stale or broken cache never fails a
// request.
type StationsService struct {
	store  StationStore
	cache  *cache.LatestStore
	logger *zap.Logger
}

// NewStationsService builds the read-path service.
func NewStationsService(store StationStore, listingCache *cache.LatestStore, logger *zap.Logger) *StationsService {
	return &StationsService{store: store, cache: listingCache, logger: logger}
}

// GetLatest returns the current row per station, most recently written
// first. limit <= 0 returns everything.
func (s *StationsService) GetLatest(ctx context.Context, limit int) ([]models.StationReading, error) {
	stations, err := s.cachedListing(ctx, "", func() ([]models.StationReading, error) {
		return s.store.ListLatest(ctx, 0)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(stations) {
		stations = stations[:limit]
	}
	return stations, nil
}

// GetByRegion returns current rows for one region.
func (s *StationsService) GetByRegion(ctx context.Context, region string) ([]models.StationReading, error) {
	return s.cachedListing(ctx, region, func() ([]models.StationReading, error) {
		return s.store.ListByRegion(ctx, region)
	})
}

// InvalidateCache drops cached listings after a run wrote rows.
func (s *StationsService) InvalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("failed to invalidate station cache", zap.Error(err))
	}
}

func (s *StationsService) cachedListing(ctx context.Context, region string, fetch func() ([]models.StationReading, error)) ([]models.StationReading, error) {
	if s.cache != nil {
		stations, hit, err := s.cache.Get(ctx, region)
		if err != nil {
			s.logger.Warn("station cache read failed", zap.Error(err))
		} else if hit {
			return stations, nil
		}
	}

	stations, err := fetch()
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Save(ctx, region, stations); err != nil {
			s.logger.Warn("station cache write failed", zap.Error(err))
		}
	}
	return stations, nil
}
