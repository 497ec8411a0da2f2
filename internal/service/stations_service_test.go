package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crazysandman/air-quality/internal/models"
)

type fakeStore struct {
	latest      []models.StationReading
	byRegion    map[string][]models.StationReading
	err         error
	latestCalls int
}

func (f *fakeStore) ListLatest(_ context.Context, limit int) ([]models.StationReading, error) {
	f.latestCalls++
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.latest) {
		return f.latest[:limit], nil
	}
	return f.latest, nil
}

func (f *fakeStore) ListByRegion(_ context.Context, region string) ([]models.StationReading, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byRegion[region], nil
}

func station(uid int64) models.StationReading {
	return models.StationReading{
		StationUID: uid,
		Source:     models.SourceWAQI,
		Region:     "Berlin",
		Latitude:   52.5,
		Longitude:  13.4,
		ObservedAt: time.Now().UTC(),
	}
}

func TestGetLatestWithoutCache(t *testing.T) {
	store := &fakeStore{latest: []models.StationReading{station(1), station(2), station(3)}}
	svc := NewStationsService(store, nil, zap.NewNop())

	stations, err := svc.GetLatest(context.Background(), 0)

	require.NoError(t, err)
	assert.Len(t, stations, 3)
}

func TestGetLatestAppliesLimit(t *testing.T) {
	store := &fakeStore{latest: []models.StationReading{station(1), station(2), station(3)}}
	svc := NewStationsService(store, nil, zap.NewNop())

	stations, err := svc.GetLatest(context.Background(), 2)

	require.NoError(t, err)
	assert.Len(t, stations, 2)
	assert.Equal(t, int64(1), stations[0].StationUID)
}

func TestGetLatestPropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	svc := NewStationsService(store, nil, zap.NewNop())

	_, err := svc.GetLatest(context.Background(), 0)

	assert.Error(t, err)
}

func TestGetByRegion(t *testing.T) {
	store := &fakeStore{byRegion: map[string][]models.StationReading{
		"Berlin": {station(1), station(2)},
	}}
	svc := NewStationsService(store, nil, zap.NewNop())

	stations, err := svc.GetByRegion(context.Background(), "Berlin")

	require.NoError(t, err)
	assert.Len(t, stations, 2)
}

func TestInvalidateCacheWithoutCacheIsNoop(t *testing.T) {
	svc := NewStationsService(&fakeStore{}, nil, zap.NewNop())
	svc.InvalidateCache(context.Background())
}
