package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crazysandman/air-quality/internal/models"
)

const keyPrefix = "airquality:stations:"

// LatestStore caches station listings in redis so the read endpoints do
// not hit Postgres on every map refresh. Entries expire on their own TTL
// and are dropped after each run that wrote rows.
type LatestStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLatestStore returns a redis-backed listing cache.
func NewLatestStore(client *redis.Client, ttl time.Duration) *LatestStore {
	return &LatestStore{client: client, ttl: ttl}
}

func listingKey(region string) string {
	if region == "" {
		return keyPrefix + "latest"
	}
	return keyPrefix + "region:" + strings.ToLower(region)
}

// Get returns the cached listing for a region ("" means the global
// listing) and whether it was present.
func (s *LatestStore) Get(ctx context.Context, region string) ([]models.StationReading, bool, error) {
	raw, err := s.client.Get(ctx, listingKey(region)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var stations []models.StationReading
	if err := json.Unmarshal([]byte(raw), &stations); err != nil {
		return nil, false, fmt.Errorf("cache: decode listing: %w", err)
	}
	return stations, true, nil
}

// Save caches a listing.
func (s *LatestStore) Save(ctx context.Context, region string, stations []models.StationReading) error {
	data, err := json.Marshal(stations)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, listingKey(region), data, s.ttl).Err()
}

// Invalidate drops every cached listing.
func (s *LatestStore) Invalidate(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
