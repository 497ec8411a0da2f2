package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/crazysandman/air-quality/internal/config"
	"github.com/crazysandman/air-quality/internal/models"
)

// openaqLocationsResponse is the envelope of GET /v2/locations.
type openaqLocationsResponse struct {
	Results []openaqLocation `json:"results"`
}

type openaqLocation struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	City        string `json:"city"`
	Coordinates *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"coordinates"`
	Parameters []openaqParameter `json:"parameters"`
}

type openaqParameter struct {
	Parameter   string   `json:"parameter"`
	LastValue   *float64 `json:"lastValue"`
	LastUpdated string   `json:"lastUpdated"`
	Unit        string   `json:"unit"`
}

// OpenAQSource fetches stations from the OpenAQ locations API within a
// radius around the configured center point. Pollutant values are stored
// as reported (mass concentrations), not rescaled to index values.
type OpenAQSource struct {
	client *resty.Client
	cfg    config.OpenAQConfig
	region string
	logger *zap.Logger
}

// NewOpenAQSource builds the adapter.
func NewOpenAQSource(cfg config.OpenAQConfig, region string, fetchTimeout time.Duration, logger *zap.Logger) *OpenAQSource {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(fetchTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	return &OpenAQSource{client: client, cfg: cfg, region: region, logger: logger}
}

// Name implements Source.
func (s *OpenAQSource) Name() string { return models.SourceOpenAQ }

// Fetch implements Source.
func (s *OpenAQSource) Fetch(ctx context.Context) (FetchResult, error) {
	fetchedAt := time.Now().UTC()

	var envelope openaqLocationsResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"coordinates": fmt.Sprintf("%f,%f", s.cfg.CenterLat, s.cfg.CenterLon),
			"radius":      strconv.Itoa(s.cfg.RadiusMeters),
			"limit":       "100",
		}).
		SetResult(&envelope).
		Get("/v2/locations")
	if err != nil {
		return FetchResult{}, classifyTransport(s.Name(), err)
	}
	if resp.StatusCode() != 200 {
		return FetchResult{}, classifyStatus(s.Name(), resp.StatusCode())
	}

	var result FetchResult
	for _, loc := range envelope.Results {
		if loc.ID <= 0 || loc.Coordinates == nil {
			result.SkippedMalformed++
			continue
		}

		reading := models.StationReading{
			StationUID: loc.ID,
			Source:     s.Name(),
			Name:       loc.Name,
			Region:     s.region,
			Latitude:   loc.Coordinates.Latitude,
			Longitude:  loc.Coordinates.Longitude,
			ObservedAt: fetchedAt,
		}

		observed := time.Time{}
		for _, p := range loc.Parameters {
			if p.LastValue == nil {
				continue
			}
			v := *p.LastValue
			switch p.Parameter {
			case "pm25":
				reading.PM25 = &v
			case "pm10":
				reading.PM10 = &v
			case "no2":
				reading.NO2 = &v
			case "o3":
				reading.O3 = &v
			case "co":
				reading.CO = &v
			case "so2":
				reading.SO2 = &v
			}
			if ts, err := time.Parse(time.RFC3339, p.LastUpdated); err == nil && ts.After(observed) {
				observed = ts
			}
		}
		if !observed.IsZero() {
			reading.ObservedAt = observed.UTC()
		}

		result.Readings = append(result.Readings, reading)
	}

	return result, nil
}
