package source

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/crazysandman/air-quality/internal/config"
	"github.com/crazysandman/air-quality/internal/models"
)

const waqiTimeLayout = "2006-01-02 15:04:05"

// waqiBoundsResponse is the envelope of GET /map/bounds/.
type waqiBoundsResponse struct {
	Status string             `json:"status"`
	Data   []waqiBoundStation `json:"data"`
}

type waqiBoundStation struct {
	UID     int64   `json:"uid"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	AQI     string  `json:"aqi"`
	Station struct {
		Name string `json:"name"`
		Time string `json:"time"`
	} `json:"station"`
}

// waqiFeedResponse is the envelope of GET /feed/@{uid}/.
type waqiFeedResponse struct {
	Status string       `json:"status"`
	Data   waqiFeedData `json:"data"`
}

type waqiIndexValue struct {
	V float64 `json:"v"`
}

type waqiFeedData struct {
	AQI  interface{} `json:"aqi"`
	City struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"city"`
	IAQI map[string]waqiIndexValue `json:"iaqi"`
	Time struct {
		S   string `json:"s"`
		ISO string `json:"iso"`
	} `json:"time"`
}

// WAQISource fetches stations from the World Air Quality Index API.
// It lists stations inside the configured bounding box, then enriches
// each one from its feed endpoint (pollutants and weather live there,
// the bounds payload only carries the aggregate AQI).
type WAQISource struct {
	client *resty.Client
	token  string
	bounds config.Bounds
	region string
	logger *zap.Logger
}

// NewWAQISource builds the adapter. fetchTimeout bounds the whole Fetch
// call including the per-station detail requests.
func NewWAQISource(cfg config.WAQIConfig, region string, fetchTimeout time.Duration, logger *zap.Logger) *WAQISource {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(fetchTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &WAQISource{
		client: client,
		token:  cfg.Token,
		bounds: cfg.Bounds,
		region: region,
		logger: logger,
	}
}

// Name implements Source.
func (s *WAQISource) Name() string { return models.SourceWAQI }

// Fetch implements Source.
func (s *WAQISource) Fetch(ctx context.Context) (FetchResult, error) {
	fetchedAt := time.Now().UTC()

	var envelope waqiBoundsResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latlng": fmt.Sprintf("%f,%f,%f,%f", s.bounds.MinLat, s.bounds.MinLon, s.bounds.MaxLat, s.bounds.MaxLon),
			"token":  s.token,
		}).
		SetResult(&envelope).
		Get("/map/bounds/")
	if err != nil {
		return FetchResult{}, classifyTransport(s.Name(), err)
	}
	if resp.StatusCode() != 200 {
		return FetchResult{}, classifyStatus(s.Name(), resp.StatusCode())
	}
	if envelope.Status != "ok" {
		return FetchResult{}, &Error{Source: s.Name(), Kind: KindInvalidResponse, Err: fmt.Errorf("api status %q", envelope.Status)}
	}

	var result FetchResult
	for _, st := range envelope.Data {
		if st.UID <= 0 {
			result.SkippedMalformed++
			continue
		}

		reading := models.StationReading{
			StationUID: st.UID,
			Source:     s.Name(),
			Name:       st.Station.Name,
			Region:     s.region,
			Latitude:   st.Lat,
			Longitude:  st.Lon,
			AQI:        parseAQI(st.AQI),
			ObservedAt: fetchedAt,
		}
		if ts, ok := parseWAQITime(st.Station.Time, ""); ok {
			reading.ObservedAt = ts
		}

		// Detail fetch failures fall back to the bounds-only reading;
		// a degraded station is not a malformed one.
		if err := s.enrich(ctx, &reading); err != nil {
			s.logger.Debug("waqi detail fetch failed, using bounds data",
				zap.Int64("uid", st.UID), zap.Error(err))
		}

		result.Readings = append(result.Readings, reading)
	}

	return result, nil
}

func (s *WAQISource) enrich(ctx context.Context, reading *models.StationReading) error {
	var envelope waqiFeedResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("token", s.token).
		SetResult(&envelope).
		Get(fmt.Sprintf("/feed/@%d/", reading.StationUID))
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 || envelope.Status != "ok" {
		return fmt.Errorf("feed status %d/%s", resp.StatusCode(), envelope.Status)
	}

	data := envelope.Data
	if data.City.Name != "" {
		reading.Name = data.City.Name
	}
	reading.URL = data.City.URL
	if aqi := parseAQI(data.AQI); aqi != nil {
		reading.AQI = aqi
	}

	reading.PM25 = iaqiValue(data.IAQI, "pm25")
	reading.PM10 = iaqiValue(data.IAQI, "pm10")
	reading.NO2 = iaqiValue(data.IAQI, "no2")
	reading.O3 = iaqiValue(data.IAQI, "o3")
	reading.CO = iaqiValue(data.IAQI, "co")
	reading.SO2 = iaqiValue(data.IAQI, "so2")

	reading.Weather = models.Weather{
		Temperature: iaqiValue(data.IAQI, "t"),
		Pressure:    iaqiValue(data.IAQI, "p"),
		Humidity:    iaqiValue(data.IAQI, "h"),
		WindSpeed:   iaqiValue(data.IAQI, "w"),
	}

	if ts, ok := parseWAQITime(data.Time.S, data.Time.ISO); ok {
		reading.ObservedAt = ts
	}
	return nil
}

func iaqiValue(iaqi map[string]waqiIndexValue, key string) *float64 {
	entry, ok := iaqi[key]
	if !ok {
		return nil
	}
	v := entry.V
	return &v
}

// parseAQI handles WAQI's loose aqi field: numeric in feed payloads,
// string in bounds payloads, "-" when the station reports nothing.
func parseAQI(raw interface{}) *int {
	switch v := raw.(type) {
	case float64:
		aqi := int(v)
		return &aqi
	case string:
		var aqi int
		if _, err := fmt.Sscanf(v, "%d", &aqi); err != nil {
			return nil
		}
		return &aqi
	default:
		return nil
	}
}

func parseWAQITime(s, iso string) (time.Time, bool) {
	if iso != "" {
		if ts, err := time.Parse(time.RFC3339, iso); err == nil {
			return ts.UTC(), true
		}
	}
	if s != "" {
		if ts, err := time.Parse(waqiTimeLayout, s); err == nil {
			return ts.UTC(), true
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
