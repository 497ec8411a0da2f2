package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crazysandman/air-quality/internal/config"
	"github.com/crazysandman/air-quality/internal/models"
)

const waqiBoundsBody = `{
	"status": "ok",
	"data": [
		{"uid": 10032, "lat": 52.47, "lon": 13.43, "aqi": "21", "station": {"name": "Berlin Neukölln", "time": "2025-06-01T10:00:00+02:00"}},
		{"uid": 0, "lat": 52.5, "lon": 13.4, "aqi": "17", "station": {"name": "broken entry"}},
		{"uid": 10042, "lat": 52.54, "lon": 13.35, "aqi": "-", "station": {"name": "Berlin Wedding", "time": "2025-06-01T10:00:00+02:00"}}
	]
}`

const waqiFeedBody = `{
	"status": "ok",
	"data": {
		"aqi": 21,
		"city": {"name": "Berlin Neukölln Nansenstraße", "url": "https://aqicn.org/city/germany/berlin/neukoelln-nansenstrasse"},
		"iaqi": {
			"pm25": {"v": 21},
			"pm10": {"v": 12},
			"no2": {"v": 8.4},
			"t": {"v": 18.5},
			"h": {"v": 61}
		},
		"time": {"s": "2025-06-01 10:00:00", "iso": "2025-06-01T10:00:00+02:00"}
	}
}`

func waqiTestSource(t *testing.T, handler http.Handler, timeout time.Duration) *WAQISource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.WAQIConfig{
		Token:   "test-token",
		BaseURL: srv.URL,
		Bounds:  config.Bounds{MinLat: 52.35, MinLon: 13.10, MaxLat: 52.65, MaxLon: 13.70},
	}
	return NewWAQISource(cfg, "Berlin", timeout, zap.NewNop())
}

func TestWAQIFetchNormalizesStations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/map/bounds/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.URL.Query().Get("token"))
		assert.Contains(t, r.URL.Query().Get("latlng"), "52.35")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, waqiBoundsBody)
	})
	mux.HandleFunc("/feed/@10032/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, waqiFeedBody)
	})
	mux.HandleFunc("/feed/@10042/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status": "error", "data": "Unknown station"}`)
	})

	src := waqiTestSource(t, mux, 5*time.Second)
	result, err := src.Fetch(context.Background())

	require.NoError(t, err)
	require.Len(t, result.Readings, 2)
	assert.Equal(t, 1, result.SkippedMalformed, "entry without uid is counted, not fatal")

	detailed := result.Readings[0]
	assert.Equal(t, int64(10032), detailed.StationUID)
	assert.Equal(t, models.SourceWAQI, detailed.Source)
	assert.Equal(t, "Berlin Neukölln Nansenstraße", detailed.Name)
	assert.Equal(t, "Berlin", detailed.Region)
	assert.InDelta(t, 52.47, detailed.Latitude, 0.001)
	require.NotNil(t, detailed.AQI)
	assert.Equal(t, 21, *detailed.AQI)
	require.NotNil(t, detailed.PM25)
	assert.Equal(t, 21.0, *detailed.PM25)
	require.NotNil(t, detailed.Weather.Temperature)
	assert.Equal(t, 18.5, *detailed.Weather.Temperature)
	assert.Nil(t, detailed.O3)
	assert.Equal(t, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), detailed.ObservedAt)

	// Feed failure degrades to the bounds-only reading.
	fallback := result.Readings[1]
	assert.Equal(t, int64(10042), fallback.StationUID)
	assert.Equal(t, "Berlin Wedding", fallback.Name)
	assert.Nil(t, fallback.AQI, `aqi "-" means no value`)
	assert.Nil(t, fallback.PM25)
}

func TestWAQIFetchTimeout(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	})
	src := waqiTestSource(t, handler, 30*time.Millisecond)

	_, err := src.Fetch(context.Background())

	require.Error(t, err)
	assert.True(t, IsTimeout(err), "expected timeout kind, got %v", err)
}

func TestWAQIFetchAuthFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	src := waqiTestSource(t, handler, time.Second)

	_, err := src.Fetch(context.Background())

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindAuthFailure, se.Kind)
}

func TestWAQIFetchErrorEnvelope(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status": "error", "data": "Invalid key"}`)
	})
	src := waqiTestSource(t, handler, time.Second)

	_, err := src.Fetch(context.Background())

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindInvalidResponse, se.Kind)
}
