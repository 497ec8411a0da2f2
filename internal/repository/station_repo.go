package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/crazysandman/air-quality/internal/models"
	"github.com/crazysandman/air-quality/internal/reconcile"
)

const readingColumns = `
	station_uid, source, station_name, station_url, region,
	aqi, pm25, pm10, no2, o3, co, so2,
	temperature, pressure, humidity, wind_speed,
	latitude, longitude, observed_at, last_update`

// StationRepository persists station readings in the station_data table.
// The geom column is derived from latitude/longitude on every write; it
// never diverges from its source coordinates.
type StationRepository struct {
	db *sql.DB
}

// NewStationRepository returns repository.
func NewStationRepository(db *sql.DB) *StationRepository {
	return &StationRepository{db: db}
}

// FindByNaturalKey returns the persisted row for (uid, source), or nil
// when none exists.
func (r *StationRepository) FindByNaturalKey(ctx context.Context, uid int64, source string) (*models.StationReading, error) {
	query := `SELECT ` + readingColumns + `
		FROM station_data
		WHERE station_uid = $1 AND source = $2`

	row := r.db.QueryRowContext(ctx, query, uid, source)
	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return reading, nil
}

// Upsert inserts or overwrites the row for the reading's natural key,
// recomputing the spatial point from the reading's coordinates.
func (r *StationRepository) Upsert(ctx context.Context, reading *models.StationReading) error {
	const query = `
		INSERT INTO station_data (
			station_uid, source, station_name, station_url, region,
			aqi, pm25, pm10, no2, o3, co, so2,
			temperature, pressure, humidity, wind_speed,
			latitude, longitude, observed_at, last_update, geom
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, NOW(),
			ST_SetSRID(ST_MakePoint($18, $17), 4326)
		)
		ON CONFLICT (station_uid, source) DO UPDATE SET
			station_name = EXCLUDED.station_name,
			station_url = EXCLUDED.station_url,
			region = EXCLUDED.region,
			aqi = EXCLUDED.aqi,
			pm25 = EXCLUDED.pm25,
			pm10 = EXCLUDED.pm10,
			no2 = EXCLUDED.no2,
			o3 = EXCLUDED.o3,
			co = EXCLUDED.co,
			so2 = EXCLUDED.so2,
			temperature = EXCLUDED.temperature,
			pressure = EXCLUDED.pressure,
			humidity = EXCLUDED.humidity,
			wind_speed = EXCLUDED.wind_speed,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			observed_at = EXCLUDED.observed_at,
			last_update = NOW(),
			geom = EXCLUDED.geom
		RETURNING last_update
	`
	err := r.db.QueryRowContext(ctx, query,
		reading.StationUID,
		reading.Source,
		reading.Name,
		nullString(reading.URL),
		reading.Region,
		nullInt(reading.AQI),
		nullFloat(reading.PM25),
		nullFloat(reading.PM10),
		nullFloat(reading.NO2),
		nullFloat(reading.O3),
		nullFloat(reading.CO),
		nullFloat(reading.SO2),
		nullFloat(reading.Weather.Temperature),
		nullFloat(reading.Weather.Pressure),
		nullFloat(reading.Weather.Humidity),
		nullFloat(reading.Weather.WindSpeed),
		reading.Latitude,
		reading.Longitude,
		reading.ObservedAt,
	).Scan(&reading.LastUpdate)
	if err != nil {
		return classify(err)
	}
	return nil
}

// ListLatest returns the current row per station ordered by most recent
// write. limit <= 0 returns everything.
func (r *StationRepository) ListLatest(ctx context.Context, limit int) ([]models.StationReading, error) {
	query := `SELECT ` + readingColumns + `
		FROM station_data
		ORDER BY last_update DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	return collectReadings(rows)
}

// ListByRegion returns current rows for one region, case-insensitively.
func (r *StationRepository) ListByRegion(ctx context.Context, region string) ([]models.StationReading, error) {
	query := `SELECT ` + readingColumns + `
		FROM station_data
		WHERE LOWER(region) = LOWER($1)
		ORDER BY last_update DESC`

	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(region))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	return collectReadings(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row rowScanner) (*models.StationReading, error) {
	var (
		reading                        models.StationReading
		url                            sql.NullString
		aqi                            sql.NullInt64
		pm25, pm10, no2, o3, co, so2   sql.NullFloat64
		temp, pressure, humidity, wind sql.NullFloat64
	)

	err := row.Scan(
		&reading.StationUID,
		&reading.Source,
		&reading.Name,
		&url,
		&reading.Region,
		&aqi,
		&pm25, &pm10, &no2, &o3, &co, &so2,
		&temp, &pressure, &humidity, &wind,
		&reading.Latitude,
		&reading.Longitude,
		&reading.ObservedAt,
		&reading.LastUpdate,
	)
	if err != nil {
		return nil, err
	}

	reading.URL = url.String
	if aqi.Valid {
		v := int(aqi.Int64)
		reading.AQI = &v
	}
	reading.PM25 = floatPtr(pm25)
	reading.PM10 = floatPtr(pm10)
	reading.NO2 = floatPtr(no2)
	reading.O3 = floatPtr(o3)
	reading.CO = floatPtr(co)
	reading.SO2 = floatPtr(so2)
	reading.Weather = models.Weather{
		Temperature: floatPtr(temp),
		Pressure:    floatPtr(pressure),
		Humidity:    floatPtr(humidity),
		WindSpeed:   floatPtr(wind),
	}
	return &reading, nil
}

func collectReadings(rows *sql.Rows) ([]models.StationReading, error) {
	var readings []models.StationReading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, classify(err)
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return readings, nil
}

// classify maps driver errors onto the storage port's error kinds.
// Connection-level failures become ConnectionLost so the reconciler can
// abort the batch; constraint violations stay per-record.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return &reconcile.StorageError{Kind: reconcile.StorageConstraintViolation, Err: err}
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57"):
			return &reconcile.StorageError{Kind: reconcile.StorageConnectionLost, Err: err}
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &reconcile.StorageError{Kind: reconcile.StorageConnectionLost, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return &reconcile.StorageError{Kind: reconcile.StorageConnectionLost, Err: err}
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
