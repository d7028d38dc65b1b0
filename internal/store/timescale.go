package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/fuel-analytics/internal/config"
	"fleet-monitor/fuel-analytics/internal/domain"
)

// TimescaleStore persists processed readings and confirmed fuel activities,
// and serves the history used to rebuild sensor windows on warm start.
type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var readingColumns = []string{
	"timestamp",
	"received_at",
	"device_id",
	"sensor_id",
	"latitude",
	"longitude",
	"raw_points",
	"fuel_level",
	"event_code",
}

// BatchInsertReadings copies one batch of readings into the hypertable.
// FuelLevel stays NULL for readings that skipped calibration, so the raw
// trail is kept even when processing could not attach a level.
func (s *TimescaleStore) BatchInsertReadings(ctx context.Context, readings []*domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(readings))
	for i, r := range readings {
		rows[i] = []interface{}{
			r.Timestamp,
			r.ReceivedAt,
			r.DeviceID,
			r.SensorID,
			r.Latitude,
			r.Longitude,
			r.RawPoints,
			r.FuelLevel,
			r.EventCode,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"fuel_readings"},
		readingColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(readings), err)
	}

	return nil
}

// ReadingsInRange returns one device's processed readings with timestamps in
// (from, to], ordered by device time. Only rows that carry a fuel level are
// returned: those are the ones the engine can seed a window from.
func (s *TimescaleStore) ReadingsInRange(ctx context.Context, deviceID string, from, to time.Time) ([]*domain.Reading, error) {
	query := `
		SELECT timestamp, received_at, device_id, sensor_id,
		       latitude, longitude, raw_points, fuel_level, event_code
		FROM fuel_readings
		WHERE device_id = $1
		  AND timestamp > $2
		  AND timestamp <= $3
		  AND fuel_level IS NOT NULL
		ORDER BY timestamp ASC
	`
	rows, err := s.pool.Query(ctx, query, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("readings query for %s failed: %w", deviceID, err)
	}
	defer rows.Close()

	var readings []*domain.Reading
	for rows.Next() {
		r := &domain.Reading{}
		err := rows.Scan(
			&r.Timestamp,
			&r.ReceivedAt,
			&r.DeviceID,
			&r.SensorID,
			&r.Latitude,
			&r.Longitude,
			&r.RawPoints,
			&r.FuelLevel,
			&r.EventCode,
		)
		if err != nil {
			return nil, fmt.Errorf("readings scan for %s failed: %w", deviceID, err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("readings rows for %s failed: %w", deviceID, err)
	}

	return readings, nil
}

// ActiveDevices lists devices that persisted at least one reading since the
// cutoff. Warm start replays exactly these devices.
func (s *TimescaleStore) ActiveDevices(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT device_id FROM fuel_readings WHERE timestamp > $1`, since)
	if err != nil {
		return nil, fmt.Errorf("active devices query failed: %w", err)
	}
	defer rows.Close()

	var devices []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("active devices scan failed: %w", err)
		}
		devices = append(devices, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("active devices rows failed: %w", err)
	}

	return devices, nil
}

// InsertActivity records one confirmed fill or drain. Re-delivery of the
// same activity id is a no-op.
func (s *TimescaleStore) InsertActivity(ctx context.Context, a *domain.FuelActivity) error {
	query := `
		INSERT INTO fuel_activities
			(id, device_id, sensor_id, activity_type, volume_litres,
			 start_time, end_time,
			 start_latitude, start_longitude, end_latitude, end_longitude,
			 detected_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		a.ID,
		a.DeviceID,
		a.SensorID,
		string(a.Type),
		a.Volume,
		a.StartTime,
		a.EndTime,
		a.StartLatitude,
		a.StartLongitude,
		a.EndLatitude,
		a.EndLongitude,
		a.DetectedAt,
	)
	return err
}
