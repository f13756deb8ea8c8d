package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scmxpert/scmxpertlite/internal/model"
)

const deviceReadingColumns = `id, device_id, battery_level, first_sensor_temperature, route_from, route_to, reading_ts, created_by, created_at`

// PostgresDeviceReadingRepo はPostgreSQLを使用したデバイステレメトリリポジトリ。
type PostgresDeviceReadingRepo struct {
	db *sql.DB
}

// NewPostgresDeviceReadingRepo はPostgresDeviceReadingRepoを生成する。
func NewPostgresDeviceReadingRepo(db *sql.DB) *PostgresDeviceReadingRepo {
	return &PostgresDeviceReadingRepo{db: db}
}

// Create はテレメトリを1件保存する。
func (r *PostgresDeviceReadingRepo) Create(ctx context.Context, d *model.DeviceReading) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_readings (`+deviceReadingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.DeviceID, d.BatteryLevel, d.FirstSensorTemperature,
		d.RouteFrom, d.RouteTo, d.Timestamp, d.CreatedBy, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert device reading: %w", err)
	}
	return nil
}

// ListDeviceIDs はテレメトリが存在するデバイスIDの一覧を昇順で返す。
func (r *PostgresDeviceReadingRepo) ListDeviceIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT device_id FROM device_readings ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list device IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device IDs: %w", err)
	}
	return ids, nil
}

// ListRecent は最新のテレメトリをlimit件返す。
func (r *PostgresDeviceReadingRepo) ListRecent(ctx context.Context, limit int) ([]*model.DeviceReading, error) {
	return r.query(ctx,
		`SELECT `+deviceReadingColumns+` FROM device_readings ORDER BY created_at DESC LIMIT $1`,
		limit)
}

// ListByDevice は指定デバイスのテレメトリを返す。
func (r *PostgresDeviceReadingRepo) ListByDevice(ctx context.Context, deviceID string) ([]*model.DeviceReading, error) {
	return r.query(ctx,
		`SELECT `+deviceReadingColumns+` FROM device_readings WHERE device_id = $1 ORDER BY created_at DESC`,
		deviceID)
}

func (r *PostgresDeviceReadingRepo) query(ctx context.Context, query string, args ...any) ([]*model.DeviceReading, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list device readings: %w", err)
	}
	defer rows.Close()

	var readings []*model.DeviceReading
	for rows.Next() {
		d := &model.DeviceReading{}
		if err := rows.Scan(&d.ID, &d.DeviceID, &d.BatteryLevel, &d.FirstSensorTemperature,
			&d.RouteFrom, &d.RouteTo, &d.Timestamp, &d.CreatedBy, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device reading: %w", err)
		}
		readings = append(readings, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device readings: %w", err)
	}
	return readings, nil
}

// compile-time interface check
var _ DeviceReadingRepository = (*PostgresDeviceReadingRepo)(nil)
