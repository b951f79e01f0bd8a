package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sensor_report_loader/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Window update per dialect. Readings are ordered by (time, id) inside each
// sensor partition so equal timestamps still produce a stable predecessor.
const (
	recomputeFlowSQLite = `UPDATE sensor_data
SET flow_per_hour = CASE
        WHEN w.prev IS NOT NULL AND w.cur IS NOT NULL THEN ROUND(w.cur - w.prev, 2)
        ELSE NULL
    END
FROM (
    SELECT id, water_flow_value AS cur,
           LAG(water_flow_value, 1) OVER (PARTITION BY sensor_id ORDER BY time, id) AS prev
    FROM sensor_data
) AS w
WHERE sensor_data.id = w.id`

	recomputeFlowPostgres = `UPDATE sensor_data AS sd
SET flow_per_hour = CASE
        WHEN w.prev IS NOT NULL AND w.cur IS NOT NULL THEN ROUND(w.cur - w.prev, 2)
        ELSE NULL
    END
FROM (
    SELECT id, water_flow_value AS cur,
           LAG(water_flow_value, 1) OVER (PARTITION BY sensor_id ORDER BY time, id) AS prev
    FROM sensor_data
) AS w
WHERE sd.id = w.id`

	// requires MySQL 8.0+ or MariaDB 10.2+
	recomputeFlowMySQL = `WITH w AS (
    SELECT id, water_flow_value AS cur,
           LAG(water_flow_value, 1) OVER (PARTITION BY sensor_id ORDER BY time, id) AS prev
    FROM sensor_data
)
UPDATE sensor_data sd
JOIN w ON sd.id = w.id
SET sd.flow_per_hour = CASE
        WHEN w.prev IS NOT NULL AND w.cur IS NOT NULL THEN ROUND(w.cur - w.prev, 2)
        ELSE NULL
    END`
)

// Store holds the queries used by ingestion and the query surface. Every
// call is a short autocommit statement; no transaction spans calls.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a connected gorm handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	return nil
}

// IsFileProcessed reports whether fileName is registered in processed_files.
func (s *Store) IsFileProcessed(ctx context.Context, fileName string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.ProcessedFile{}).
		Where("file_name = ?", fileName).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check processed file %s: %w", fileName, err)
	}
	return count > 0, nil
}

// RegisterProcessedFile records fileName. Registering a name twice is not an
// error; inserted is false when the name was already present.
func (s *Store) RegisterProcessedFile(ctx context.Context, fileName string) (inserted bool, err error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "file_name"}}, DoNothing: true}).
		Create(&models.ProcessedFile{FileName: fileName, ProcessedAt: time.Now()})
	if result.Error != nil {
		return false, fmt.Errorf("failed to register processed file %s: %w", fileName, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SensorExists reports whether a sensor id is present in the sensors table.
func (s *Store) SensorExists(ctx context.Context, sensorID int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Sensor{}).
		Where("id = ?", sensorID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up sensor %d: %w", sensorID, err)
	}
	return count > 0, nil
}

// InsertReading appends one reading.
func (s *Store) InsertReading(ctx context.Context, reading *models.SensorReading) error {
	if err := s.db.WithContext(ctx).Create(reading).Error; err != nil {
		return fmt.Errorf("failed to insert reading for sensor %d at %s: %w",
			reading.SensorID, reading.Time.Format(time.DateTime), err)
	}
	return nil
}

// RecomputeFlowPerHour rewrites flow_per_hour for every stored reading and
// returns the number of rows the database reports as updated.
func (s *Store) RecomputeFlowPerHour(ctx context.Context) (int64, error) {
	var query string
	switch name := s.db.Dialector.Name(); name {
	case "mysql":
		query = recomputeFlowMySQL
	case "postgres":
		query = recomputeFlowPostgres
	case "sqlite":
		query = recomputeFlowSQLite
	default:
		return 0, fmt.Errorf("flow_per_hour recomputation unsupported for dialect %s", name)
	}

	result := s.db.WithContext(ctx).Exec(query)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to update flow_per_hour: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ReadingsBySensor returns every reading of a sensor ordered by time.
func (s *Store) ReadingsBySensor(ctx context.Context, sensorID int) ([]models.SensorReading, error) {
	var readings []models.SensorReading
	err := s.db.WithContext(ctx).
		Where("sensor_id = ?", sensorID).
		Order("time ASC").Order("id ASC").
		Find(&readings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query readings for sensor %d: %w", sensorID, err)
	}
	return readings, nil
}

// SeedSensors inserts sensors that are not yet present and returns how many
// were added.
func (s *Store) SeedSensors(ctx context.Context, sensors []models.Sensor) (int64, error) {
	if len(sensors) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&sensors)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to seed sensors: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Stats summarizes stored data for db-info.
type Stats struct {
	Sensors        int64
	Readings       int64
	ProcessedFiles int64
	Earliest       *time.Time
	Latest         *time.Time
}

// Stats counts rows in each table and finds the stored time range.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.Sensor{}).Count(&st.Sensors).Error; err != nil {
		return st, fmt.Errorf("failed to count sensors: %w", err)
	}
	if err := db.Model(&models.SensorReading{}).Count(&st.Readings).Error; err != nil {
		return st, fmt.Errorf("failed to count readings: %w", err)
	}
	if err := db.Model(&models.ProcessedFile{}).Count(&st.ProcessedFiles).Error; err != nil {
		return st, fmt.Errorf("failed to count processed files: %w", err)
	}
	if st.Readings == 0 {
		return st, nil
	}

	var first, last models.SensorReading
	if err := db.Order("time ASC").First(&first).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return st, fmt.Errorf("failed to find earliest reading: %w", err)
	}
	if err := db.Order("time DESC").First(&last).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return st, fmt.Errorf("failed to find latest reading: %w", err)
	}
	st.Earliest, st.Latest = &first.Time, &last.Time

	return st, nil
}
