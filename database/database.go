package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sensor_report_loader/config"
	"sensor_report_loader/logger"
	"sensor_report_loader/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrConnectivity marks a store that could not be reached. It is the only
// failure that aborts a whole ingestion batch.
var ErrConnectivity = errors.New("database unreachable")

// DB is the connection opened by the last Connect. Close releases it.
var DB *gorm.DB

func dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.Database.Driver {
	case "mysql":
		return mysql.Open(cfg.GetDSN()), nil
	case "postgres":
		return postgres.Open(cfg.GetDSN()), nil
	case "sqlite":
		return sqlite.Open(cfg.GetDSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// Connect opens the report store and checks it answers.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logger.GormLevel()),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectivity, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	applyPool(sqlDB, cfg.Database.Driver, cfg.Database.ConnectionPool)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("%w: failed to ping database: %w", ErrConnectivity, err)
	}

	DB = db
	return db, nil
}

// applyPool sizes the pool. The store has a single writer; a SQLite file
// gets exactly one connection and readers queue behind it.
func applyPool(sqlDB *sql.DB, driver string, pool config.PoolConfig) {
	maxOpen, maxIdle := pool.MaxOpenConns, pool.MaxIdleConns
	if driver == "sqlite" {
		maxOpen, maxIdle = 1, 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetime) * time.Second)
}

// Close closes the connection opened by Connect.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	DB = nil
	return sqlDB.Close()
}

// MissingTables lists model tables absent from the connected database.
// An empty result means migrations have been applied.
func MissingTables(db *gorm.DB) []string {
	var missing []string
	for _, model := range models.GetAllModels() {
		if db.Migrator().HasTable(model) {
			continue
		}
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err == nil {
			missing = append(missing, stmt.Schema.Table)
		} else {
			missing = append(missing, fmt.Sprintf("%T", model))
		}
	}
	return missing
}

// PoolInfo is a snapshot of the connection pool.
type PoolInfo struct {
	MaxOpen int `json:"max_open_connections"`
	Open    int `json:"open_connections"`
	InUse   int `json:"in_use"`
	Idle    int `json:"idle"`
}

// ConnectionInfo describes where the report store lives and whether it
// answered.
type ConnectionInfo struct {
	Driver    string    `json:"driver"`
	Connected bool      `json:"connected"`
	Host      string    `json:"host,omitempty"`
	Port      int       `json:"port,omitempty"`
	Database  string    `json:"database,omitempty"`
	Path      string    `json:"path,omitempty"`
	Pool      *PoolInfo `json:"pool,omitempty"`
}

// Describe reports the configured endpoint and, when db is open and
// reachable, its pool.
func Describe(ctx context.Context, db *gorm.DB, cfg *config.Config) ConnectionInfo {
	info := ConnectionInfo{Driver: cfg.Database.Driver}

	switch cfg.Database.Driver {
	case "mysql":
		info.Host = cfg.Database.MySQL.Host
		info.Port = cfg.Database.MySQL.Port
		info.Database = cfg.Database.MySQL.DBName
	case "postgres":
		info.Host = cfg.Database.PostgreSQL.Host
		info.Port = cfg.Database.PostgreSQL.Port
		info.Database = cfg.Database.PostgreSQL.DBName
	case "sqlite":
		info.Path = cfg.Database.SQLite.Path
	}

	if db == nil {
		return info
	}
	sqlDB, err := db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		return info
	}

	stats := sqlDB.Stats()
	info.Connected = true
	info.Pool = &PoolInfo{
		MaxOpen: stats.MaxOpenConnections,
		Open:    stats.OpenConnections,
		InUse:   stats.InUse,
		Idle:    stats.Idle,
	}
	return info
}
