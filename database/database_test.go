package database

import (
	"context"
	"testing"

	"sensor_report_loader/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_SQLiteKeepsOneConnection(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.ConnectionPool = config.PoolConfig{MaxIdleConns: 5, MaxOpenConns: 10}

	db, err := Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close() })

	info := Describe(context.Background(), db, cfg)
	assert.True(t, info.Connected)
	assert.Equal(t, cfg.Database.SQLite.Path, info.Path)
	require.NotNil(t, info.Pool)
	assert.Equal(t, 1, info.Pool.MaxOpen)
}

func TestApplyPool_ServerDriversUseConfiguredSize(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	applyPool(sqlDB, "postgres", config.PoolConfig{MaxIdleConns: 2, MaxOpenConns: 8, ConnMaxLifetime: 60})
	assert.Equal(t, 8, sqlDB.Stats().MaxOpenConnections)
}

func TestDescribe_WithoutConnection(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver: "mysql",
		MySQL:  config.MySQLConfig{Host: "db.local", Port: 3306, DBName: "marina"},
	}}

	info := Describe(context.Background(), nil, cfg)
	assert.False(t, info.Connected)
	assert.Nil(t, info.Pool)
	assert.Equal(t, "db.local", info.Host)
	assert.Equal(t, 3306, info.Port)
	assert.Equal(t, "marina", info.Database)
	assert.Empty(t, info.Path)
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(&config.Config{Database: config.DatabaseConfig{Driver: "oracle"}})
	require.ErrorContains(t, err, "unsupported database driver")
	assert.NotErrorIs(t, err, ErrConnectivity)
}
