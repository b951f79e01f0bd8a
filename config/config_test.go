package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsFillMissingSections(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: "sqlite"
  sqlite:
    path: "data/test.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "data/test.db", cfg.GetDSN())
	require.Equal(t, "time", cfg.CSV.TimeColumn)
	require.Equal(t, "Mon, 02 Jan 2006 15:04:05", cfg.CSV.TimeLayout)
	require.Equal(t, 200*time.Millisecond, cfg.Fetch.Throttle)
	require.True(t, cfg.Fetch.KeepUnreadOnFailure)
	require.Equal(t, "report-", cfg.Fetch.AttachmentPrefix)
	require.Equal(t, "schema_migrations", cfg.Migration.MigrationTable)
	require.Equal(t, "127.0.0.1:8080", cfg.Addr())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: "sqlite"
staging:
  dir: "from-file"
`)
	t.Setenv("SENSORS_STAGING__DIR", "from-env")
	t.Setenv("SENSORS_FETCH__THROTTLE", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Staging.Dir)
	require.Equal(t, time.Second, cfg.Fetch.Throttle)
}

func TestLoad_MySQLRequiresHost(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: "mysql"
  mysql:
    user: "root"
    dbname: "labiot_data_sensed"
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "mysql host is required")
}

func TestLoad_UnsupportedDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: "oracle"
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "unsupported database driver")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "failed to read config file")
}

func TestGetDSN_MySQL(t *testing.T) {
	cfg := Config{Database: DatabaseConfig{
		Driver: "mysql",
		MySQL: MySQLConfig{
			Host: "localhost", Port: 3306, User: "root", Password: "pw",
			DBName: "labiot_data_sensed", Charset: "utf8mb4", ParseTime: true, Loc: "Local",
		},
	}}

	require.Equal(t,
		"root:pw@tcp(localhost:3306)/labiot_data_sensed?charset=utf8mb4&parseTime=true&loc=Local",
		cfg.GetDSN())
}
