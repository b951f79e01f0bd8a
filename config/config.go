package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables overriding file values.
// Nested keys are separated by a double underscore: SENSORS_DATABASE__DRIVER.
const EnvPrefix = "SENSORS_"

// DatabaseConfig holds all database configuration
type DatabaseConfig struct {
	Driver         string         `koanf:"driver"`
	MySQL          MySQLConfig    `koanf:"mysql"`
	PostgreSQL     PostgresConfig `koanf:"postgres"`
	SQLite         SQLiteConfig   `koanf:"sqlite"`
	ConnectionPool PoolConfig     `koanf:"connection_pool"`
}

// MySQLConfig holds MySQL specific configuration
type MySQLConfig struct {
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	User      string `koanf:"user"`
	Password  string `koanf:"password"`
	DBName    string `koanf:"dbname"`
	Charset   string `koanf:"charset"`
	ParseTime bool   `koanf:"parse_time"`
	Loc       string `koanf:"loc"`
}

// PostgresConfig holds PostgreSQL specific configuration
type PostgresConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	DBName   string `koanf:"dbname"`
	SSLMode  string `koanf:"sslmode"`
	TimeZone string `koanf:"timezone"`
}

// SQLiteConfig holds SQLite specific configuration
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxIdleConns    int `koanf:"max_idle_conns"`
	MaxOpenConns    int `koanf:"max_open_conns"`
	ConnMaxLifetime int `koanf:"conn_max_lifetime"`
}

// MigrationConfig holds migration specific configuration.
// When Dir is set, migrations are read from (and created in) that directory
// instead of the set embedded in the binary.
type MigrationConfig struct {
	AutoMigrate    bool   `koanf:"auto_migrate"`
	MigrationTable string `koanf:"migration_table"`
	Dir            string `koanf:"dir"`
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	LogFile      string `koanf:"log_file"`
	LogToConsole bool   `koanf:"log_to_console"`
	LogLevel     string `koanf:"log_level"`
}

// MailConfig locates the Gmail OAuth client and the previously granted token.
type MailConfig struct {
	CredentialsFile string `koanf:"credentials_file"`
	TokenFile       string `koanf:"token_file"`
	User            string `koanf:"user"`
}

// FetchConfig controls which messages and attachments are downloaded.
type FetchConfig struct {
	Query               string        `koanf:"query"`
	AttachmentPrefix    string        `koanf:"attachment_prefix"`
	AttachmentExt       string        `koanf:"attachment_ext"`
	Throttle            time.Duration `koanf:"throttle"`
	KeepUnreadOnFailure bool          `koanf:"keep_unread_on_failure"`
}

// StagingConfig holds the directory attachments are saved to and ingested from.
type StagingConfig struct {
	Dir string `koanf:"dir"`
}

// CSVConfig names the report columns.
type CSVConfig struct {
	TimeColumn       string `koanf:"time_column"`
	TimeLayout       string `koanf:"time_layout"`
	WaterFlowColumn  string `koanf:"water_flow_column"`
	TotalPulseColumn string `koanf:"total_pulse_column"`
	LastPulseColumn  string `koanf:"last_pulse_column"`
	BatteryColumn    string `koanf:"battery_column"`
}

// SensorsConfig points at the filename rule table.
type SensorsConfig struct {
	RulesFile string `koanf:"rules_file"`
}

// ExportConfig holds the spreadsheet output directory.
type ExportConfig struct {
	Dir string `koanf:"dir"`
}

// ServerConfig holds the HTTP query surface settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	Mode string `koanf:"mode"` // debug | release
}

// Config holds the complete application configuration
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Migration MigrationConfig `koanf:"migration"`
	Logging   LoggingConfig   `koanf:"logging"`
	Mail      MailConfig      `koanf:"mail"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Staging   StagingConfig   `koanf:"staging"`
	CSV       CSVConfig       `koanf:"csv"`
	Sensors   SensorsConfig   `koanf:"sensors"`
	Export    ExportConfig    `koanf:"export"`
	Server    ServerConfig    `koanf:"server"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"database.driver":                            "sqlite",
		"database.sqlite.path":                       "sensor_reports.db",
		"database.mysql.port":                        3306,
		"database.mysql.charset":                     "utf8mb4",
		"database.mysql.parse_time":                  true,
		"database.mysql.loc":                         "Local",
		"database.postgres.port":                     5432,
		"database.postgres.sslmode":                  "disable",
		"database.postgres.timezone":                 "UTC",
		"database.connection_pool.max_idle_conns":    5,
		"database.connection_pool.max_open_conns":    10,
		"database.connection_pool.conn_max_lifetime": 300,
		"migration.auto_migrate":                     true,
		"migration.migration_table":                  "schema_migrations",
		"logging.log_file":                           "result.log",
		"logging.log_to_console":                     true,
		"logging.log_level":                          "info",
		"mail.credentials_file":                      "credentials.json",
		"mail.token_file":                            "token files/token_gmail_v1.json",
		"mail.user":                                  "me",
		"fetch.query":                                `is:unread has:attachment subject:"Marina report"`,
		"fetch.attachment_prefix":                    "report-",
		"fetch.attachment_ext":                       ".csv",
		"fetch.throttle":                             "200ms",
		"fetch.keep_unread_on_failure":               true,
		"staging.dir":                                "reports",
		"csv.time_column":                            "time",
		"csv.time_layout":                            "Mon, 02 Jan 2006 15:04:05",
		"csv.water_flow_column":                      "Water Flow Value",
		"csv.total_pulse_column":                     "Total Pulse",
		"csv.last_pulse_column":                      "Last Pulse",
		"csv.battery_column":                         "Battery",
		"sensors.rules_file":                         "sensors.yaml",
		"export.dir":                                 "exports",
		"server.host":                                "127.0.0.1",
		"server.port":                                8080,
		"server.mode":                                "release",
	}
}

// Load loads configuration from defaults, the specified YAML file and the
// SENSORS_ environment, in that order of precedence.
func Load(configPath string) (*Config, error) {
	// Set default config path if not provided
	if configPath == "" {
		configPath = "config.yaml"
	}

	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql":
		if c.Database.MySQL.Host == "" {
			return fmt.Errorf("mysql host is required")
		}
		if c.Database.MySQL.User == "" {
			return fmt.Errorf("mysql user is required")
		}
		if c.Database.MySQL.DBName == "" {
			return fmt.Errorf("mysql database name is required")
		}
		if !c.Database.MySQL.ParseTime {
			return fmt.Errorf("mysql parse_time must be enabled")
		}
	case "postgres":
		if c.Database.PostgreSQL.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Database.PostgreSQL.User == "" {
			return fmt.Errorf("postgres user is required")
		}
		if c.Database.PostgreSQL.DBName == "" {
			return fmt.Errorf("postgres database name is required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if strings.TrimSpace(c.Migration.MigrationTable) == "" {
		return fmt.Errorf("migration table is required")
	}
	if strings.TrimSpace(c.Staging.Dir) == "" {
		return fmt.Errorf("staging dir is required")
	}
	if c.CSV.TimeColumn == "" || c.CSV.TimeLayout == "" {
		return fmt.Errorf("csv time column and layout are required")
	}
	if c.Fetch.AttachmentExt == "" {
		return fmt.Errorf("fetch attachment extension is required")
	}
	if c.Fetch.Throttle < 0 {
		return fmt.Errorf("fetch throttle must be >= 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server mode %q (must be debug or release)", c.Server.Mode)
	}

	return nil
}

// GetDSN returns the database connection string based on the configured driver
func (c *Config) GetDSN() string {
	switch c.Database.Driver {
	case "mysql":
		mysql := c.Database.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
			mysql.User, mysql.Password, mysql.Host, mysql.Port, mysql.DBName,
			mysql.Charset, mysql.ParseTime, mysql.Loc)
		return dsn
	case "postgres":
		pg := c.Database.PostgreSQL
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode, pg.TimeZone)
		return dsn
	case "sqlite":
		return c.Database.SQLite.Path
	default:
		return ""
	}
}

// Addr returns the host:port the HTTP surface listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
