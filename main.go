package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"sensor_report_loader/config"
	"sensor_report_loader/database"
	"sensor_report_loader/logger"
	"sensor_report_loader/registry"

	"github.com/alexflint/go-arg"
)

type migrateCreateCmd struct {
	Name string `arg:"positional,required" help:"migration name"`
}

type ingestCmd struct {
	Dir string `arg:"positional" help:"directory to ingest (default: staging.dir)"`
}

type selectorCmd struct {
	Selector string `arg:"positional,required" help:"sensor selector, e.g. swm-02"`
}

type exportCmd struct {
	Selector string `arg:"positional,required" help:"sensor selector, e.g. swm-02"`
	Out      string `arg:"--out" help:"output directory (default: export.dir)"`
}

type noArgs struct{}

type cliArgs struct {
	Config string `arg:"--config,env:SENSORS_CONFIG" default:"config.yaml" help:"configuration file"`

	Connect       *noArgs           `arg:"subcommand:connect" help:"test database connection"`
	Migrate       *noArgs           `arg:"subcommand:migrate" help:"run pending migrations"`
	MigrateCreate *migrateCreateCmd `arg:"subcommand:migrate-create" help:"create a new migration file in migration.dir"`
	MigrateStatus *noArgs           `arg:"subcommand:migrate-status" help:"show migration status"`
	DBInfo        *noArgs           `arg:"subcommand:db-info" help:"show database information"`
	SensorsSeed   *noArgs           `arg:"subcommand:sensors-seed" help:"insert the sensors of the rule table"`
	Fetch         *noArgs           `arg:"subcommand:fetch" help:"download report attachments from unread mails"`
	Ingest        *ingestCmd        `arg:"subcommand:ingest" help:"load staged CSV reports into the database"`
	Run           *noArgs           `arg:"subcommand:run" help:"fetch, then ingest the staging directory"`
	Query         *selectorCmd      `arg:"subcommand:query" help:"print the readings of a sensor"`
	Export        *exportCmd        `arg:"subcommand:export" help:"write the readings of a sensor to an XLSX file"`
	Serve         *noArgs           `arg:"subcommand:serve" help:"serve the HTTP query surface"`
}

func (cliArgs) Description() string {
	return "Sensor report loader - mail attachment ingestion and query tool\n\n" +
		"Reports are CSV files named report-<sensor>*.csv with a \"time\" column\n" +
		"(e.g. \"Mon, 04 Mar 2024 01:00:00\") and Water Flow Value, Total Pulse,\n" +
		"Last Pulse and Battery columns. Settings come from the config file and\n" +
		config.EnvPrefix + "* environment variables.\n"
}

func main() {
	var args cliArgs
	p := arg.MustParse(&args)
	if p.Subcommand() == nil {
		p.WriteHelp(os.Stdout)
		return
	}

	cfg := loadConfig(args.Config)

	// db-info prints to stdout only
	if args.DBInfo == nil {
		if err := logger.Init(cfg); err != nil {
			log.Fatalf("Failed to initialize logging: %v", err)
		}
		defer func() {
			if err := logger.Close(); err != nil {
				log.Printf("Failed to close logging: %v", err)
			}
		}()
		logger.LogCommand(os.Args[0], os.Args)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case args.Connect != nil:
		connectCommand(ctx, cfg)
	case args.Migrate != nil:
		migrateCommand(cfg)
	case args.MigrateCreate != nil:
		createMigrationCommand(cfg, args.MigrateCreate.Name)
	case args.MigrateStatus != nil:
		migrationStatusCommand(cfg)
	case args.DBInfo != nil:
		dbInfoCommand(ctx, cfg)
	case args.SensorsSeed != nil:
		sensorsSeedCommand(ctx, cfg)
	case args.Fetch != nil:
		fetchCommand(ctx, cfg)
	case args.Ingest != nil:
		ingestCommand(ctx, cfg, args.Ingest.Dir)
	case args.Run != nil:
		runCommand(ctx, cfg)
	case args.Query != nil:
		queryCommand(ctx, cfg, args.Query.Selector)
	case args.Export != nil:
		exportCommand(ctx, cfg, args.Export.Selector, args.Export.Out)
	case args.Serve != nil:
		serveCommand(ctx, cfg)
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

func connectDatabase(cfg *config.Config) (*database.Store, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database.NewStore(db), nil
}

// openStore connects and, with migration.auto_migrate, applies pending
// migrations before a data command runs.
func openStore(cfg *config.Config) *database.Store {
	store, err := connectDatabase(cfg)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	if cfg.Migration.AutoMigrate {
		if err := database.NewMigrationRunner(store.DB(), cfg).RunMigrations(); err != nil {
			logger.Fatalf("Migration failed: %v", err)
		}
	} else if missing := database.MissingTables(store.DB()); len(missing) > 0 {
		logger.Fatalf("Missing tables %s; run the migrate command first", strings.Join(missing, ", "))
	}

	return store
}

func loadRegistry(cfg *config.Config) *registry.Registry {
	reg, err := registry.LoadFile(cfg.Sensors.RulesFile)
	if err != nil {
		logger.Fatalf("Failed to load sensor rules: %v", err)
	}
	return reg
}

func connectCommand(ctx context.Context, cfg *config.Config) {
	logger.Println("Testing database connection...")

	store, err := connectDatabase(cfg)
	if err != nil {
		logger.Fatalf("Connection failed: %v", err)
	}

	logger.Printf("✓ Successfully connected to %s database\n", cfg.Database.Driver)

	info := database.Describe(ctx, store.DB(), cfg)
	infoJSON, _ := json.MarshalIndent(info, "", "  ")
	logger.Printf("Connection info: %s\n", infoJSON)
}

func migrateCommand(cfg *config.Config) {
	logger.Println("Running database migrations...")

	store, err := connectDatabase(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	runner := database.NewMigrationRunner(store.DB(), cfg)
	if err := runner.RunMigrations(); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

func createMigrationCommand(cfg *config.Config, name string) {
	logger.Printf("Creating migration: %s\n", name)

	runner := database.NewMigrationRunner(nil, cfg) // Don't need DB connection to create files

	filePath, err := runner.CreateMigration(name)
	if err != nil {
		logger.Fatalf("Failed to create migration: %v", err)
	}

	logger.Printf("✓ Migration created: %s\n", filePath)
}

func migrationStatusCommand(cfg *config.Config) {
	logger.Println("Checking migration status...")

	store, err := connectDatabase(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	runner := database.NewMigrationRunner(store.DB(), cfg)

	migrations, err := runner.GetMigrationStatus()
	if err != nil {
		logger.Fatalf("Failed to get migration status: %v", err)
	}

	if len(migrations) == 0 {
		logger.Println("No migrations found")
		return
	}

	logger.Printf("%-20s %-40s %s\n", "Version", "Name", "Status")
	logger.Println(strings.Repeat("-", 67))

	for _, migration := range migrations {
		status := "Pending"
		if migration.Applied {
			status = "Applied"
		}
		logger.Printf("%-20s %-40s %s\n", migration.Version, migration.Name, status)
	}
}

func dbInfoCommand(ctx context.Context, cfg *config.Config) {
	fmt.Println("Database Information:")
	fmt.Println(strings.Repeat("=", 50))

	store, err := connectDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	info := database.Describe(ctx, store.DB(), cfg)

	fmt.Printf("Database Type:     %s\n", info.Driver)
	fmt.Printf("Connection Status: %s\n", getConnectionStatusText(info.Connected))

	switch info.Driver {
	case "mysql", "postgres":
		fmt.Printf("Host:              %s\n", info.Host)
		fmt.Printf("Port:              %d\n", info.Port)
		fmt.Printf("Database:          %s\n", info.Database)
	case "sqlite":
		fmt.Printf("File Path:         %s\n", info.Path)
	}

	if !info.Connected {
		fmt.Println("\nConnection failed - unable to retrieve detailed information")
		fmt.Println(strings.Repeat("=", 50))
		return
	}

	fmt.Println("\nConnection Pool:")
	fmt.Printf("  Max Connections: %d\n", info.Pool.MaxOpen)
	fmt.Printf("  Open Connections:%d\n", info.Pool.Open)
	fmt.Printf("  In Use:          %d\n", info.Pool.InUse)
	fmt.Printf("  Idle:            %d\n", info.Pool.Idle)

	if missing := database.MissingTables(store.DB()); len(missing) > 0 {
		fmt.Printf("\nMissing tables:    %s (run migrate)\n", strings.Join(missing, ", "))
		fmt.Println(strings.Repeat("=", 50))
		return
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		log.Fatalf("Failed to read statistics: %v", err)
	}

	fmt.Println("\nData Information:")
	fmt.Printf("  Sensors:         %d\n", stats.Sensors)
	fmt.Printf("  Readings:        %d\n", stats.Readings)
	fmt.Printf("  Processed Files: %d\n", stats.ProcessedFiles)
	if stats.Earliest != nil && stats.Latest != nil {
		fmt.Printf("  Date Range:      %s to %s\n",
			stats.Earliest.Format("2006-01-02 15:04:05"),
			stats.Latest.Format("2006-01-02 15:04:05"))
	}

	fmt.Println(strings.Repeat("=", 50))
}

func getConnectionStatusText(connected bool) string {
	if connected {
		return "✓ Connected"
	}
	return "✗ Disconnected"
}

func sensorsSeedCommand(ctx context.Context, cfg *config.Config) {
	logger.Println("Seeding sensors from the rule table...")

	store := openStore(cfg)
	reg := loadRegistry(cfg)

	sensors := reg.Sensors()
	added, err := store.SeedSensors(ctx, sensors)
	if err != nil {
		logger.Fatalf("Failed to seed sensors: %v", err)
	}

	for _, s := range sensors {
		logger.Printf("  sensor %d (%s)\n", s.ID, s.Name)
	}
	logger.Printf("✓ %d sensor(s) added, %d already present\n", added, int64(len(sensors))-added)
}
