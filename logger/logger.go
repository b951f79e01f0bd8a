package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sensor_report_loader/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// Global logger instance, console-only until Init is called
	sugar        = newConsole(zapcore.InfoLevel)
	logFile      *os.File
	logLevel     = INFO
	logToConsole = true
)

// LogLevel constants
const (
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.CallerKey = ""
	return cfg
}

func newConsole(level zapcore.Level) *zap.SugaredLogger {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(os.Stdout), level)
	return zap.New(core).Sugar()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes the logging system using configuration
func Init(cfg *config.Config) error {
	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %w", err)
	}

	logToConsole = cfg.Logging.LogToConsole
	logLevel = strings.ToLower(cfg.Logging.LogLevel)
	level := parseLevel(logLevel)

	logPath := cfg.Logging.LogFile
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(cwd, logPath)
	}

	logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(logFile), level),
	}
	if logToConsole {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.Lock(os.Stdout), level))
	}

	sugar = zap.New(zapcore.NewTee(cores...)).Sugar()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	sugar.Infof("=== Session started at %s ===", timestamp)
	sugar.Infow("logging configured", "file", logPath, "level", logLevel, "console", logToConsole)
	LogDivider()

	return nil
}

// Close flushes and closes the log file
func Close() error {
	if logFile == nil {
		return nil
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	LogDivider()
	sugar.Infof("=== Session ended at %s ===", timestamp)
	_ = sugar.Sync()

	err := logFile.Close()
	logFile = nil
	sugar = newConsole(parseLevel(logLevel))
	return err
}

// Named returns a child logger for a component, e.g. logger.Named("fetcher").
func Named(name string) *zap.SugaredLogger {
	return sugar.Named(name)
}

// GormLevel maps the configured level onto gorm's SQL logger.
func GormLevel() gormlogger.LogLevel {
	switch logLevel {
	case DEBUG:
		return gormlogger.Info
	case ERROR:
		return gormlogger.Error
	default:
		return gormlogger.Warn
	}
}

// Printf prints formatted text to log (respects log level)
func Printf(format string, v ...interface{}) {
	sugar.Infof(strings.TrimRight(format, "\n"), v...)
}

// Println prints a line to log (respects log level)
func Println(v ...interface{}) {
	sugar.Info(strings.TrimRight(fmt.Sprintln(v...), "\n"))
}

// Debugf prints formatted debug text
func Debugf(format string, v ...interface{}) {
	sugar.Debugf(strings.TrimRight(format, "\n"), v...)
}

// Warnf prints formatted warning text
func Warnf(format string, v ...interface{}) {
	sugar.Warnf(strings.TrimRight(format, "\n"), v...)
}

// Errorf prints formatted error text
func Errorf(format string, v ...interface{}) {
	sugar.Errorf(strings.TrimRight(format, "\n"), v...)
}

// Infow logs a message with structured key/value pairs.
func Infow(msg string, keysAndValues ...interface{}) {
	sugar.Infow(msg, keysAndValues...)
}

// Warnw logs a warning with structured key/value pairs.
func Warnw(msg string, keysAndValues ...interface{}) {
	sugar.Warnw(msg, keysAndValues...)
}

// Errorw logs an error with structured key/value pairs.
func Errorw(msg string, keysAndValues ...interface{}) {
	sugar.Errorw(msg, keysAndValues...)
}

// Fatalf prints formatted fatal error and exits (always logged)
func Fatalf(format string, v ...interface{}) {
	sugar.Errorf("FATAL: "+strings.TrimRight(format, "\n"), v...)
	_ = Close()
	os.Exit(1)
}

// LogCommand logs the command being executed
func LogCommand(command string, args []string) {
	if len(args) > 1 {
		Printf("Command executed: %s %v", command, args[1:])
		return
	}
	Printf("Command executed: %s", command)
}

// LogDivider prints a divider line for better log organization
func LogDivider() {
	Println("------------------------------------------------------------")
}

// LogResult logs a result with status
func LogResult(operation string, success bool, details string) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}
	if details != "" {
		Printf("%s: %s - %s", operation, status, details)
		return
	}
	Printf("%s: %s", operation, status)
}

// LogProgress logs progress information
func LogProgress(current, total int, item string) {
	Printf("Progress: [%d/%d] %s", current, total, item)
}

// GetLogFileName returns the current log file name
func GetLogFileName() string {
	if logFile != nil {
		return logFile.Name()
	}
	return "result.log"
}
