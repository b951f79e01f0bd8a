package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sensor_report_loader/config"
	"sensor_report_loader/logger"
	"sensor_report_loader/metrics"
	"sensor_report_loader/models"
	"sensor_report_loader/registry"
)

// Outcome is the terminal state of one staged file.
type Outcome int

const (
	Pending Outcome = iota
	AlreadyProcessed
	EmptyOrUnparseable
	SensorUnresolved
	Rejected
	Ingested
)

func (o Outcome) String() string {
	switch o {
	case AlreadyProcessed:
		return "already_processed"
	case EmptyOrUnparseable:
		return "empty"
	case SensorUnresolved:
		return "sensor_unresolved"
	case Rejected:
		return "rejected"
	case Ingested:
		return "ingested"
	default:
		return "pending"
	}
}

// MarshalText lets outcomes key JSON objects by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Store is the persistence the scanner needs.
type Store interface {
	Ping(ctx context.Context) error
	IsFileProcessed(ctx context.Context, fileName string) (bool, error)
	RegisterProcessedFile(ctx context.Context, fileName string) (bool, error)
	SensorExists(ctx context.Context, sensorID int) (bool, error)
	InsertReading(ctx context.Context, reading *models.SensorReading) error
	RecomputeFlowPerHour(ctx context.Context) (int64, error)
}

// CSVScanner ingests staged report files one at a time.
type CSVScanner struct {
	store      Store
	registry   *registry.Registry
	normalizer *Normalizer
	columns    config.CSVConfig
}

// FileJob represents a CSV file to be processed
type FileJob struct {
	FilePath string
	FileName string
}

// ProcessResult contains the result of processing a CSV file
type ProcessResult struct {
	FileName     string        `json:"file_name"`
	Outcome      Outcome       `json:"outcome"`
	RowsInserted int           `json:"rows_inserted"`
	RowFailures  int           `json:"row_failures"`
	Duration     time.Duration `json:"duration"`
	Error        error         `json:"-"`
}

// Summary aggregates one directory pass.
type Summary struct {
	Files          int             `json:"files"`
	Outcomes       map[Outcome]int `json:"outcomes"`
	RowsInserted   int             `json:"rows_inserted"`
	RowFailures    int             `json:"row_failures"`
	RowsRecomputed int64           `json:"rows_recomputed"`
	Results        []ProcessResult `json:"results"`
	Duration       time.Duration   `json:"duration"`
}

// NewCSVScanner creates a scanner writing to store and resolving sensors
// through reg.
func NewCSVScanner(store Store, reg *registry.Registry, columns config.CSVConfig) *CSVScanner {
	return &CSVScanner{
		store:      store,
		registry:   reg,
		normalizer: NewNormalizer(columns),
		columns:    columns,
	}
}

// ScanDirectory ingests every *.csv file of directoryPath in name order, then
// recomputes flow_per_hour if any row was inserted. Only an unreachable store
// at the start aborts the pass; per-file problems are recorded in the summary.
func (cs *CSVScanner) ScanDirectory(ctx context.Context, directoryPath string) (*Summary, error) {
	started := time.Now()
	summary := &Summary{Outcomes: make(map[Outcome]int)}

	logger.Printf("Scanning directory: %s\n", directoryPath)

	if err := cs.store.Ping(ctx); err != nil {
		return summary, err
	}

	csvFiles, err := cs.findCSVFiles(directoryPath)
	if err != nil {
		return summary, fmt.Errorf("failed to find CSV files: %w", err)
	}
	summary.Files = len(csvFiles)

	if len(csvFiles) == 0 {
		logger.Println("No CSV files found in the directory")
		return summary, nil
	}
	logger.Printf("Found %d CSV file(s)\n", len(csvFiles))

	var interrupted error
	for i, job := range csvFiles {
		if err := ctx.Err(); err != nil {
			interrupted = err
			logger.Warnf("Scan interrupted before %s: %v\n", job.FileName, err)
			break
		}

		logger.LogProgress(i+1, len(csvFiles), job.FileName)
		result := cs.processCSVFile(ctx, job)
		summary.Results = append(summary.Results, result)
		summary.Outcomes[result.Outcome]++
		summary.RowsInserted += result.RowsInserted
		summary.RowFailures += result.RowFailures
		metrics.FilesProcessed.WithLabelValues(result.Outcome.String()).Inc()
	}

	var recomputeErr error
	if summary.RowsInserted > 0 {
		// rows already inserted get their derived values even after a cancel
		summary.RowsRecomputed, recomputeErr = cs.store.RecomputeFlowPerHour(context.WithoutCancel(ctx))
		if recomputeErr != nil {
			logger.Errorf("flow_per_hour recomputation failed: %v\n", recomputeErr)
		} else {
			logger.Printf("flow_per_hour recomputed: %d rows updated\n", summary.RowsRecomputed)
		}
	} else {
		logger.Println("No new rows inserted, skipping flow_per_hour recomputation")
	}

	summary.Duration = time.Since(started)
	cs.displaySummary(summary)

	return summary, errors.Join(interrupted, recomputeErr)
}

// findCSVFiles lists the *.csv files of the directory (non-recursive), sorted
// by name.
func (cs *CSVScanner) findCSVFiles(directoryPath string) ([]FileJob, error) {
	entries, err := os.ReadDir(directoryPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("directory does not exist: %s", directoryPath)
		}
		return nil, err
	}

	var csvFiles []FileJob
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) == ".csv" {
			csvFiles = append(csvFiles, FileJob{
				FilePath: filepath.Join(directoryPath, entry.Name()),
				FileName: entry.Name(),
			})
		}
	}

	sort.Slice(csvFiles, func(i, j int) bool { return csvFiles[i].FileName < csvFiles[j].FileName })
	return csvFiles, nil
}

// processCSVFile takes one file through dedup, CSV decoding, sensor
// resolution, timestamp parsing and row insertion. Only files with a known
// sensor reach timestamp parsing, so an unresolved file is never registered.
func (cs *CSVScanner) processCSVFile(ctx context.Context, job FileJob) (result ProcessResult) {
	startTime := time.Now()
	result = ProcessResult{FileName: job.FileName, Outcome: Pending}
	defer func() { result.Duration = time.Since(startTime) }()

	processed, err := cs.store.IsFileProcessed(ctx, job.FileName)
	if err != nil {
		return cs.reject(result, err)
	}
	if processed {
		result.Outcome = AlreadyProcessed
		return result
	}

	logger.Printf("Processing file: %s\n", job.FileName)

	raw, err := cs.normalizer.ReadFile(job.FilePath)
	switch {
	case errors.Is(err, ErrEmptyInput):
		return cs.registerEmpty(ctx, result, err)
	case err != nil:
		return cs.reject(result, err)
	}

	sensorID, err := cs.registry.ResolveStored(ctx, cs.store, job.FileName)
	if err != nil {
		if errors.Is(err, registry.ErrUnmappedSensor) || errors.Is(err, registry.ErrUnknownSensor) {
			logger.Warnf("⚠️ %s: %v, skipping\n", job.FileName, err)
			result.Outcome = SensorUnresolved
			result.Error = err
			return result
		}
		return cs.reject(result, err)
	}

	table, err := cs.normalizer.Rows(raw)
	switch {
	case errors.Is(err, ErrEmptyInput):
		return cs.registerEmpty(ctx, result, err)
	case err != nil:
		return cs.reject(result, err)
	}
	if table.Dropped > 0 {
		logger.Debugf("%s: %d row(s) without a valid timestamp dropped\n", job.FileName, table.Dropped)
	}

	for _, row := range table.Rows {
		reading, err := row.Reading(sensorID, cs.columns)
		if err == nil {
			err = cs.store.InsertReading(ctx, &reading)
		}
		if err != nil {
			result.RowFailures++
			metrics.RowFailures.Inc()
			logger.Warnf("%s line %d: %v\n", job.FileName, row.Line, err)
			continue
		}
		result.RowsInserted++
		metrics.RowsInserted.Inc()
	}

	result.Outcome = Ingested
	if _, err := cs.store.RegisterProcessedFile(ctx, job.FileName); err != nil {
		// rows stay inserted; the file will be ingested again next run
		result.Error = err
		logger.Errorf("❌ %s: %v\n", job.FileName, err)
	}

	logger.Printf("✓ Completed %s: %d rows inserted, %d failed\n",
		job.FileName, result.RowsInserted, result.RowFailures)

	return result
}

// registerEmpty marks a file without usable rows as processed.
func (cs *CSVScanner) registerEmpty(ctx context.Context, result ProcessResult, cause error) ProcessResult {
	logger.Warnf("⚠️ %s: %v, marking as processed\n", result.FileName, cause)
	if _, err := cs.store.RegisterProcessedFile(ctx, result.FileName); err != nil {
		return cs.reject(result, err)
	}
	result.Outcome = EmptyOrUnparseable
	return result
}

func (cs *CSVScanner) reject(result ProcessResult, err error) ProcessResult {
	logger.Errorf("❌ %s: %v, skipping\n", result.FileName, err)
	result.Outcome = Rejected
	result.Error = err
	return result
}

// displaySummary displays a summary of the processing results
func (cs *CSVScanner) displaySummary(summary *Summary) {
	logger.Println("\n" + strings.Repeat("=", 60))
	logger.Println("PROCESSING SUMMARY")
	logger.Println(strings.Repeat("=", 60))

	for _, result := range summary.Results {
		switch result.Outcome {
		case AlreadyProcessed:
			continue
		case Ingested:
			logger.Printf("✅ %s: %d rows, %d failed (%v)\n",
				result.FileName, result.RowsInserted, result.RowFailures, result.Duration)
		case Rejected, SensorUnresolved:
			logger.Printf("❌ %s: %s - %v\n", result.FileName, result.Outcome, result.Error)
		default:
			logger.Printf("➖ %s: %s\n", result.FileName, result.Outcome)
		}
	}

	logger.Println(strings.Repeat("-", 60))
	logger.Printf("Files seen: %d\n", summary.Files)
	for _, outcome := range []Outcome{Ingested, AlreadyProcessed, EmptyOrUnparseable, SensorUnresolved, Rejected} {
		logger.Printf("  %-18s %d\n", outcome.String()+":", summary.Outcomes[outcome])
	}
	logger.Printf("Rows inserted: %d\n", summary.RowsInserted)
	logger.Printf("Row failures: %d\n", summary.RowFailures)
	logger.Printf("Rows recomputed: %d\n", summary.RowsRecomputed)
	logger.Printf("Total processing time: %v\n", summary.Duration)
	logger.Println(strings.Repeat("=", 60))
}
