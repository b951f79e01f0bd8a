package scanner

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"sensor_report_loader/config"
	"sensor_report_loader/logger"
	"sensor_report_loader/models"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyInput means the file has no bytes, no data rows, or no row with
	// a parseable timestamp. Such files are registered as processed.
	ErrEmptyInput = errors.New("no usable rows")
	// ErrMissingColumn means the timestamp column is absent from the header.
	ErrMissingColumn = errors.New("required column missing")
	// ErrRowCoercion means a value column holds text that is not a number.
	ErrRowCoercion = errors.New("value cannot be converted")
)

var errNoHeader = errors.New("no columns to parse from file")

var unnamedColumn = regexp.MustCompile(`(?i)^unnamed`)

// Values treated as missing, in addition to the empty string.
var nullTokens = map[string]bool{
	"nan": true, "-nan": true, "na": true, "n/a": true, "#n/a": true,
	"null": true, "none": true, "<na>": true,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Row is one report line with a parsed timestamp. Fields holds the raw text
// of every kept column present on the line.
type Row struct {
	Line   int
	Time   time.Time
	Fields map[string]string
}

// Table is the normalized content of one report file.
type Table struct {
	Columns []string
	Rows    []Row
	// Dropped counts data lines whose timestamp did not parse.
	Dropped int
}

// Normalizer turns report CSV files into time-ordered rows.
type Normalizer struct {
	columns config.CSVConfig
}

// NewNormalizer creates a normalizer for the configured report columns.
func NewNormalizer(columns config.CSVConfig) *Normalizer {
	return &Normalizer{columns: columns}
}

// Raw is a report file after CSV decoding, before timestamps are parsed.
type Raw struct {
	Columns []string
	// index of every kept column in a record
	index   map[string]int
	records [][]string
}

// ReadFile reads the file at path.
func (n *Normalizer) ReadFile(path string) (*Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return n.Read(bytes.NewReader(data))
}

// Read decodes report CSV from r and drops columns with an empty or
// "Unnamed" header. A zero-byte input or a header without data lines is
// ErrEmptyInput; input holding only whitespace has no header and fails.
func (n *Normalizer) Read(r io.Reader) (*Raw, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrEmptyInput)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errNoHeader
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, errNoHeader
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: no data rows", ErrEmptyInput)
	}

	header := lo.Map(records[0], func(name string, _ int) string {
		return strings.TrimSpace(name)
	})

	// the first of duplicate names wins
	raw := &Raw{index: make(map[string]int), records: records[1:]}
	for i, name := range header {
		if name == "" || unnamedColumn.MatchString(name) {
			continue
		}
		if _, dup := raw.index[name]; dup {
			continue
		}
		raw.index[name] = i
		raw.Columns = append(raw.Columns, name)
	}

	return raw, nil
}

// Rows parses the timestamp column of raw. Lines with an unparseable
// timestamp are skipped and the rest are sorted by time, keeping file order
// for equal timestamps.
func (n *Normalizer) Rows(raw *Raw) (*Table, error) {
	timeIdx, ok := raw.index[n.columns.TimeColumn]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, n.columns.TimeColumn)
	}

	table := &Table{Columns: raw.Columns}
	for i, record := range raw.records {
		line := i + 2

		if timeIdx >= len(record) {
			table.Dropped++
			continue
		}
		value := strings.TrimSpace(record[timeIdx])
		ts, err := time.Parse(n.columns.TimeLayout, value)
		if err != nil {
			table.Dropped++
			logger.Debugf("line %d: unparseable %s %q", line, n.columns.TimeColumn, value)
			continue
		}

		fields := make(map[string]string, len(raw.Columns))
		for _, name := range raw.Columns {
			if idx := raw.index[name]; idx < len(record) {
				fields[name] = record[idx]
			}
		}
		table.Rows = append(table.Rows, Row{Line: line, Time: ts, Fields: fields})
	}

	if len(table.Rows) == 0 {
		return nil, fmt.Errorf("%w: no row has a valid %s", ErrEmptyInput, n.columns.TimeColumn)
	}

	sort.SliceStable(table.Rows, func(a, b int) bool {
		return table.Rows[a].Time.Before(table.Rows[b].Time)
	})

	return table, nil
}

// Normalize reads r and parses its rows in one step.
func (n *Normalizer) Normalize(r io.Reader) (*Table, error) {
	raw, err := n.Read(r)
	if err != nil {
		return nil, err
	}
	return n.Rows(raw)
}

// Reading converts the row into a SensorReading for sensorID. Missing, empty
// and NaN-like values become null; pulse counts are truncated to integers.
func (r Row) Reading(sensorID int, columns config.CSVConfig) (models.SensorReading, error) {
	reading := models.SensorReading{SensorID: sensorID, Time: r.Time}

	var err error
	if reading.WaterFlowValue, err = r.decimal(columns.WaterFlowColumn); err != nil {
		return reading, err
	}
	if reading.TotalPulse, err = r.count(columns.TotalPulseColumn); err != nil {
		return reading, err
	}
	if reading.LastPulse, err = r.count(columns.LastPulseColumn); err != nil {
		return reading, err
	}
	if reading.Battery, err = r.decimal(columns.BatteryColumn); err != nil {
		return reading, err
	}

	return reading, nil
}

// value returns the trimmed field and whether it holds data.
func (r Row) value(column string) (string, bool) {
	raw, ok := r.Fields[column]
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || nullTokens[strings.ToLower(raw)] {
		return "", false
	}
	return raw, true
}

func (r Row) decimal(column string) (decimal.NullDecimal, error) {
	raw, ok := r.value(column)
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: line %d %s=%q", ErrRowCoercion, r.Line, column, raw)
	}
	return decimal.NewNullDecimal(d), nil
}

func (r Row) count(column string) (*int64, error) {
	raw, ok := r.value(column)
	if !ok {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: line %d %s=%q", ErrRowCoercion, r.Line, column, raw)
	}
	v := d.IntPart()
	return &v, nil
}
