// Package report reads stored readings for a sensor selector and renders
// them as a text table or an XLSX workbook.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"sensor_report_loader/models"
	"sensor_report_loader/registry"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ErrUnknownSelector means the selector is not part of the rule table.
var ErrUnknownSelector = errors.New("unknown sensor selector")

// Columns is the projection order shared by the table and the workbook.
var Columns = []string{
	"id", "sensor_id", "time", "water_flow_value",
	"total_pulse", "flow_per_hour", "last_pulse", "battery",
}

const (
	sheetName  = "sensor_data"
	timeLayout = "2006-01-02 15:04:05"
)

// Reader loads the readings of one sensor ordered by time.
type Reader interface {
	ReadingsBySensor(ctx context.Context, sensorID int) ([]models.SensorReading, error)
}

// Service resolves selectors and reads their readings.
type Service struct {
	store    Reader
	registry *registry.Registry
}

func NewService(store Reader, reg *registry.Registry) *Service {
	return &Service{store: store, registry: reg}
}

// Selectors returns the selectors that can be queried.
func (s *Service) Selectors() []string {
	return s.registry.Selectors()
}

// Readings returns every stored reading of the selector's sensor.
func (s *Service) Readings(ctx context.Context, selector string) ([]models.SensorReading, error) {
	sensorID, ok := s.registry.Lookup(selector)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSelector, selector)
	}
	return s.store.ReadingsBySensor(ctx, sensorID)
}

// FileName is the export file name for selector.
func FileName(selector string) string {
	return fmt.Sprintf("sensor_data_%s.xlsx", selector)
}

// Export writes the selector's readings to dir/sensor_data_<selector>.xlsx
// and returns the path and the number of readings written.
func (s *Service) Export(ctx context.Context, selector, dir string) (string, int, error) {
	readings, err := s.Readings(ctx, selector)
	if err != nil {
		return "", 0, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, FileName(selector))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteXLSX(f, readings); err != nil {
		return "", 0, err
	}
	return path, len(readings), f.Close()
}

// Render writes readings as an aligned text table. Nulls print as "-".
func Render(w io.Writer, readings []models.SensorReading) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	for i, c := range Columns {
		sep := "\t"
		if i == len(Columns)-1 {
			sep = "\t\n"
		}
		fmt.Fprint(tw, c+sep)
	}
	for _, r := range readings {
		cells := lo.Map(row(r), func(v interface{}, _ int) string { return text(v) })
		for i, cell := range cells {
			sep := "\t"
			if i == len(cells)-1 {
				sep = "\t\n"
			}
			fmt.Fprint(tw, cell+sep)
		}
	}
	return tw.Flush()
}

// WriteXLSX writes readings as a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, readings []models.SensorReading) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := lo.Map(Columns, func(c string, _ int) interface{} { return c })
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range readings {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row(r)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write reading %d: %w", r.ID, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// row projects a reading in Columns order; nulls are nil.
func row(r models.SensorReading) []interface{} {
	return []interface{}{
		r.ID,
		r.SensorID,
		r.Time,
		nullDecimal(r.WaterFlowValue),
		nullInt(r.TotalPulse),
		nullDecimal(r.FlowPerHour),
		nullInt(r.LastPulse),
		nullDecimal(r.Battery),
	}
}

func nullDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}

func nullInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func text(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case time.Time:
		return x.Format(timeLayout)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
