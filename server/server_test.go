package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sensor_report_loader/mailbox"
	"sensor_report_loader/models"
	"sensor_report_loader/registry"
	"sensor_report_loader/report"
	"sensor_report_loader/scanner"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type memReadings map[int][]models.SensorReading

func (m memReadings) ReadingsBySensor(_ context.Context, sensorID int) ([]models.SensorReading, error) {
	if sensorID == 5 {
		return nil, errors.New("database is locked")
	}
	return m[sensorID], nil
}

type stubFetcher struct {
	block chan struct{}
}

func (f *stubFetcher) Fetch(ctx context.Context) (*mailbox.Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return &mailbox.Result{}, ctx.Err()
		}
	}
	return &mailbox.Result{Messages: 1, Attachments: 2, MarkedRead: 1}, nil
}

type stubScanner struct{ dirs []string }

func (s *stubScanner) ScanDirectory(_ context.Context, dir string) (*scanner.Summary, error) {
	s.dirs = append(s.dirs, dir)
	return &scanner.Summary{Files: 2, RowsInserted: 7, Outcomes: map[scanner.Outcome]int{scanner.Ingested: 2}}, nil
}

func newTestApp(t *testing.T, fetcher MailFetcher) (*App, *stubScanner) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	readings := memReadings{2: {
		{ID: 1, SensorID: 2, Time: time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC),
			WaterFlowValue: decimal.NewNullDecimal(decimal.RequireFromString("10.0"))},
		{ID: 2, SensorID: 2, Time: time.Date(2024, 3, 4, 2, 0, 0, 0, time.UTC),
			WaterFlowValue: decimal.NewNullDecimal(decimal.RequireFromString("13.5")),
			FlowPerHour:    decimal.NewNullDecimal(decimal.RequireFromString("3.5"))},
	}}

	sc := &stubScanner{}
	app := New(context.Background(), Options{
		Mode:       gin.TestMode,
		Store:      pinger{},
		Reports:    report.NewService(readings, registry.Default()),
		Fetcher:    fetcher,
		Scanner:    sc,
		StagingDir: "reports",
	})
	t.Cleanup(app.Shutdown)
	return app, sc
}

func do(app *App, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	app.Engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func waitForJob(t *testing.T, app *App, id string) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		w := do(app, http.MethodGet, "/v1/jobs/"+id)
		if w.Code != http.StatusOK {
			return false
		}
		var got Task
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			return false
		}
		task = got
		return task.Status != StatusRunning
	}, 2*time.Second, 10*time.Millisecond)
	return task
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t, nil)
	w := do(app, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	app.store = pinger{err: errors.New("connection refused")}
	w = do(app, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "database unreachable")
}

func TestListSensors(t *testing.T) {
	app, _ := newTestApp(t, nil)
	w := do(app, http.MethodGet, "/v1/sensors")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string][]string](t, w)
	assert.Equal(t, []string{"sw01", "swm-02", "swm-03", "swm-04", "swm-05"}, body["selectors"])
}

func TestReadings(t *testing.T) {
	app, _ := newTestApp(t, nil)

	w := do(app, http.MethodGet, "/v1/sensors/swm-02/readings")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Selector string `json:"selector"`
		Count    int    `json:"count"`
		Readings []struct {
			ID          int     `json:"id"`
			FlowPerHour *string `json:"flow_per_hour"`
		} `json:"readings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "swm-02", body.Selector)
	assert.Equal(t, 2, body.Count)
	assert.Nil(t, body.Readings[0].FlowPerHour)
	require.NotNil(t, body.Readings[1].FlowPerHour)
	assert.Equal(t, "3.5", *body.Readings[1].FlowPerHour)
}

func TestReadings_Errors(t *testing.T) {
	app, _ := newTestApp(t, nil)

	w := do(app, http.MethodGet, "/v1/sensors/swm-99/readings")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, HttpUnknownSelector, decode[ErrorResponse](t, w).ErrorType)

	w = do(app, http.MethodGet, "/v1/sensors/swm-05/readings")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, HttpInternalError, resp.ErrorType)
	assert.Equal(t, "database is locked", resp.Details)
}

func TestExport(t *testing.T) {
	app, _ := newTestApp(t, nil)

	w := do(app, http.MethodGet, "/v1/sensors/swm-02/export")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "sensor_data_swm-02.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, report.Columns, rows[0])

	w = do(app, http.MethodGet, "/v1/sensors/nope/export")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFetchJob(t *testing.T) {
	app, sc := newTestApp(t, &stubFetcher{})

	w := do(app, http.MethodPost, "/v1/fetch?ingest=true")
	require.Equal(t, http.StatusAccepted, w.Code)
	accepted := decode[map[string]string](t, w)
	require.NotEmpty(t, accepted["job_id"])
	assert.Equal(t, "/v1/jobs/"+accepted["job_id"], w.Header().Get("Location"))

	task := waitForJob(t, app, accepted["job_id"])
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.Equal(t, "fetch", task.Kind)
	assert.Equal(t, []string{"reports"}, sc.dirs)

	raw, err := json.Marshal(task.Result)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"attachments":2`)
	assert.Contains(t, string(raw), `"ingested":2`)
}

func TestFetchJob_BadQueryAndUnconfigured(t *testing.T) {
	app, _ := newTestApp(t, &stubFetcher{})
	w := do(app, http.MethodPost, "/v1/fetch?ingest=maybe")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	app, _ = newTestApp(t, nil)
	w = do(app, http.MethodPost, "/v1/fetch")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIngestJob_ConflictWhileBusy(t *testing.T) {
	fetcher := &stubFetcher{block: make(chan struct{})}
	app, _ := newTestApp(t, fetcher)

	w := do(app, http.MethodPost, "/v1/fetch")
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[map[string]string](t, w)["job_id"]

	w = do(app, http.MethodPost, "/v1/ingest")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, HttpJobConflict, decode[ErrorResponse](t, w).ErrorType)

	close(fetcher.block)
	assert.Equal(t, StatusSucceeded, waitForJob(t, app, id).Status)

	w = do(app, http.MethodPost, "/v1/ingest")
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestJobNotFound(t *testing.T) {
	app, _ := newTestApp(t, nil)
	w := do(app, http.MethodGet, "/v1/jobs/does-not-exist")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	app, _ := newTestApp(t, nil)
	w := do(app, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "sensor_report_rows_inserted_total"))
}
