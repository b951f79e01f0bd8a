package scanner

import (
	"strings"
	"testing"
	"time"

	"sensor_report_loader/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testColumns() config.CSVConfig {
	return config.CSVConfig{
		TimeColumn:       "time",
		TimeLayout:       "Mon, 02 Jan 2006 15:04:05",
		WaterFlowColumn:  "Water Flow Value",
		TotalPulseColumn: "Total Pulse",
		LastPulseColumn:  "Last Pulse",
		BatteryColumn:    "Battery",
	}
}

func TestNormalize_DropsColumnsAndSorts(t *testing.T) {
	input := "\xEF\xBB\xBFUnnamed: 0,time,Water Flow Value,Total Pulse,,Battery\n" +
		`0,"Mon, 04 Mar 2024 02:00:00",13.5,120,x,3.61` + "\n" +
		`1,"not a date",1,1,x,1` + "\n" +
		`2,"Mon, 04 Mar 2024 01:00:00",10.0,100,x,3.62` + "\n" +
		`3,"Mon, 04 Mar 2024 01:00:00",11.0,110,x,3.60` + "\n"

	table, err := NewNormalizer(testColumns()).Normalize(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"time", "Water Flow Value", "Total Pulse", "Battery"}, table.Columns)
	assert.Equal(t, 1, table.Dropped)
	require.Len(t, table.Rows, 3)

	// stable: equal timestamps keep file order
	assert.Equal(t, "10.0", table.Rows[0].Fields["Water Flow Value"])
	assert.Equal(t, "11.0", table.Rows[1].Fields["Water Flow Value"])
	assert.Equal(t, "13.5", table.Rows[2].Fields["Water Flow Value"])
	assert.Equal(t, time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC), table.Rows[0].Time)
	assert.Equal(t, 4, table.Rows[0].Line)

	_, hasUnnamed := table.Rows[0].Fields["Unnamed: 0"]
	assert.False(t, hasUnnamed)
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "zero bytes", input: "", want: ErrEmptyInput},
		{name: "header only", input: "time,Water Flow Value\n", want: ErrEmptyInput},
		{name: "no valid timestamps", input: "time,Water Flow Value\nyesterday,1\n,2\n", want: ErrEmptyInput},
		{name: "missing time column", input: "date,Water Flow Value\n\"Mon, 04 Mar 2024 01:00:00\",1\n", want: ErrMissingColumn},
		{name: "time column unnamed only", input: "Unnamed: 0,Water Flow Value\n1,2\n", want: ErrMissingColumn},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewNormalizer(testColumns()).Normalize(strings.NewReader(tc.input))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRead_KeepsTimestampsForLater(t *testing.T) {
	n := NewNormalizer(testColumns())

	raw, err := n.Read(strings.NewReader("Unnamed: 0,time,Battery\n0,not a date,3.6\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "Battery"}, raw.Columns)

	_, err = n.Rows(raw)
	require.ErrorIs(t, err, ErrEmptyInput)

	raw, err = n.Read(strings.NewReader("date,Battery\n1,2\n"))
	require.NoError(t, err)
	_, err = n.Rows(raw)
	require.ErrorIs(t, err, ErrMissingColumn)
}

func TestRead_WhitespaceOnlyHasNoHeader(t *testing.T) {
	_, err := NewNormalizer(testColumns()).Read(strings.NewReader("  \r\n\n"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEmptyInput)
}

func TestNormalize_MalformedCSV(t *testing.T) {
	input := "time,Water Flow Value\n\"Mon, 04 Mar 2024 01:00:00,1\n"
	_, err := NewNormalizer(testColumns()).Normalize(strings.NewReader(input))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEmptyInput)
	require.NotErrorIs(t, err, ErrMissingColumn)
}

func TestNormalize_ShortRowsKeepPresentFields(t *testing.T) {
	input := "time,Water Flow Value,Battery\n" +
		`"Tue, 05 Mar 2024 08:00:00",7.25` + "\n"

	table, err := NewNormalizer(testColumns()).Normalize(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	reading, err := table.Rows[0].Reading(2, testColumns())
	require.NoError(t, err)
	assert.True(t, reading.WaterFlowValue.Valid)
	assert.False(t, reading.Battery.Valid)
}

func TestRowReading_Coercion(t *testing.T) {
	ts := time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)
	row := Row{Line: 2, Time: ts, Fields: map[string]string{
		"Water Flow Value": " 10.5 ",
		"Total Pulse":      "12.0",
		"Last Pulse":       "7.9",
		"Battery":          "NaN",
	}}

	reading, err := row.Reading(3, testColumns())
	require.NoError(t, err)
	assert.Equal(t, 3, reading.SensorID)
	assert.Equal(t, ts, reading.Time)
	assert.Equal(t, "10.5", reading.WaterFlowValue.Decimal.String())
	require.NotNil(t, reading.TotalPulse)
	assert.Equal(t, int64(12), *reading.TotalPulse)
	require.NotNil(t, reading.LastPulse)
	assert.Equal(t, int64(7), *reading.LastPulse)
	assert.False(t, reading.Battery.Valid)
	assert.False(t, reading.FlowPerHour.Valid)
}

func TestRowReading_NullsAndFailures(t *testing.T) {
	empty := Row{Fields: map[string]string{"Water Flow Value": "", "Total Pulse": "nan"}}
	reading, err := empty.Reading(1, testColumns())
	require.NoError(t, err)
	assert.False(t, reading.WaterFlowValue.Valid)
	assert.Nil(t, reading.TotalPulse)
	assert.Nil(t, reading.LastPulse)

	for _, field := range []string{"Water Flow Value", "Total Pulse", "Last Pulse", "Battery"} {
		bad := Row{Line: 9, Fields: map[string]string{field: "abc"}}
		_, err := bad.Reading(1, testColumns())
		require.ErrorIs(t, err, ErrRowCoercion, field)
		require.ErrorContains(t, err, "line 9")
	}
}
