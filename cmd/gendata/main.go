// Command gendata writes sample report-*.csv files in the mail report format,
// including the malformed variants the loader has to cope with.
package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/alexflint/go-arg"
)

const timeLayout = "Mon, 02 Jan 2006 15:04:05"

var header = []string{"", "time", "Water Flow Value", "Total Pulse", "Last Pulse", "Battery"}

type args struct {
	Out  string `arg:"positional,required" help:"output directory"`
	Days int    `arg:"--days" default:"7" help:"days of hourly readings per report"`
	Seed int64  `arg:"--seed" help:"random seed (default: current time)"`
}

// Generator produces the rows of one report file.
type Generator struct {
	filename  string
	generator func(rng *rand.Rand, start time.Time, days int) [][]string
}

func main() {
	var a args
	arg.MustParse(&a)

	if err := os.MkdirAll(a.Out, 0o755); err != nil {
		fmt.Printf("Failed to create directory: %v\n", err)
		os.Exit(1)
	}
	if a.Seed == 0 {
		a.Seed = time.Now().UnixNano()
	}

	start := time.Now().Truncate(24*time.Hour).AddDate(0, 0, -a.Days)

	generators := []Generator{
		{"report-pv-sw01.csv", meterReadings(120, 4.5)},
		{"report-d-swm-02.csv", meterReadings(5400, 12.0)},
		{"report-d-swm-03.csv", meterReadings(860, 2.2)},
		{"report-d-swm-04.csv", meterReadings(10, 0.8)},
		{"report-d-swm-05.csv", withBadTimestamps(meterReadings(300, 6.0))},
		{"report-d-swm-02-gaps.csv", withGaps(meterReadings(5600, 12.0))},
		{"report-unmapped-tank.csv", meterReadings(0, 1.0)},
	}

	var wg sync.WaitGroup
	for i, gen := range generators {
		wg.Add(1)
		go generateMockData(rand.New(rand.NewSource(a.Seed+int64(i))), a.Out, gen, start, a.Days, &wg)
	}
	wg.Wait()

	// a zero-byte attachment and a header-only export
	if err := os.WriteFile(filepath.Join(a.Out, "report-d-swm-03-empty.csv"), nil, 0o644); err != nil {
		fmt.Printf("Failed to write empty report: %v\n", err)
	}
	if err := writeCSV(filepath.Join(a.Out, "report-d-swm-04-header.csv"), nil); err != nil {
		fmt.Printf("Failed to write header-only report: %v\n", err)
	}

	fmt.Println("All mocked reports generated.")
}

func generateMockData(rng *rand.Rand, outputDir string, generator Generator, start time.Time, days int, wg *sync.WaitGroup) {
	defer wg.Done()
	csvFilepath := filepath.Join(outputDir, generator.filename)
	rows := generator.generator(rng, start, days)

	if err := writeCSV(csvFilepath, rows); err != nil {
		fmt.Printf("Failed to write %s: %v\n", generator.filename, err)
		return
	}

	fmt.Printf("Generated %s with %d rows\n", generator.filename, len(rows))
}

// meterReadings simulates an hourly cumulative water meter: the flow value
// grows by a daily-cycle consumption, pulses follow the flow, and the battery
// slowly drains.
func meterReadings(base, hourly float64) func(*rand.Rand, time.Time, int) [][]string {
	return func(rng *rand.Rand, start time.Time, days int) [][]string {
		var rows [][]string
		flow := base
		pulses := int64(base * 10)
		battery := 3.65

		for i := 0; i < days*24; i++ {
			ts := start.Add(time.Duration(i) * time.Hour)

			// More consumption during the day
			hourAngle := float64(ts.Hour()) * math.Pi / 12
			usage := hourly * (1 + 0.6*math.Sin(hourAngle-math.Pi/2)) * (0.8 + rng.Float64()*0.4)
			flow += math.Max(0, usage)

			last := int64(usage * 10)
			pulses += last
			battery = math.Max(3.1, battery-rng.Float64()*0.0005)

			rows = append(rows, []string{
				strconv.Itoa(i),
				ts.Format(timeLayout),
				strconv.FormatFloat(flow, 'f', 3, 64),
				strconv.FormatInt(pulses, 10) + ".0",
				strconv.FormatInt(last, 10),
				strconv.FormatFloat(battery, 'f', 3, 64),
			})
		}
		return rows
	}
}

// withBadTimestamps corrupts every 10th timestamp.
func withBadTimestamps(gen func(*rand.Rand, time.Time, int) [][]string) func(*rand.Rand, time.Time, int) [][]string {
	return func(rng *rand.Rand, start time.Time, days int) [][]string {
		rows := gen(rng, start, days)
		for i := range rows {
			if i%10 == 5 {
				rows[i][1] = "N/A"
			}
		}
		return rows
	}
}

// withGaps blanks random value cells and shuffles row order.
func withGaps(gen func(*rand.Rand, time.Time, int) [][]string) func(*rand.Rand, time.Time, int) [][]string {
	return func(rng *rand.Rand, start time.Time, days int) [][]string {
		rows := gen(rng, start, days)
		for i := range rows {
			if rng.Intn(8) == 0 {
				rows[i][2+rng.Intn(4)] = ""
			}
		}
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		return rows
	}
}

func writeCSV(filename string, rows [][]string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return file.Close()
}
