// Command validate checks sensor inputs before a correlation run and,
// optionally, re-checks a detections file written by an earlier run. Every
// malformed record is listed instead of stopping at the first one. Defaults
// come from the same environment as cmd/correlate (SENSOR1_PATH,
// SENSOR_ACCURACY_M, EARTH_RADIUS_M, ...), so a re-check uses the settings
// of the run it verifies.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -sensor1 data/SensorData1.csv \
//	  -sensor2 data/SensorData2.json \
//	  -out genuine_detections.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/couchcryptid/sensor-correlator/internal/adapter/csvfile"
	"github.com/couchcryptid/sensor-correlator/internal/adapter/jsonfile"
	"github.com/couchcryptid/sensor-correlator/internal/config"
	"github.com/couchcryptid/sensor-correlator/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type inputs struct {
	sensor1  string
	sensor2  string
	out      string
	accuracy float64
	radius   float64
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	var in inputs
	flag.StringVar(&in.sensor1, "sensor1", cfg.Sensor1Path, "sensor 1 readings (CSV)")
	flag.StringVar(&in.sensor2, "sensor2", cfg.Sensor2Path, "sensor 2 readings (JSON)")
	flag.StringVar(&in.out, "out", "", "detections CSV to check against a fresh correlation (optional)")
	flag.Float64Var(&in.accuracy, "accuracy", cfg.SensorAccuracyMeters, "sensor accuracy in meters")
	flag.Float64Var(&in.radius, "radius", cfg.EarthRadiusMeters, "sphere radius in meters used for distances")
	flag.Parse()

	if in.sensor1 == "" || in.sensor2 == "" || !(in.accuracy > 0) || !(in.radius > 0) {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(context.Background(), in, os.Stdout))
}

func run(ctx context.Context, in inputs, w io.Writer) int {
	fmt.Fprintln(w, "=== Sensor Data Validation ===")
	fmt.Fprintln(w)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	setA, recordsA, err := loadCSV(ctx, in.sensor1, logger)
	if err != nil {
		fmt.Fprintf(w, "FATAL: load sensor1: %v\n", err)
		return 1
	}
	setB, recordsB, err := loadJSON(ctx, in.sensor2, logger)
	if err != nil {
		fmt.Fprintf(w, "FATAL: load sensor2: %v\n", err)
		return 1
	}

	phases := []*phase{recordsA, recordsB, checkDuplicateIDs(setA, setB)}
	if in.out != "" {
		correlator := domain.NewCorrelator(in.radius)
		phases = append(phases, checkOutput(in.out, setA, setB, correlator, domain.ThresholdForAccuracy(in.accuracy)))
	}

	fmt.Fprintln(w)
	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-32s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Readings: %d sensor1, %d sensor2\n", len(setA), len(setB))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// recordPhase returns a phase plus the lenient, range-checking options that
// feed every rejected record into it.
func recordPhase(sensor string) (*phase, domain.ReadOptions) {
	p := &phase{name: sensor + " records"}
	return p, domain.ReadOptions{
		Mode:       domain.ParseLenient,
		CheckRange: true,
		OnSkip: func(e *domain.RecordError) {
			p.errorf("record %d: %v", e.Record, e.Err)
		},
	}
}

func loadCSV(ctx context.Context, path string, logger *slog.Logger) (domain.ReadingSet, *phase, error) {
	p, opts := recordPhase("sensor1")
	set, err := csvfile.NewReader(path, "sensor1", opts, logger).Load(ctx)
	return set, p, err
}

func loadJSON(ctx context.Context, path string, logger *slog.Logger) (domain.ReadingSet, *phase, error) {
	p, opts := recordPhase("sensor2")
	set, err := jsonfile.NewReader(path, "sensor2", opts, logger).Load(ctx)
	return set, p, err
}

// checkDuplicateIDs flags ids repeated within one sensor. Correlation
// accepts them, but each copy yields its own detections.
func checkDuplicateIDs(setA, setB domain.ReadingSet) *phase {
	p := &phase{name: "unique ids"}
	for _, s := range []struct {
		sensor string
		set    domain.ReadingSet
	}{{"sensor1", setA}, {"sensor2", setB}} {
		seen := make(map[string]int, len(s.set))
		for _, r := range s.set {
			seen[r.ID]++
		}
		dups := make([]string, 0)
		for id, n := range seen {
			if n > 1 {
				dups = append(dups, id)
			}
		}
		slices.Sort(dups)
		for _, id := range dups {
			p.errorf("%s: id %q appears %d times", s.sensor, id, seen[id])
		}
	}
	return p
}

// checkOutput compares a written detections file with a fresh correlation,
// pair by pair and in order.
func checkOutput(path string, setA, setB domain.ReadingSet, correlator *domain.Correlator, threshold float64) *phase {
	p := &phase{name: "output consistency"}

	f, err := os.Open(path)
	if err != nil {
		p.errorf("open output: %v", err)
		return p
	}
	defer f.Close()

	got, err := csvfile.DecodeDetections(f)
	if err != nil {
		p.errorf("read output: %v", err)
		return p
	}
	want := correlator.Correlate(setA, setB, threshold)

	if len(got) != len(want) {
		p.errorf("output has %d detections, expected %d", len(got), len(want))
	}
	for i := range min(len(got), len(want)) {
		if got[i].SourceAID != want[i].SourceAID || got[i].SourceBID != want[i].SourceBID {
			p.errorf("row %d: got (%s, %s), expected (%s, %s)", i+1,
				got[i].SourceAID, got[i].SourceBID, want[i].SourceAID, want[i].SourceBID)
		}
	}
	return p
}
