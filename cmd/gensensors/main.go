// Command gensensors writes a paired sensor data set for demos and manual
// checks: a CSV file for sensor 1 and a JSON file for sensor 2. Each of the
// -pairs sensor 1 readings gets a sensor 2 reading placed inside the
// detection threshold; -noise unmatched readings are added to each file.
//
// Usage:
//
//	go run ./cmd/gensensors \
//	  -pairs 50 -noise 200 -seed 7 \
//	  -csv-out data/SensorData1.csv \
//	  -json-out data/SensorData2.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/sensor-correlator/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

type options struct {
	pairs    int
	noise    int
	seed     uint64
	accuracy float64
}

// jsonReading is the sensor 2 document element.
type jsonReading struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func run() error {
	var opts options
	flag.IntVar(&opts.pairs, "pairs", 25, "number of genuine sensor 1 / sensor 2 pairs")
	flag.IntVar(&opts.noise, "noise", 100, "unmatched readings added to each sensor")
	flag.Uint64Var(&opts.seed, "seed", 1, "random seed")
	flag.Float64Var(&opts.accuracy, "accuracy", 100, "sensor accuracy in meters")
	csvOut := flag.String("csv-out", "data/SensorData1.csv", "output path for sensor 1 CSV")
	jsonOut := flag.String("json-out", "data/SensorData2.json", "output path for sensor 2 JSON")
	flag.Parse()

	if opts.pairs < 0 || opts.noise < 0 || !(opts.accuracy > 0) {
		flag.Usage()
		return fmt.Errorf("-pairs and -noise must be >= 0 and -accuracy > 0")
	}

	setA, setB := generate(opts)

	if err := writeCSV(*csvOut, setA); err != nil {
		return fmt.Errorf("writing sensor 1 data: %w", err)
	}
	log.Printf("wrote %d sensor 1 readings: %s", len(setA), *csvOut)

	if err := writeJSON(*jsonOut, setB); err != nil {
		return fmt.Errorf("writing sensor 2 data: %w", err)
	}
	log.Printf("wrote %d sensor 2 readings: %s", len(setB), *jsonOut)

	// Noise is random, so count what the correlator will actually find.
	threshold := domain.ThresholdForAccuracy(opts.accuracy)
	found := domain.Correlate(setA, setB, threshold)
	fmt.Printf("planted pairs: %d\n", opts.pairs)
	fmt.Printf("expected detections at %gm: %d\n", threshold, len(found))
	return nil
}

// generate plants each pair around a random site, with the sensor 2 reading
// at a random bearing and a distance of at most 90% of the threshold. Noise
// readings are scattered uniformly over the sphere.
func generate(opts options) (domain.ReadingSet, domain.ReadingSet) {
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	maxOffset := 0.9 * domain.ThresholdForAccuracy(opts.accuracy)

	setA := make(domain.ReadingSet, 0, opts.pairs+opts.noise)
	setB := make(domain.ReadingSet, 0, opts.pairs+opts.noise)

	for i := range opts.pairs {
		lat, lon := randomPoint(rng)
		bLat, bLon := domain.Destination(lat, lon, rng.Float64()*360, rng.Float64()*maxOffset, domain.EarthRadiusMeters)
		setA = append(setA, domain.Reading{ID: fmt.Sprintf("S1-%04d", i+1), Latitude: lat, Longitude: lon})
		setB = append(setB, domain.Reading{ID: fmt.Sprintf("S2-%04d", i+1), Latitude: bLat, Longitude: bLon})
	}
	for i := range opts.noise {
		lat, lon := randomPoint(rng)
		setA = append(setA, domain.Reading{ID: fmt.Sprintf("S1-N%04d", i+1), Latitude: lat, Longitude: lon})
		lat, lon = randomPoint(rng)
		setB = append(setB, domain.Reading{ID: fmt.Sprintf("S2-N%04d", i+1), Latitude: lat, Longitude: lon})
	}

	rng.Shuffle(len(setB), func(i, j int) { setB[i], setB[j] = setB[j], setB[i] })
	return setA, setB
}

// randomPoint samples uniformly by area, away from the poles.
func randomPoint(rng *rand.Rand) (float64, float64) {
	lat := math.Asin(rng.Float64()*2-1) * 180 / math.Pi * 0.95
	lon := rng.Float64()*360 - 180
	return lat, lon
}

func writeCSV(path string, set domain.ReadingSet) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "latitude", "longitude"}); err != nil {
		return err
	}
	for _, r := range set {
		if err := w.Write([]string{r.ID, formatCoord(r.Latitude), formatCoord(r.Longitude)}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func writeJSON(path string, set domain.ReadingSet) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	doc := make([]jsonReading, len(set))
	for i, r := range set {
		doc[i] = jsonReading{ID: r.ID, Latitude: r.Latitude, Longitude: r.Longitude}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// formatCoord keeps full float64 precision so planted pairs survive the
// round trip through text.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
