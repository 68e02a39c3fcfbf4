// Package sqlite archives correlation runs and their detections in an
// embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/sensor-correlator/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	generated_at  TEXT    NOT NULL,
	threshold_m   REAL    NOT NULL,
	sensor1_count INTEGER NOT NULL,
	sensor2_count INTEGER NOT NULL,
	comparisons   INTEGER NOT NULL,
	detections    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS detections (
	run_id     INTEGER NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	sensor1_id TEXT    NOT NULL,
	sensor2_id TEXT    NOT NULL,
	distance_m REAL    NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// Archive stores every run as one row in runs and its detections, in
// report order, in detections.
// It implements pipeline.DetectionSink.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// One connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect archive: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply archive schema: %w", err)
	}

	logger.Info("sqlite archive ready", "path", path)
	return &Archive{db: db, logger: logger}, nil
}

func (a *Archive) Name() string { return "sqlite" }

// Write stores the report in a single transaction.
func (a *Archive) Write(ctx context.Context, report domain.Report) (err error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (generated_at, threshold_m, sensor1_count, sensor2_count, comparisons, detections)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		report.GeneratedAt.UTC().Format(time.RFC3339Nano),
		report.ThresholdMeters,
		report.SensorACount,
		report.SensorBCount,
		report.Comparisons,
		len(report.Detections),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO detections (run_id, seq, sensor1_id, sensor2_id, distance_m) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare detection insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range report.Detections {
		if _, err = stmt.ExecContext(ctx, runID, i, d.SourceAID, d.SourceBID, d.DistanceMeters); err != nil {
			return fmt.Errorf("insert detection %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit archive transaction: %w", err)
	}
	a.logger.Debug("run archived", "run_id", runID, "detections", len(report.Detections))
	return nil
}

// RunDetections returns the archived detections of a run in their original order.
func (a *Archive) RunDetections(ctx context.Context, runID int64) ([]domain.Detection, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT sensor1_id, sensor2_id, distance_m FROM detections WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	detections := []domain.Detection{}
	for rows.Next() {
		var d domain.Detection
		if err := rows.Scan(&d.SourceAID, &d.SourceBID, &d.DistanceMeters); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

// LatestRunID returns the id of the most recently archived run, or 0 when
// the archive is empty.
func (a *Archive) LatestRunID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := a.db.QueryRowContext(ctx, `SELECT MAX(id) FROM runs`).Scan(&id); err != nil {
		return 0, fmt.Errorf("latest run: %w", err)
	}
	return id.Int64, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}
