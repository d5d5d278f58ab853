// Package audit persists the per-run report spec §7 requires on shutdown:
// every dropped anchor, corrupt record, protection-breach attempt, and
// the operator-correction trail, so an operator can remediate and
// re-run.
//
// Grounded on the teacher's internal/storage/storage_manager.go:
// database/sql against PostgreSQL via lib/pq, a connection-pool
// configured in the constructor, and an initSchema executed once at
// startup with CREATE TABLE IF NOT EXISTS plus separate CREATE INDEX
// statements. Trimmed from the teacher's ten video-analysis tables
// (jobs, frames, objects, scenes, ...) to the three this engine's
// report actually needs.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fieldlens/reidcore/internal/model"
)

// Recorder persists run summaries, conflict events, and the operator
// correction trail to PostgreSQL.
type Recorder struct {
	db *sql.DB
}

// NewRecorder opens a connection pool against postgresURL and ensures the
// audit schema exists.
func NewRecorder(postgresURL string) (*Recorder, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	r := &Recorder{db: db}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return r, nil
}

func (r *Recorder) initSchema() error {
	schema := `
	CREATE SCHEMA IF NOT EXISTS reidcore;

	CREATE TABLE IF NOT EXISTS reidcore.runs (
		run_id VARCHAR(255) PRIMARY KEY,
		video_id VARCHAR(255) NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		frames_processed INT DEFAULT 0,
		dropped_anchors INT DEFAULT 0,
		corrupt_gallery_records INT DEFAULT 0,
		protection_breaches INT DEFAULT 0,
		feature_extraction_misses INT DEFAULT 0,
		status VARCHAR(50) NOT NULL DEFAULT 'running'
	);

	CREATE TABLE IF NOT EXISTS reidcore.conflicts (
		id SERIAL PRIMARY KEY,
		run_id VARCHAR(255) NOT NULL REFERENCES reidcore.runs(run_id) ON DELETE CASCADE,
		conflict_type VARCHAR(50) NOT NULL,
		player_id VARCHAR(255) NOT NULL,
		tracks JSONB NOT NULL,
		frame_index BIGINT NOT NULL,
		resolved BOOLEAN NOT NULL,
		winner_track BIGINT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS reidcore.corrections (
		id SERIAL PRIMARY KEY,
		run_id VARCHAR(255) NOT NULL REFERENCES reidcore.runs(run_id) ON DELETE CASCADE,
		kind VARCHAR(50) NOT NULL,
		track_id BIGINT NOT NULL,
		player_id VARCHAR(255),
		applied_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_runs_video_id ON reidcore.runs(video_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_run_id ON reidcore.conflicts(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_player_id ON reidcore.conflicts(player_id)`,
		`CREATE INDEX IF NOT EXISTS idx_corrections_run_id ON reidcore.corrections(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_corrections_track_id ON reidcore.corrections(track_id)`,
	}
	for _, stmt := range indexes {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w (statement: %s)", err, stmt)
		}
	}
	return nil
}

// StartRun inserts the opening row for a new engine run.
func (r *Recorder) StartRun(ctx context.Context, runID, videoID string, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reidcore.runs (run_id, video_id, started_at) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id) DO NOTHING`,
		runID, videoID, startedAt,
	)
	return err
}

// RecordConflict appends one PlayerConflict, resolved or vetoed, to the run's audit
// trail (spec §4.8, §8).
func (r *Recorder) RecordConflict(ctx context.Context, runID string, c model.PlayerConflict) error {
	tracksJSON, err := json.Marshal(c.Tracks)
	if err != nil {
		return fmt.Errorf("marshal conflict tracks: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO reidcore.conflicts (run_id, conflict_type, player_id, tracks, frame_index, resolved, winner_track)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, c.Type, c.PlayerID, tracksJSON, c.Frame, c.Resolved, c.WinnerTrack,
	)
	return err
}

// RecordCorrection appends one operator correction to the audit trail
// (spec §7: "every dropped anchor... is counted in a per-run report").
func (r *Recorder) RecordCorrection(ctx context.Context, runID string, c model.Correction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reidcore.corrections (run_id, kind, track_id, player_id, applied_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		runID, c.Kind, c.TrackID, nullableString(c.PlayerID), c.Timestamp,
	)
	return err
}

// FinalizeRun writes the run's closing counters and status (spec §7's
// per-run report: dropped anchors, corrupt records, protection breaches,
// frames processed).
func (r *Recorder) FinalizeRun(ctx context.Context, runID string, counters model.RunCounters, completedAt time.Time, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE reidcore.runs SET
			completed_at = $2,
			frames_processed = $3,
			dropped_anchors = $4,
			corrupt_gallery_records = $5,
			protection_breaches = $6,
			feature_extraction_misses = $7,
			status = $8
		 WHERE run_id = $1`,
		runID, completedAt, counters.FramesProcessed, counters.DroppedAnchors,
		counters.CorruptGalleryRecords, counters.ProtectionBreaches,
		counters.FeatureExtractionMisses, status,
	)
	return err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Close releases the underlying connection pool.
func (r *Recorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
