// Package store handles SQLite persistence of run history.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/napfilter/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Store wraps SQLite access for run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			source_path TEXT NOT NULL,
			cleaned_path TEXT NOT NULL,
			summary_path TEXT NOT NULL,
			schema_name TEXT NOT NULL,
			nap_min_s INTEGER NOT NULL,
			visits INTEGER NOT NULL,
			data_rows INTEGER NOT NULL,
			kept_rows INTEGER NOT NULL,
			dropped_rows INTEGER NOT NULL,
			nap_runs INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS run_visits (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			participant_id TEXT NOT NULL,
			age TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			kept_rows INTEGER NOT NULL,
			dropped_rows INTEGER NOT NULL,
			nap_runs INTEGER NOT NULL,
			raw_duration_s INTEGER NOT NULL,
			filtered_duration_s INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_ended_at ON runs(ended_at);`,
		`CREATE INDEX IF NOT EXISTS idx_run_visits_participant ON run_visits(participant_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun stores a completed run and its visits. A new id is assigned when
// rec.ID is empty; the stored id is returned.
func (s *Store) InsertRun(ctx context.Context, rec model.RunRecord, visits []model.VisitResult) (id string, err error) {
	id = rec.ID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, ended_at, source_path, cleaned_path, summary_path, schema_name, nap_min_s, visits, data_rows, kept_rows, dropped_rows, nap_runs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.EndedAt.UTC().Format(time.RFC3339Nano),
		rec.SourcePath,
		rec.CleanedPath,
		rec.SummaryPath,
		rec.Schema,
		rec.NapMinS,
		rec.Visits,
		rec.DataRows,
		rec.KeptRows,
		rec.DroppedRows,
		rec.NapRuns,
	)
	if err != nil {
		return "", err
	}

	if len(visits) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO run_visits (run_id, seq, participant_id, age, row_count, kept_rows, dropped_rows, nap_runs, raw_duration_s, filtered_duration_s)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return "", err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, v := range visits {
			_, err = stmt.ExecContext(ctx, id, v.Seq, v.Key.ParticipantID, v.Key.Age,
				v.Rows, v.KeptRows, v.DroppedRows, v.NapRuns,
				int64(v.Raw[model.FieldDuration]), int64(v.Filtered[model.FieldDuration]))
			if err != nil {
				return "", err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

const runColumns = `id, started_at, ended_at, source_path, cleaned_path, summary_path, schema_name, nap_min_s, visits, data_rows, kept_rows, dropped_rows, nap_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (model.RunRecord, error) {
	var rec model.RunRecord
	var startedAt, endedAt string
	if err := sc.Scan(&rec.ID, &startedAt, &endedAt, &rec.SourcePath, &rec.CleanedPath, &rec.SummaryPath,
		&rec.Schema, &rec.NapMinS, &rec.Visits, &rec.DataRows, &rec.KeptRows, &rec.DroppedRows, &rec.NapRuns); err != nil {
		return model.RunRecord{}, err
	}
	var err error
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return model.RunRecord{}, err
	}
	if rec.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
		return model.RunRecord{}, err
	}
	return rec, nil
}

// ListRuns returns runs filtered by cfg, oldest first. With cfg.Last set only
// the most recent matches are returned.
func (s *Store) ListRuns(ctx context.Context, cfg model.HistoryConfig) ([]model.RunRecord, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if cfg.Schema != "" {
		clauses = append(clauses, "schema_name = ?")
		args = append(args, cfg.Schema)
	}
	if cfg.Since != nil {
		clauses = append(clauses, "ended_at >= ?")
		args = append(args, cfg.Since.UTC().Format(time.RFC3339Nano))
	}
	limit := -1
	if cfg.Last > 0 {
		limit = cfg.Last
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM (
			SELECT %s FROM runs
			WHERE %s
			ORDER BY ended_at DESC
			LIMIT ?
		)
		ORDER BY ended_at ASC`, runColumns, runColumns, strings.Join(clauses, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var runs []model.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (model.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM runs WHERE id = ?`, runColumns), id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return rec, err
}

// ListVisits returns the visits of a run in processing order.
func (s *Store) ListVisits(ctx context.Context, runID string) ([]model.StoredVisit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, participant_id, age, row_count, kept_rows, dropped_rows, nap_runs, raw_duration_s, filtered_duration_s
		 FROM run_visits
		 WHERE run_id = ?
		 ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var visits []model.StoredVisit
	for rows.Next() {
		var v model.StoredVisit
		if err := rows.Scan(&v.RunID, &v.Seq, &v.Key.ParticipantID, &v.Key.Age, &v.Rows, &v.KeptRows,
			&v.DroppedRows, &v.NapRuns, &v.RawDurationS, &v.FilteredDurationS); err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return visits, nil
}
