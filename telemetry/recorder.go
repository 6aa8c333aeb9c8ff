// Package telemetry stores decision ticks in SQLite and summarises runs.
package telemetry

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pursuit-core/pursuit"
	"pursuit-core/utils"
)

// schema.sql creates the runs and ticks tables.
//
//go:embed schema.sql
var schemaSQL string

var ErrNoRun = errors.New("no active run")

const flushEvery = 256

type tickRow struct {
	agentID string
	d       pursuit.Decision
}

// Recorder buffers ticks and writes them in batches. It implements
// pursuit.TickObserver and must be used from a single goroutine.
type Recorder struct {
	db  *sql.DB
	log *utils.Logger

	runID   string
	pending []tickRow
	err     error
	written int
}

// Open creates or opens the database at path. ":memory:" keeps everything
// in one in-process connection.
func Open(path string, log *utils.Logger) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	// One connection: an in-memory database is per connection, and the
	// recorder has a single writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply telemetry schema: %w", err)
	}
	log.Debug("telemetry schema ready at %s", path)
	return &Recorder{db: db, log: log}, nil
}

func (r *Recorder) DB() *sql.DB { return r.db }

// RunID is the id of the active run, "" before StartRun.
func (r *Recorder) RunID() string { return r.runID }

// StartRun opens a new run. cfg is stored as JSON for later inspection.
func (r *Recorder) StartRun(name, mode string, cfg any, start time.Time) (string, error) {
	if r.runID != "" {
		if err := r.EndRun(start); err != nil {
			return "", err
		}
	}
	blob, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode run config: %w", err)
	}
	id := uuid.New().String()
	if _, err := r.db.Exec(
		`INSERT INTO runs (id, name, mode, config_json, started_ms) VALUES (?, ?, ?, ?, ?)`,
		id, name, mode, string(blob), start.UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	r.runID = id
	r.written = 0
	r.log.Info("telemetry run %s started (%s, %s)", id, name, mode)
	return id, nil
}

// ObserveTick buffers one decision. Write errors are kept and returned by
// the next Flush or EndRun.
func (r *Recorder) ObserveTick(agentID string, d pursuit.Decision) {
	if r.runID == "" {
		return
	}
	r.pending = append(r.pending, tickRow{agentID: agentID, d: d})
	if len(r.pending) >= flushEvery {
		if err := r.Flush(); err != nil {
			r.log.Error("telemetry flush: %v", err)
		}
	}
}

// Flush writes buffered ticks in one transaction.
func (r *Recorder) Flush() error {
	if r.err != nil {
		return r.err
	}
	if len(r.pending) == 0 {
		return nil
	}
	if r.runID == "" {
		return ErrNoRun
	}

	tx, err := r.db.Begin()
	if err != nil {
		r.err = fmt.Errorf("begin tick batch: %w", err)
		return r.err
	}
	stmt, err := tx.Prepare(`INSERT INTO ticks
		(run_id, agent_id, t_ms, mode, phase, cause, steer, throttle, distance, alignment, reset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		r.err = fmt.Errorf("prepare tick insert: %w", err)
		return r.err
	}
	defer stmt.Close()

	for _, row := range r.pending {
		d := row.d
		var distance, alignment sql.NullFloat64
		if d.HasTarget {
			distance = sql.NullFloat64{Float64: d.Tracking.Distance, Valid: true}
			alignment = sql.NullFloat64{Float64: d.Tracking.Alignment, Valid: true}
		}
		reset := 0
		if d.Reset != nil {
			reset = 1
		}
		if _, err := stmt.Exec(r.runID, row.agentID, d.At.UnixMilli(),
			d.Mode.String(), d.Phase.String(), d.Trigger.String(),
			d.Command.Steer, d.Command.Throttle, distance, alignment, reset,
		); err != nil {
			tx.Rollback()
			r.err = fmt.Errorf("insert tick: %w", err)
			return r.err
		}
	}
	if err := tx.Commit(); err != nil {
		r.err = fmt.Errorf("commit tick batch: %w", err)
		return r.err
	}
	r.written += len(r.pending)
	r.pending = r.pending[:0]
	return nil
}

// EndRun flushes and stamps the run's end time.
func (r *Recorder) EndRun(end time.Time) error {
	if r.runID == "" {
		return ErrNoRun
	}
	flushErr := r.Flush()
	_, err := r.db.Exec(`UPDATE runs SET ended_ms = ? WHERE id = ?`, end.UnixMilli(), r.runID)
	if err != nil {
		err = fmt.Errorf("end run: %w", err)
	}
	r.log.Info("telemetry run %s ended: %d ticks", r.runID, r.written)
	r.runID = ""
	return errors.Join(flushErr, err)
}

// Close ends any active run at the wall clock and closes the database.
func (r *Recorder) Close() error {
	var err error
	if r.runID != "" {
		err = r.EndRun(time.Now())
	}
	return errors.Join(err, r.db.Close())
}
