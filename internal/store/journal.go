package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/thumbswitch/internal/actuator"
	"github.com/ayusman/thumbswitch/internal/hardware"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run is one actuator process lifetime.
type Run struct {
	ID         string
	PinID      int
	Driver     string
	Hold       time.Duration
	StartedAt  time.Time
	StoppedAt  time.Time // zero while running
	FinalLevel string
	Cause      string
}

// Transition is a journaled pin level change.
type Transition struct {
	ID       string
	RunID    string
	Sequence int
	Label    string
	From     string
	To       string
	At       time.Time
}

// RunRepository reads and writes runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new run. ID and StartedAt are filled in when empty.
func (r *RunRepository) Create(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO runs (id, pin_id, driver, hold_ms, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.PinID, run.Driver, run.Hold.Milliseconds(), run.StartedAt.UTC(),
	)
	return err
}

// Finish records how a run ended.
func (r *RunRepository) Finish(id string, level hardware.Level, cause string, at time.Time) error {
	res, err := r.db.Exec(
		`UPDATE runs SET stopped_at = ?, final_level = ?, cause = ? WHERE id = ?`,
		at.UTC(), level.String(), cause, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	row := r.db.QueryRow(
		`SELECT id, pin_id, driver, hold_ms, started_at, stopped_at, final_level, cause
		 FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// List returns all runs, newest first.
func (r *RunRepository) List() ([]*Run, error) {
	rows, err := r.db.Query(
		`SELECT id, pin_id, driver, hold_ms, started_at, stopped_at, final_level, cause
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var holdMs int64
	var stoppedAt sql.NullTime
	var finalLevel, cause sql.NullString

	if err := row.Scan(&run.ID, &run.PinID, &run.Driver, &holdMs, &run.StartedAt,
		&stoppedAt, &finalLevel, &cause); err != nil {
		return nil, err
	}

	run.Hold = time.Duration(holdMs) * time.Millisecond
	if stoppedAt.Valid {
		run.StoppedAt = stoppedAt.Time
	}
	run.FinalLevel = finalLevel.String
	run.Cause = cause.String
	return run, nil
}

// TransitionRepository reads and writes transitions.
type TransitionRepository struct {
	db *sql.DB
}

// Transitions returns the transition repository for this store.
func (s *Store) Transitions() *TransitionRepository {
	return &TransitionRepository{db: s.db}
}

// Create inserts a transition. ID is filled in when empty.
func (r *TransitionRepository) Create(t *Transition) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	_, err := r.db.Exec(
		`INSERT INTO transitions (id, run_id, sequence, label, from_level, to_level, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RunID, t.Sequence, t.Label, t.From, t.To, t.At.UTC(),
	)
	return err
}

// ListByRun returns a run's transitions in the order they were applied.
func (r *TransitionRepository) ListByRun(runID string) ([]*Transition, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, sequence, label, from_level, to_level, at
		 FROM transitions WHERE run_id = ? ORDER BY sequence`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transition
	for rows.Next() {
		t := &Transition{}
		if err := rows.Scan(&t.ID, &t.RunID, &t.Sequence, &t.Label, &t.From, &t.To, &t.At); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Journal records one run's transitions. It implements actuator.Recorder.
type Journal struct {
	store *Store
	run   *Run

	mu  sync.Mutex
	seq int
}

// StartRun inserts a run row and returns a Journal bound to it.
func (s *Store) StartRun(pinID int, driver string, hold time.Duration) (*Journal, error) {
	run := &Run{PinID: pinID, Driver: driver, Hold: hold}
	if err := s.Runs().Create(run); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return &Journal{store: s, run: run}, nil
}

// RunID returns the ID of the journaled run.
func (j *Journal) RunID() string {
	return j.run.ID
}

// RecordTransition journals an applied transition.
func (j *Journal) RecordTransition(t actuator.Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	return j.store.Transitions().Create(&Transition{
		RunID:    j.run.ID,
		Sequence: j.seq,
		Label:    string(t.Label),
		From:     t.From.String(),
		To:       t.To.String(),
		At:       t.At,
	})
}

// RecordShutdown stores the final level and the reason the run ended.
func (j *Journal) RecordShutdown(cause string, level hardware.Level, at time.Time) error {
	return j.store.Runs().Finish(j.run.ID, level, cause, at)
}

var _ actuator.Recorder = (*Journal)(nil)
