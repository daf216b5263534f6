package store

import (
	"errors"
	"testing"
	"time"

	"github.com/ayusman/thumbswitch/internal/actuator"
	"github.com/ayusman/thumbswitch/internal/gesture"
	"github.com/ayusman/thumbswitch/internal/hardware"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestJournal_RecordsTransitionsInOrder(t *testing.T) {
	s := newTestStore(t)

	j, err := s.StartRun(12, "mock", time.Second)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	steps := []actuator.Transition{
		{Label: gesture.ThumbUp, From: hardware.Low, To: hardware.High, At: t0},
		{Label: gesture.ClosedFist, From: hardware.High, To: hardware.Low, At: t0.Add(time.Second)},
		{Label: gesture.ThumbUp, From: hardware.Low, To: hardware.High, At: t0.Add(2 * time.Second)},
	}
	for _, tr := range steps {
		if err := j.RecordTransition(tr); err != nil {
			t.Fatalf("RecordTransition() error = %v", err)
		}
	}

	got, err := s.Transitions().ListByRun(j.RunID())
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	if len(got) != len(steps) {
		t.Fatalf("got %d transitions, want %d", len(got), len(steps))
	}
	for i, tr := range got {
		want := steps[i]
		if tr.Sequence != i+1 || tr.Label != string(want.Label) ||
			tr.From != want.From.String() || tr.To != want.To.String() {
			t.Errorf("transition %d = %+v, want %+v", i, tr, want)
		}
		if !tr.At.Equal(want.At) {
			t.Errorf("transition %d at %v, want %v", i, tr.At, want.At)
		}
		if tr.ID == "" {
			t.Errorf("transition %d has no ID", i)
		}
	}
}

func TestJournal_RecordShutdown(t *testing.T) {
	s := newTestStore(t)

	j, err := s.StartRun(17, "serial", 500*time.Millisecond)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	run, err := s.Runs().GetByID(j.RunID())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !run.StoppedAt.IsZero() || run.FinalLevel != "" {
		t.Errorf("running run already finished: %+v", run)
	}
	if run.PinID != 17 || run.Driver != "serial" || run.Hold != 500*time.Millisecond {
		t.Errorf("run = %+v", run)
	}

	stop := t0.Add(time.Minute)
	if err := j.RecordShutdown("context canceled", hardware.Low, stop); err != nil {
		t.Fatalf("RecordShutdown() error = %v", err)
	}

	run, err = s.Runs().GetByID(j.RunID())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if run.FinalLevel != "LOW" || run.Cause != "context canceled" || !run.StoppedAt.Equal(stop) {
		t.Errorf("finished run = %+v", run)
	}
}

func TestRuns_NotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Runs().GetByID("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	if err := s.Runs().Finish("nope", hardware.Low, "x", t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish() error = %v, want ErrNotFound", err)
	}
}

func TestRuns_ListNewestFirst(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		run := &Run{PinID: 12, Driver: "mock", StartedAt: t0.Add(time.Duration(i) * time.Hour)}
		if err := s.Runs().Create(run); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	runs, err := s.Runs().List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if !runs[0].StartedAt.Equal(t0.Add(2 * time.Hour)) {
		t.Errorf("first run started %v, want newest", runs[0].StartedAt)
	}
}

// The controller can use the journal directly as its recorder.
func TestJournal_WithController(t *testing.T) {
	s := newTestStore(t)
	j, err := s.StartRun(12, "mock", time.Millisecond)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	pin := hardware.NewMockPin(12)
	cfg := actuator.DefaultConfig()
	cfg.Hold = time.Millisecond
	cfg.Recorder = j
	c := actuator.New(pin, nil, cfg)

	if err := pin.Configure(); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := c.Handle("Thumb_Up"); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	got, err := s.Transitions().ListByRun(j.RunID())
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	if len(got) != 1 || got[0].To != "HIGH" {
		t.Errorf("transitions = %+v, want one to HIGH", got)
	}

	run, err := s.Runs().GetByID(j.RunID())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if run.FinalLevel != "LOW" || run.Cause != "shutdown requested" {
		t.Errorf("run = %+v", run)
	}
}
