package e2e

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/thumbswitch/internal/actuator"
	"github.com/ayusman/thumbswitch/internal/bus"
	"github.com/ayusman/thumbswitch/internal/capture"
	"github.com/ayusman/thumbswitch/internal/classifier"
	"github.com/ayusman/thumbswitch/internal/gesture"
	"github.com/ayusman/thumbswitch/internal/hardware"
	"github.com/ayusman/thumbswitch/internal/publisher"
	"github.com/ayusman/thumbswitch/internal/server"
	"github.com/ayusman/thumbswitch/internal/store"
	"github.com/ayusman/thumbswitch/testdata"
)

const hold = 100 * time.Millisecond

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type actuatorNode struct {
	bus   *bus.Memory
	pin   *hardware.MockPin
	ctrl  *actuator.Controller
	store *store.Store
	done  chan error
}

func startActuator(t *testing.T, ctx context.Context) *actuatorNode {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	journal, err := st.StartRun(hardware.DefaultPinID, hardware.DriverMock, hold)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	mem := bus.NewMemory()
	t.Cleanup(func() { mem.Close() })
	sub, err := mem.Subscribe(bus.DefaultChannel, bus.DefaultQueueDepth)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	pin := hardware.NewMockPin(hardware.DefaultPinID)
	ctrl := actuator.New(pin, sub, actuator.Config{Hold: hold, Recorder: journal})

	n := &actuatorNode{bus: mem, pin: pin, ctrl: ctrl, store: st, done: make(chan error, 1)}
	go func() { n.done <- ctrl.Run(ctx) }()

	waitFor(t, "pin configured", pin.Configured)
	return n
}

func (n *actuatorNode) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-n.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("actuator did not stop")
		return nil
	}
}

// Frames flow from the publisher through the in-process bus to the pin.
func TestE2E_InProcessPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	node := startActuator(t, ctx)

	cls := classifier.NewMockClassifier()
	cls.Script(
		classifier.MockResult{Hands: classifier.SingleHand(gesture.ThumbUp, 0.95)},
		classifier.MockResult{},
		classifier.MockResult{Hands: classifier.SingleHand(gesture.OpenPalm, 0.8)},
	)
	cam := capture.NewMockCamera(testdata.Sequence(3), false)
	p := publisher.New(cam, cls, node.bus, publisher.Config{})

	if err := p.Run(ctx); !errors.Is(err, capture.ErrAcquisition) {
		t.Fatalf("publisher Run() error = %v, want ErrAcquisition at end of frames", err)
	}

	waitFor(t, "two messages processed", func() bool {
		return node.ctrl.Snapshot().Stats.Processed >= 2
	})
	if got := node.pin.Level(); got != hardware.High {
		t.Errorf("pin level = %s, want HIGH", got)
	}

	cancel()
	if err := node.wait(t); err != nil {
		t.Fatalf("actuator Run() error = %v", err)
	}
	if node.pin.Level() != hardware.Low || node.pin.Releases() != 1 {
		t.Errorf("after shutdown: level %s, releases %d; want LOW, 1", node.pin.Level(), node.pin.Releases())
	}
}

// The publisher process reaches the actuator over the websocket transport,
// and the journal records what happened.
func TestE2E_WebsocketPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	node := startActuator(t, ctx)

	ts := httptest.NewServer(server.New(server.Config{
		State: node.ctrl,
		Bus:   bus.NewServer(node.bus),
		Store: node.store,
	}))
	defer ts.Close()

	client := bus.NewClient(ts.Listener.Addr().String())
	defer client.Close()

	cls := classifier.NewMockClassifier()
	cls.Script(
		classifier.MockResult{Hands: classifier.SingleHand(gesture.ThumbUp, 0.9)},
		classifier.MockResult{Hands: classifier.SingleHand(gesture.ClosedFist, 0.9)},
	)
	cam := capture.NewMockCamera(testdata.Sequence(2), false)
	p := publisher.New(cam, cls, client, publisher.Config{})

	start := time.Now()
	if err := p.Run(ctx); !errors.Is(err, capture.ErrAcquisition) {
		t.Fatalf("publisher Run() error = %v", err)
	}

	// Closed_Fist arrives inside the hold and is applied once it expires.
	waitFor(t, "pin back to LOW", func() bool {
		snap := node.ctrl.Snapshot()
		return snap.Stats.Applied == 2 && snap.Level == "LOW"
	})
	if elapsed := time.Since(start); elapsed < hold {
		t.Errorf("second transition after %s, want at least %s", elapsed, hold)
	}

	writes := node.pin.Writes()
	want := []hardware.Level{hardware.Low, hardware.High, hardware.Low}
	if len(writes) != len(want) {
		t.Fatalf("writes = %v, want %v", writes, want)
	}
	for i := range want {
		if writes[i] != want[i] {
			t.Errorf("write %d = %s, want %s", i, writes[i], want[i])
		}
	}

	cancel()
	if err := node.wait(t); err != nil {
		t.Fatalf("actuator Run() error = %v", err)
	}

	runs, err := node.store.Runs().List()
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v", runs, err)
	}
	transitions, err := node.store.Transitions().ListByRun(runs[0].ID)
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	if len(transitions) != 2 || transitions[0].Label != "Thumb_Up" || transitions[1].Label != "Closed_Fist" {
		t.Errorf("journaled transitions = %+v", transitions)
	}
	if runs[0].FinalLevel != "LOW" {
		t.Errorf("final level = %q, want LOW", runs[0].FinalLevel)
	}
}
