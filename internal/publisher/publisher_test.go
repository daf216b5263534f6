package publisher

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ayusman/thumbswitch/internal/bus"
	"github.com/ayusman/thumbswitch/internal/capture"
	"github.com/ayusman/thumbswitch/internal/classifier"
	"github.com/ayusman/thumbswitch/internal/gesture"
	"github.com/ayusman/thumbswitch/testdata"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type published struct {
	Channel string
	Payload string
}

// fakeBus records publishes and can be told to fail.
type fakeBus struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (b *fakeBus) Publish(ctx context.Context, channel, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.msgs = append(b.msgs, published{channel, payload})
	return nil
}

func (b *fakeBus) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *fakeBus) messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.msgs...)
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})
	return &buf
}

func newTestPublisher(frames int, config Config) (*Publisher, *capture.MockCamera, *classifier.MockClassifier, *fakeBus) {
	cam := capture.NewMockCamera(testdata.Sequence(frames), false)
	cls := classifier.NewMockClassifier()
	fb := &fakeBus{}
	if config.Now == nil {
		config.Now = func() time.Time { return t0 }
	}
	return New(cam, cls, fb, config), cam, cls, fb
}

func TestProcessFrame_PublishesTopGesture(t *testing.T) {
	p, _, cls, fb := newTestPublisher(0, Config{})
	cls.SetHands([]classifier.Hand{{
		Handedness: "Right",
		Gestures: []classifier.Category{
			{Label: gesture.ThumbUp, Score: 0.93},
			{Label: gesture.OpenPalm, Score: 0.05},
		},
	}})
	frame := testdata.Frame(0)
	defer frame.Close()

	r := p.ProcessFrame(context.Background(), frame)

	if r.Outcome != OutcomeOK || r.Err != nil {
		t.Fatalf("ProcessFrame() = %v, %v", r.Outcome, r.Err)
	}
	want := gesture.Event{Label: gesture.ThumbUp, Confidence: 0.93, Timestamp: t0}
	if diff := cmp.Diff(want, r.Event); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]published{{"topic", "Thumb_Up"}}, fb.messages()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessFrame_NoHandPublishesNothing(t *testing.T) {
	p, _, cls, fb := newTestPublisher(0, Config{})
	cls.SetHands(nil)
	frame := testdata.Frame(1)
	defer frame.Close()

	r := p.ProcessFrame(context.Background(), frame)

	if r.Outcome != OutcomeNoHand {
		t.Errorf("Outcome = %v, want no-hand", r.Outcome)
	}
	if n := len(fb.messages()); n != 0 {
		t.Errorf("published %d messages, want 0", n)
	}
}

func TestProcessFrame_MinConfidence(t *testing.T) {
	p, _, cls, fb := newTestPublisher(0, Config{MinConfidence: 0.6})
	frame := testdata.Frame(2)
	defer frame.Close()

	cls.SetHands(classifier.SingleHand(gesture.ThumbUp, 0.4))
	if r := p.ProcessFrame(context.Background(), frame); r.Outcome != OutcomeNoHand {
		t.Errorf("low score Outcome = %v, want no-hand", r.Outcome)
	}

	cls.SetHands(classifier.SingleHand(gesture.ThumbUp, 0.6))
	if r := p.ProcessFrame(context.Background(), frame); r.Outcome != OutcomeOK {
		t.Errorf("threshold score Outcome = %v, want ok", r.Outcome)
	}
	if n := len(fb.messages()); n != 1 {
		t.Errorf("published %d messages, want 1", n)
	}
}

func TestProcessFrame_ClassifierErrorIsRecoverable(t *testing.T) {
	p, _, cls, fb := newTestPublisher(0, Config{})
	cls.SetError(errors.New("model crashed"))
	frame := testdata.Frame(3)
	defer frame.Close()

	r := p.ProcessFrame(context.Background(), frame)

	if r.Outcome != OutcomeRecoverable {
		t.Errorf("Outcome = %v, want recoverable", r.Outcome)
	}
	if !errors.Is(r.Err, classifier.ErrClassification) {
		t.Errorf("Err = %v, want ErrClassification", r.Err)
	}
	if n := len(fb.messages()); n != 0 {
		t.Errorf("published %d messages, want 0", n)
	}
}

func TestProcessFrame_PublishErrorIsRecoverable(t *testing.T) {
	p, _, cls, fb := newTestPublisher(0, Config{})
	cls.SetHands(classifier.SingleHand(gesture.ClosedFist, 0.8))
	fb.setErr(errors.New("connection refused"))
	frame := testdata.Frame(4)
	defer frame.Close()

	r := p.ProcessFrame(context.Background(), frame)

	if r.Outcome != OutcomeRecoverable {
		t.Errorf("Outcome = %v, want recoverable", r.Outcome)
	}
	if !errors.Is(r.Err, bus.ErrPublish) {
		t.Errorf("Err = %v, want ErrPublish", r.Err)
	}
	if r.Event.Label != gesture.ClosedFist {
		t.Errorf("dropped event label = %q", r.Event.Label)
	}
}

func TestProcessFrame_OnEvent(t *testing.T) {
	var got []gesture.Label
	p, _, cls, _ := newTestPublisher(0, Config{
		OnEvent: func(e gesture.Event) { got = append(got, e.Label) },
	})
	frame := testdata.Frame(5)
	defer frame.Close()

	cls.Script(
		classifier.MockResult{Hands: classifier.SingleHand(gesture.OpenPalm, 0.7)},
		classifier.MockResult{},
		classifier.MockResult{Hands: classifier.SingleHand(gesture.Victory, 0.9)},
	)
	for i := 0; i < 3; i++ {
		p.ProcessFrame(context.Background(), frame)
	}

	if diff := cmp.Diff([]gesture.Label{gesture.OpenPalm, gesture.Victory}, got); diff != "" {
		t.Errorf("OnEvent labels mismatch (-want +got):\n%s", diff)
	}
}

// A camera that stops delivering ends Run with ErrAcquisition, and both the
// classifier and the camera are released.
func TestRun_AcquisitionFailureIsFatal(t *testing.T) {
	logs := captureLog(t)
	p, cam, cls, fb := newTestPublisher(3, Config{Channel: "gestures"})
	cls.SetHands(classifier.SingleHand(gesture.ThumbUp, 0.9))

	err := p.Run(context.Background())

	if !errors.Is(err, capture.ErrAcquisition) {
		t.Fatalf("Run() error = %v, want ErrAcquisition", err)
	}
	if cls.Calls() != 3 {
		t.Errorf("classifier calls = %d, want 3", cls.Calls())
	}
	if cls.Closes() != 1 || cam.Closes() != 1 {
		t.Errorf("closes: classifier %d, camera %d, want 1 each", cls.Closes(), cam.Closes())
	}

	msgs := fb.messages()
	if len(msgs) != 3 || msgs[0].Channel != "gestures" {
		t.Errorf("published %v, want 3 on gestures", msgs)
	}
	if n := strings.Count(logs.String(), "publisher: published"); n != 3 {
		t.Errorf("found %d publish log lines, want 3", n)
	}

	want := Stats{Frames: 3, Published: 3}
	if diff := cmp.Diff(want, p.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

// Recoverable failures are skipped and the loop keeps going.
func TestRun_SkipsRecoverableFrames(t *testing.T) {
	p, _, cls, fb := newTestPublisher(4, Config{})
	cls.Script(
		classifier.MockResult{Err: classifier.ErrClassification},
		classifier.MockResult{},
		classifier.MockResult{Hands: classifier.SingleHand(gesture.ThumbUp, 0.9)},
		classifier.MockResult{Hands: classifier.SingleHand(gesture.ClosedFist, 0.9)},
	)

	err := p.Run(context.Background())
	if !errors.Is(err, capture.ErrAcquisition) {
		t.Fatalf("Run() error = %v, want ErrAcquisition", err)
	}

	want := []published{{"topic", "Thumb_Up"}, {"topic", "Closed_Fist"}}
	if diff := cmp.Diff(want, fb.messages()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{Frames: 4, Published: 2, NoHand: 1, Recoverable: 1}, p.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_CancellationReleases(t *testing.T) {
	cam := capture.NewMockCamera(testdata.Sequence(2), true)
	cls := classifier.NewMockClassifier()
	p := New(cam, cls, &fakeBus{}, Config{FrameInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if cls.Closes() != 1 || cam.Closes() != 1 {
		t.Errorf("closes: classifier %d, camera %d, want 1 each", cls.Closes(), cam.Closes())
	}
	if cls.Calls() == 0 {
		t.Error("no frames were classified before cancel")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	p, cam, cls, _ := newTestPublisher(0, Config{})

	if err := p.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := p.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if cls.Closes() != 1 || cam.Closes() != 1 {
		t.Errorf("closes: classifier %d, camera %d, want 1 each", cls.Closes(), cam.Closes())
	}
}

func TestOutcome_String(t *testing.T) {
	for o, want := range map[Outcome]string{
		OutcomeOK:          "ok",
		OutcomeNoHand:      "no-hand",
		OutcomeRecoverable: "recoverable",
		OutcomeFatal:       "fatal",
	} {
		if got := o.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(o), got, want)
		}
	}
}
