// Package publisher turns camera frames into gesture labels on the message bus.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/thumbswitch/internal/bus"
	"github.com/ayusman/thumbswitch/internal/capture"
	"github.com/ayusman/thumbswitch/internal/classifier"
	"github.com/ayusman/thumbswitch/internal/gesture"
)

// Outcome classifies what happened to one frame.
type Outcome int

const (
	// OutcomeOK means an event was produced and published.
	OutcomeOK Outcome = iota
	// OutcomeNoHand means nothing was detected and nothing was published.
	OutcomeNoHand
	// OutcomeRecoverable means the frame was skipped; the loop continues.
	OutcomeRecoverable
	// OutcomeFatal means the loop must stop.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNoHand:
		return "no-hand"
	case OutcomeRecoverable:
		return "recoverable"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the per-frame result of ProcessFrame.
type Result struct {
	Outcome Outcome
	Event   gesture.Event
	Err     error
}

// Config holds publisher options.
type Config struct {
	// Channel is the bus channel labels are published on (default "topic").
	Channel string

	// MinConfidence drops top gestures scoring below it. Zero publishes all.
	MinConfidence float64

	// FrameInterval paces the loop. Zero reads as fast as the source delivers.
	FrameInterval time.Duration

	// OnEvent, when set, receives every produced event after it is published.
	OnEvent func(gesture.Event)

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Stats counts frame outcomes since start.
type Stats struct {
	Frames      uint64 `json:"frames"`
	Published   uint64 `json:"published"`
	NoHand      uint64 `json:"no_hand"`
	Recoverable uint64 `json:"recoverable"`
}

// Publisher owns a frame source and a classifier and publishes the top
// gesture of every frame with a detected hand.
type Publisher struct {
	camera     capture.Camera
	classifier classifier.Classifier
	bus        bus.Publisher
	config     Config
	now        func() time.Time

	mu    sync.Mutex
	stats Stats

	releaseOnce sync.Once
	releaseErr  error
}

// New creates a Publisher. Run takes ownership of camera and classifier.
func New(camera capture.Camera, c classifier.Classifier, b bus.Publisher, config Config) *Publisher {
	if config.Channel == "" {
		config.Channel = bus.DefaultChannel
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Publisher{
		camera:     camera,
		classifier: c,
		bus:        b,
		config:     config,
		now:        now,
	}
}

// ProcessFrame classifies one frame and publishes the result. It never
// closes the frame.
func (p *Publisher) ProcessFrame(ctx context.Context, frame *gocv.Mat) Result {
	r := p.processFrame(ctx, frame)

	p.mu.Lock()
	p.stats.Frames++
	switch r.Outcome {
	case OutcomeOK:
		p.stats.Published++
	case OutcomeNoHand:
		p.stats.NoHand++
	case OutcomeRecoverable:
		p.stats.Recoverable++
	}
	p.mu.Unlock()

	return r
}

func (p *Publisher) processFrame(ctx context.Context, frame *gocv.Mat) Result {
	hands, err := p.classifier.Classify(frame)
	if err != nil {
		if !errors.Is(err, classifier.ErrClassification) {
			err = fmt.Errorf("%w: %w", classifier.ErrClassification, err)
		}
		log.Printf("publisher: skipping frame: %v", err)
		return Result{Outcome: OutcomeRecoverable, Err: err}
	}

	top, ok := classifier.Top(hands)
	if !ok {
		return Result{Outcome: OutcomeNoHand}
	}
	if top.Score < p.config.MinConfidence {
		return Result{Outcome: OutcomeNoHand}
	}

	event := gesture.NewEvent(top.Label, top.Score, p.now())
	if err := p.bus.Publish(ctx, p.config.Channel, event.Payload()); err != nil {
		if !errors.Is(err, bus.ErrPublish) {
			err = fmt.Errorf("%w: %w", bus.ErrPublish, err)
		}
		log.Printf("publisher: dropped %s: %v", event.Label, err)
		return Result{Outcome: OutcomeRecoverable, Event: event, Err: err}
	}

	log.Printf("publisher: published %s on %s", event, p.config.Channel)
	if p.config.OnEvent != nil {
		p.config.OnEvent(event)
	}
	return Result{Outcome: OutcomeOK, Event: event}
}

// Run opens the frame source and processes frames until the context is done
// or a frame cannot be acquired. Acquisition failures are returned wrapped in
// capture.ErrAcquisition. The classifier and the frame source are released
// before Run returns, on every path.
func (p *Publisher) Run(ctx context.Context) error {
	defer func() {
		if err := p.Release(); err != nil {
			log.Printf("publisher: cleanup error: %v", err)
		}
	}()

	if !p.camera.IsOpen() {
		if err := p.camera.Open(); err != nil {
			return fmt.Errorf("%w: %w", capture.ErrAcquisition, err)
		}
	}
	log.Printf("publisher: publishing on %q", p.config.Channel)

	var tick <-chan time.Time
	if p.config.FrameInterval > 0 {
		ticker := time.NewTicker(p.config.FrameInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("publisher: stopping: %v", ctx.Err())
			return nil
		default:
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				log.Printf("publisher: stopping: %v", ctx.Err())
				return nil
			case <-tick:
			}
		}

		frame, err := p.camera.ReadFrame()
		if err != nil {
			if !errors.Is(err, capture.ErrAcquisition) {
				err = fmt.Errorf("%w: %w", capture.ErrAcquisition, err)
			}
			log.Printf("publisher: %v", err)
			return err
		}

		p.ProcessFrame(ctx, frame)
		frame.Close()
	}
}

// Release closes the classifier and the frame source. Only the first call
// does anything.
func (p *Publisher) Release() error {
	p.releaseOnce.Do(func() {
		var errs []error
		if err := p.classifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close classifier: %w", err))
		}
		if err := p.camera.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close camera: %w", err))
		}
		p.releaseErr = errors.Join(errs...)
		log.Println("publisher: classifier and frame source released")
	})
	return p.releaseErr
}

// Stats returns a copy of the outcome counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
