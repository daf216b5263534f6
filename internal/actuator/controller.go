package actuator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/thumbswitch/internal/bus"
	"github.com/ayusman/thumbswitch/internal/gesture"
	"github.com/ayusman/thumbswitch/internal/hardware"
)

// ErrStopped is returned when the controller is used after shutdown.
var ErrStopped = errors.New("controller stopped")

// Transition is an applied level change.
type Transition struct {
	Label gesture.Label
	From  hardware.Level
	To    hardware.Level
	At    time.Time
}

// Recorder journals applied transitions and the shutdown cause.
// Recorder errors are logged and never stop the controller.
type Recorder interface {
	RecordTransition(t Transition) error
	RecordShutdown(cause string, level hardware.Level, at time.Time) error
}

// Config holds controller options.
type Config struct {
	// Hold is the dwell duration after each transition (default 1s).
	Hold time.Duration

	// QueueDepth bounds the deferred queue (default bus.DefaultQueueDepth).
	QueueDepth int

	// Recorder is optional.
	Recorder Recorder

	// Now overrides the clock for tests.
	Now func() time.Time
}

// DefaultConfig returns a Config with default hold and queue depth.
func DefaultConfig() Config {
	return Config{
		Hold:       DefaultHold,
		QueueDepth: bus.DefaultQueueDepth,
	}
}

// Stats counts what the controller has done since start.
type Stats struct {
	Processed       uint64 `json:"processed"`
	Applied         uint64 `json:"applied"`
	NoOps           uint64 `json:"noops"`
	Queued          uint64 `json:"queued"`
	DeferredDropped uint64 `json:"deferred_dropped"`
	BusDropped      uint64 `json:"bus_dropped"`
}

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	PinID          int       `json:"pin_id"`
	Level          string    `json:"level"`
	LastTransition time.Time `json:"last_transition"`
	Pending        int       `json:"pending"`
	Stopped        bool      `json:"stopped"`
	Stats          Stats     `json:"stats"`
}

// Controller owns the pin and consumes gesture labels from a subscription.
// The pin is acquired in Run and released exactly once by shutdown, on every
// exit path.
type Controller struct {
	pin    hardware.Pin
	sub    *bus.Subscription
	config Config
	now    func() time.Time

	mu       sync.Mutex
	machine  *Machine
	deferred []gesture.Label
	stats    Stats
	stopped  bool

	timer *time.Timer
	done  chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Controller. The pin is not touched until Run.
func New(pin hardware.Pin, sub *bus.Subscription, config Config) *Controller {
	if config.Hold <= 0 {
		config.Hold = DefaultHold
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = bus.DefaultQueueDepth
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Controller{
		pin:     pin,
		sub:     sub,
		config:  config,
		now:     now,
		machine: NewMachine(config.Hold),
		done:    make(chan struct{}),
	}
}

// Run acquires the pin, drives it LOW, and processes messages until the
// context is done, the subscription is closed, Shutdown is called, or a pin
// write fails. The pin
// is driven LOW and released before Run returns. A write failure is returned
// wrapped in hardware.ErrHardwareWrite.
func (c *Controller) Run(ctx context.Context) (err error) {
	cause := "stopped"
	defer func() {
		if err != nil {
			cause = err.Error()
		}
		if serr := c.shutdown(cause); serr != nil {
			log.Printf("actuator: cleanup error: %v", serr)
		}
	}()

	if err := c.acquire(); err != nil {
		return err
	}
	log.Printf("actuator: pin %d configured LOW, hold %s, queue depth %d",
		c.pin.ID(), c.config.Hold, c.config.QueueDepth)

	for {
		select {
		case <-ctx.Done():
			cause = "context: " + ctx.Err().Error()
			return nil

		case <-c.done:
			return nil

		case <-c.sub.Ready():
			for {
				payload, ok := c.sub.Pop()
				if !ok {
					break
				}
				if err := c.Handle(payload); err != nil {
					if errors.Is(err, ErrStopped) {
						return nil
					}
					return err
				}
			}
			if c.sub.Closed() {
				cause = "subscription closed"
				return nil
			}

		case <-c.timerC():
			if err := c.drainDeferred(); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if err := c.pin.Configure(); err != nil {
		return fmt.Errorf("configure pin %d: %w", c.pin.ID(), err)
	}
	if err := c.pin.Write(hardware.Low); err != nil {
		return wrapWrite(err)
	}
	return nil
}

// Handle processes one raw payload. Only a pin write failure is returned;
// every other outcome is logged.
func (c *Controller) Handle(payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	c.stats.Processed++

	label, ok := gesture.ParsePayload(payload)
	if !ok {
		c.stats.NoOps++
		log.Printf("actuator: malformed payload %q (no-op)", payload)
		return nil
	}

	// Keep arrival order behind anything already waiting for the hold.
	if len(c.deferred) > 0 {
		c.enqueueLocked(label)
		log.Printf("actuator: %s (queued behind %d pending)", label, len(c.deferred)-1)
		return nil
	}

	return c.evaluateLocked(label, c.now())
}

func (c *Controller) evaluateLocked(label gesture.Label, now time.Time) error {
	d := c.machine.Decide(label, now)

	switch d.Action {
	case ActionApply:
		if err := c.applyLocked(d, now); err != nil {
			return err
		}
	case ActionDefer:
		c.enqueueLocked(label)
		c.armTimerLocked(now)
		log.Printf("actuator: %s", d)
	default:
		c.stats.NoOps++
		log.Printf("actuator: %s", d)
	}
	return nil
}

func (c *Controller) applyLocked(d Decision, now time.Time) error {
	if err := c.pin.Write(d.Target); err != nil {
		log.Printf("actuator: %s -> %s write failed: %v", d.Label, d.Target, err)
		return wrapWrite(err)
	}
	c.machine.Commit(d, now)
	c.stats.Applied++
	log.Printf("actuator: %s", d)

	if c.config.Recorder != nil {
		t := Transition{Label: d.Label, From: d.From, To: d.Target, At: now}
		if err := c.config.Recorder.RecordTransition(t); err != nil {
			log.Printf("actuator: journal transition: %v", err)
		}
	}
	return nil
}

func (c *Controller) enqueueLocked(label gesture.Label) {
	if len(c.deferred) >= c.config.QueueDepth {
		dropped := c.deferred[0]
		c.deferred = c.deferred[1:]
		c.stats.DeferredDropped++
		log.Printf("actuator: deferred queue full, dropped oldest %s", dropped)
	}
	c.deferred = append(c.deferred, label)
	c.stats.Queued++
}

// drainDeferred evaluates deferred labels in order until one must wait for
// a new hold window.
func (c *Controller) drainDeferred() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timer = nil
	if c.stopped {
		return nil
	}

	now := c.now()
	for len(c.deferred) > 0 {
		label := c.deferred[0]
		d := c.machine.Decide(label, now)
		if d.Action == ActionDefer {
			c.armTimerLocked(now)
			return nil
		}
		c.deferred = c.deferred[1:]

		if d.Action == ActionApply {
			if err := c.applyLocked(d, now); err != nil {
				return err
			}
			continue
		}
		c.stats.NoOps++
		log.Printf("actuator: %s", d)
	}
	return nil
}

func (c *Controller) armTimerLocked(now time.Time) {
	if c.timer != nil {
		return
	}
	wait := c.machine.HoldUntil().Sub(now)
	if wait < 0 {
		wait = 0
	}
	c.timer = time.NewTimer(wait)
}

func (c *Controller) timerC() <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return nil
	}
	return c.timer.C
}

// Shutdown drives the pin LOW and releases it. Only the first call does
// anything; later calls return the first call's result.
func (c *Controller) Shutdown() error {
	return c.shutdown("shutdown requested")
}

func (c *Controller) shutdown(cause string) error {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.stopped = true
		close(c.done)
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		if n := len(c.deferred); n > 0 {
			log.Printf("actuator: discarding %d pending messages", n)
			c.deferred = nil
		}

		// Best effort: a single LOW write, then release regardless.
		writeErr := c.pin.Write(hardware.Low)
		if writeErr != nil {
			writeErr = fmt.Errorf("force LOW: %w", writeErr)
		}
		releaseErr := c.pin.Release()
		if releaseErr != nil {
			releaseErr = fmt.Errorf("release pin %d: %w", c.pin.ID(), releaseErr)
		}
		c.machine.ForceLow()

		at := c.now()
		log.Printf("actuator: pin %d forced LOW and released (%s)", c.pin.ID(), cause)
		if c.config.Recorder != nil {
			if err := c.config.Recorder.RecordShutdown(cause, hardware.Low, at); err != nil {
				log.Printf("actuator: journal shutdown: %v", err)
			}
		}

		c.shutdownErr = errors.Join(writeErr, releaseErr)
	})
	return c.shutdownErr
}

// State returns the current pin state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

// Snapshot returns state, pending count and counters.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.machine.State()
	stats := c.stats
	if c.sub != nil {
		stats.BusDropped = c.sub.Dropped()
	}
	return Snapshot{
		PinID:          c.pin.ID(),
		Level:          st.Level.String(),
		LastTransition: st.LastTransition,
		Pending:        len(c.deferred),
		Stopped:        c.stopped,
		Stats:          stats,
	}
}

func wrapWrite(err error) error {
	if errors.Is(err, hardware.ErrHardwareWrite) {
		return err
	}
	return fmt.Errorf("%w: %w", hardware.ErrHardwareWrite, err)
}
