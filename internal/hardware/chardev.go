package hardware

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// DefaultChip is the GPIO character device used on a Raspberry Pi.
const DefaultChip = "gpiochip0"

const consumerName = "thumbswitch"

// ChardevPin drives a line through the Linux GPIO character device.
type ChardevPin struct {
	chip string
	id   int

	mu       sync.Mutex
	line     *gpiocdev.Line
	released bool
}

// NewChardevPin creates a pin for line id on chip. Nothing is requested
// from the kernel until Configure is called.
func NewChardevPin(chip string, id int) *ChardevPin {
	if chip == "" {
		chip = DefaultChip
	}
	return &ChardevPin{chip: chip, id: id}
}

func (p *ChardevPin) ID() int {
	return p.id
}

// Configure requests the line as an output, initially low.
func (p *ChardevPin) Configure() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return ErrReleased
	}
	if p.line != nil {
		return nil
	}

	line, err := gpiocdev.RequestLine(p.chip, p.id,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(consumerName),
	)
	if err != nil {
		return fmt.Errorf("request %s line %d: %w", p.chip, p.id, err)
	}
	p.line = line
	return nil
}

func (p *ChardevPin) Write(level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return fmt.Errorf("%w: %w", ErrHardwareWrite, ErrReleased)
	}
	if p.line == nil {
		return fmt.Errorf("%w: %w", ErrHardwareWrite, ErrNotConfigured)
	}

	value := 0
	if level == High {
		value = 1
	}
	if err := p.line.SetValue(value); err != nil {
		return fmt.Errorf("%w: line %d: %v", ErrHardwareWrite, p.id, err)
	}
	return nil
}

// Release returns the line to the kernel. The line reverts to its default
// state, so callers drive it low before releasing.
func (p *ChardevPin) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return nil
	}
	p.released = true

	if p.line == nil {
		return nil
	}
	err := p.line.Close()
	p.line = nil
	return err
}
