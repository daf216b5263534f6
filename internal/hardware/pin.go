// Package hardware provides the digital output pin driven by the actuator.
package hardware

import (
	"errors"
	"fmt"
)

// Level is the logical level of a digital output.
type Level int

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// DefaultPinID is the BCM line offset used when none is configured.
const DefaultPinID = 12

var (
	// ErrHardwareWrite is returned when a level could not be written to the
	// pin. After this error the physical pin state is unknown.
	ErrHardwareWrite = errors.New("hardware write failed")

	// ErrNotConfigured is returned when writing to a pin before Configure.
	ErrNotConfigured = errors.New("pin not configured")

	// ErrReleased is returned when using a pin after Release.
	ErrReleased = errors.New("pin released")
)

// Pin is a single digital output line.
type Pin interface {
	// ID returns the line number this pin drives.
	ID() int

	// Configure claims the line as an output.
	Configure() error

	// Write drives the line to level.
	Write(level Level) error

	// Release gives the line back to the system. Calling it more than
	// once is safe.
	Release() error
}

// Driver names accepted by Open.
const (
	DriverGPIOCDev = "gpiocdev"
	DriverSerial   = "serial"
	DriverMock     = "mock"
)

// Options selects and parameterises a pin driver.
type Options struct {
	Driver     string
	PinID      int
	Chip       string
	SerialPort string
	SerialBaud int
}

// Open returns an unconfigured Pin for the selected driver.
func Open(opts Options) (Pin, error) {
	if opts.PinID < 0 {
		return nil, fmt.Errorf("invalid pin id %d", opts.PinID)
	}

	switch opts.Driver {
	case DriverGPIOCDev, "":
		return NewChardevPin(opts.Chip, opts.PinID), nil
	case DriverSerial:
		return NewSerialRelay(opts.SerialPort, opts.SerialBaud, opts.PinID), nil
	case DriverMock:
		return NewMockPin(opts.PinID), nil
	default:
		return nil, fmt.Errorf("unknown pin driver %q", opts.Driver)
	}
}
