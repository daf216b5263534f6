package hardware

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// DefaultSerialBaud is the baud rate of the relay board firmware.
const DefaultSerialBaud = 115200

// SerialRelay drives a pin on a microcontroller relay board over a serial
// line. The board accepts one newline-terminated command per line:
//
//	PIN <id> OUT
//	PIN <id> <0|1>
//	PIN <id> IN
type SerialRelay struct {
	portName string
	baud     int
	id       int
	open     func() (io.WriteCloser, error)

	mu       sync.Mutex
	port     io.WriteCloser
	released bool
}

// NewSerialRelay creates a relay pin on the given serial port. The port is
// opened on Configure.
func NewSerialRelay(portName string, baud, id int) *SerialRelay {
	if baud <= 0 {
		baud = DefaultSerialBaud
	}
	r := &SerialRelay{portName: portName, baud: baud, id: id}
	r.open = r.openPort
	return r
}

func (r *SerialRelay) openPort() (io.WriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: r.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(r.portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", r.portName, err)
	}
	return port, nil
}

func (r *SerialRelay) ID() int {
	return r.id
}

func (r *SerialRelay) Configure() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return ErrReleased
	}
	if r.port != nil {
		return nil
	}

	port, err := r.open()
	if err != nil {
		return err
	}
	r.port = port

	if err := r.sendLocked("OUT"); err != nil {
		r.port.Close()
		r.port = nil
		return fmt.Errorf("configure pin %d: %w", r.id, err)
	}
	return nil
}

func (r *SerialRelay) Write(level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return fmt.Errorf("%w: %w", ErrHardwareWrite, ErrReleased)
	}
	if r.port == nil {
		return fmt.Errorf("%w: %w", ErrHardwareWrite, ErrNotConfigured)
	}

	arg := "0"
	if level == High {
		arg = "1"
	}
	if err := r.sendLocked(arg); err != nil {
		return fmt.Errorf("%w: pin %d: %v", ErrHardwareWrite, r.id, err)
	}
	return nil
}

func (r *SerialRelay) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return nil
	}
	r.released = true

	if r.port == nil {
		return nil
	}
	// Hand the line back as an input so the board stops driving it.
	sendErr := r.sendLocked("IN")
	closeErr := r.port.Close()
	r.port = nil

	if sendErr != nil {
		return sendErr
	}
	return closeErr
}

func (r *SerialRelay) sendLocked(arg string) error {
	_, err := fmt.Fprintf(r.port, "PIN %d %s\n", r.id, arg)
	return err
}
