package hardware

import (
	"sync"
)

// MockPin is an in-memory Pin for tests and for running without hardware.
type MockPin struct {
	id int

	mu           sync.Mutex
	configured   bool
	level        Level
	writes       []Level
	releases     int
	writeErr     error
	failAfter    int
	configureErr error
}

// NewMockPin creates a MockPin for line id.
func NewMockPin(id int) *MockPin {
	return &MockPin{id: id, failAfter: -1}
}

func (m *MockPin) ID() int {
	return m.id
}

// SetConfigureError makes Configure return err.
func (m *MockPin) SetConfigureError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configureErr = err
}

// SetWriteError makes every following Write fail with err. A nil err
// restores normal behaviour.
func (m *MockPin) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
	m.failAfter = -1
}

// FailAfter makes writes fail with err once n writes have succeeded.
func (m *MockPin) FailAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	m.writeErr = err
}

func (m *MockPin) Configure() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.configureErr != nil {
		return m.configureErr
	}
	m.configured = true
	return nil
}

func (m *MockPin) Write(level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.releases > 0 {
		return ErrReleased
	}
	if !m.configured {
		return ErrNotConfigured
	}
	if m.writeErr != nil && (m.failAfter < 0 || len(m.writes) >= m.failAfter) {
		return m.writeErr
	}
	m.writes = append(m.writes, level)
	m.level = level
	return nil
}

func (m *MockPin) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	return nil
}

// Level returns the last level successfully written.
func (m *MockPin) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Writes returns every level successfully written, in order.
func (m *MockPin) Writes() []Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Level, len(m.writes))
	copy(out, m.writes)
	return out
}

// Releases returns how many times Release was called.
func (m *MockPin) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

// Configured reports whether Configure succeeded.
func (m *MockPin) Configured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configured
}
