package classifier

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/thumbswitch/internal/gesture"
)

// MockResult is one scripted answer of the MockClassifier.
type MockResult struct {
	Hands []Hand
	Err   error
}

// MockClassifier is a test implementation of the Classifier interface.
// It allows tests to control the classification results.
type MockClassifier struct {
	mu     sync.Mutex
	hands  []Hand
	err    error
	script []MockResult
	calls  int
	closes int
}

// NewMockClassifier creates a new MockClassifier instance.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{}
}

// SetHands sets the hands that will be returned by Classify.
func (m *MockClassifier) SetHands(hands []Hand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetError sets the error that will be returned by Classify.
func (m *MockClassifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Script queues results that are returned one per call before falling back
// to the values set with SetHands and SetError.
func (m *MockClassifier) Script(results ...MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
}

// Classify returns the next scripted result or the pre-configured hands or error.
func (m *MockClassifier) Classify(frame *gocv.Mat) ([]Hand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if len(m.script) > 0 {
		r := m.script[0]
		m.script = m.script[1:]
		return r.Hands, r.Err
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.hands, nil
}

// Close records the call.
func (m *MockClassifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// Calls returns how many times Classify was invoked.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closes returns how many times Close was invoked.
func (m *MockClassifier) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// SingleHand returns a one-hand result whose only candidate is label.
func SingleHand(label gesture.Label, score float64) []Hand {
	return []Hand{{
		Handedness: "Right",
		Gestures:   []Category{{Label: label, Score: score}},
	}}
}
