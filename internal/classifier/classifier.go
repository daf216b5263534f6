// Package classifier wraps the hand-gesture recognizer used by the publisher.
package classifier

import (
	"errors"
	"sort"

	"gocv.io/x/gocv"

	"github.com/ayusman/thumbswitch/internal/gesture"
)

// DefaultModelPath is the recognizer asset loaded when none is configured.
const DefaultModelPath = "gesture_recognizer.task"

// ErrClassification is returned when a frame could not be classified. It is
// recoverable: the publisher skips the frame.
var ErrClassification = errors.New("gesture classification failed")

// Classifier defines the interface for gesture recognizers.
type Classifier interface {
	// Classify analyzes a video frame and returns the detected hands.
	// Returns an empty slice if no hands are detected.
	Classify(frame *gocv.Mat) ([]Hand, error)

	// Close releases the recognizer session.
	Close() error
}

// Category is a single gesture candidate.
type Category struct {
	Label gesture.Label `json:"label"`
	Score float64       `json:"score"`
}

// Hand holds the gesture candidates for one detected hand, highest score first.
type Hand struct {
	Handedness string     `json:"handedness"`
	Gestures   []Category `json:"gestures"`
}

// Config holds configuration options for the recognizer.
type Config struct {
	// ModelPath is the recognizer asset (default: gesture_recognizer.task).
	ModelPath string

	// MaxHands is the maximum number of hands to detect (default: 1).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ModelPath:     DefaultModelPath,
		MaxHands:      1,
		MinConfidence: 0.5,
	}
}

// Top returns the highest-scoring gesture of the first hand. It reports false
// when no hand was detected or the first hand has no candidates.
func Top(hands []Hand) (Category, bool) {
	if len(hands) == 0 || len(hands[0].Gestures) == 0 {
		return Category{}, false
	}
	return hands[0].Gestures[0], true
}

// sortHands orders every hand's candidates by descending score.
func sortHands(hands []Hand) {
	for i := range hands {
		g := hands[i].Gestures
		sort.SliceStable(g, func(a, b int) bool { return g[a].Score > g[b].Score })
	}
}
