// Package gesture defines the gesture vocabulary shared by the publisher and
// the actuator, and the payload format used on the bus.
package gesture

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Label is a gesture category name as emitted by the classifier.
type Label string

// Classifier vocabulary. None is the no-detection sentinel.
const (
	None       Label = "None"
	ClosedFist Label = "Closed_Fist"
	OpenPalm   Label = "Open_Palm"
	PointingUp Label = "Pointing_Up"
	ThumbDown  Label = "Thumb_Down"
	ThumbUp    Label = "Thumb_Up"
	Victory    Label = "Victory"
	ILoveYou   Label = "ILoveYou"
)

const maxLabelLen = 64

var vocabulary = map[Label]bool{
	None:       true,
	ClosedFist: true,
	OpenPalm:   true,
	PointingUp: true,
	ThumbDown:  true,
	ThumbUp:    true,
	Victory:    true,
	ILoveYou:   true,
}

// Known reports whether l is part of the classifier vocabulary.
func (l Label) Known() bool {
	return vocabulary[l]
}

func (l Label) String() string {
	return string(l)
}

// Event is one classified hand pose. It is created once per processed frame
// that has at least one detected hand and is never modified afterwards.
type Event struct {
	Label      Label
	Confidence float64
	Timestamp  time.Time
}

// NewEvent builds an Event, clamping confidence into [0,1].
func NewEvent(label Label, confidence float64, ts time.Time) Event {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Event{Label: label, Confidence: confidence, Timestamp: ts}
}

// Payload returns the bus payload for the event: the label as UTF-8 text.
func (e Event) Payload() string {
	return string(e.Label)
}

func (e Event) String() string {
	return fmt.Sprintf("%s (%.2f)", e.Label, e.Confidence)
}

// ParsePayload decodes a bus payload into a label. The payload must be the
// label text exactly: payloads that are empty, padded with whitespace, not
// valid UTF-8, or implausibly long return ok=false, and callers treat them
// like any unrecognized label.
func ParsePayload(payload string) (Label, bool) {
	if payload == "" || len(payload) > maxLabelLen || !utf8.ValidString(payload) {
		return "", false
	}
	if strings.TrimSpace(payload) != payload {
		return "", false
	}
	return Label(payload), true
}
