// Package testdata builds synthetic frames for tests that need real Mats.
package testdata

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Frame dimensions used by the fixtures.
const (
	FrameWidth  = 64
	FrameHeight = 48
)

// Frame returns a solid BGR frame with a filled square whose position depends
// on seed, so consecutive frames differ. The caller closes the Mat.
func Frame(seed int) *gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(32, 32, 32, 0), FrameHeight, FrameWidth, gocv.MatTypeCV8UC3)

	x := (seed * 7) % (FrameWidth - 16)
	y := (seed * 5) % (FrameHeight - 16)
	gocv.Rectangle(&mat, image.Rect(x, y, x+16, y+16), color.RGBA{R: 220, G: 180, B: 140, A: 0}, -1)

	return &mat
}

// Sequence returns n distinct frames.
func Sequence(n int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		frames[i] = Frame(i)
	}
	return frames
}

// CloseAll releases frames created by Frame or Sequence.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}
