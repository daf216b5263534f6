// Package logging configures the standard logger for a thumbswitch process.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the optional log file.
const (
	MaxSizeMB  = 10
	MaxBackups = 3
	MaxAgeDays = 28
)

// Options controls where log output goes.
type Options struct {
	// Prefix is prepended to every line, e.g. "actuator ".
	Prefix string

	// File, when set, receives a copy of every line and is rotated by size.
	File string

	// Stderr overrides the console writer (default os.Stderr).
	Stderr io.Writer
}

// Setup points the standard logger at stderr and, optionally, a rotating
// file. The returned closer flushes and closes the file.
func Setup(opts Options) io.Closer {
	console := opts.Stderr
	if console == nil {
		console = os.Stderr
	}

	var out io.Writer = console
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
		}
		out = io.MultiWriter(console, lj)
		closer = lj
	}

	log.SetOutput(out)
	log.SetPrefix(opts.Prefix)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lmsgprefix)

	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
