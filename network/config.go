package network

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the network I/O layer's process-wide settings: the
// loop owns exactly one of these, rather than reaching for package
// globals.
type Config struct {
	// Timeout is the default maximum wait per probe.
	Timeout time.Duration

	// Verbose enables Debug-level per-I/O logging.
	Verbose bool

	// Logger receives lifecycle (Info) and per-I/O (Debug) messages.
	// Defaults to a logger with output discarded.
	Logger *logrus.Entry
}

// DefaultConfig returns sensible defaults: a 5 second timeout and a
// discarding logger.
func DefaultConfig() *Config {
	discard := logrus.New()
	discard.SetOutput(discardWriter{})
	return &Config{
		Timeout: 5 * time.Second,
		Logger:  discard.WithField("component", "network"),
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
