// SPDX-License-Identifier: MPL-2.0

package observability

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// NewLogger returns a logger for one component. Every line carries the
// component as its prefix.
func NewLogger(w io.Writer, component string, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix:          component,
		Level:           level,
		ReportTimestamp: level <= log.DebugLevel,
	})
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// ParseLevel maps a configured level name to a log level.
func ParseLevel(name string) (log.Level, error) {
	if name == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", name)
	}
	return level, nil
}
