// Package logging builds the process logger.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/isometry/ldap2json/internal/config"
)

// Name is the root logger name; subsystems use named sub-loggers.
const Name = "ldap2json"

// New returns the root logger for cfg writing to w, or to stderr when w is
// nil. debug forces debug level unless cfg already asks for trace.
func New(cfg config.LogConfig, debug bool, w io.Writer) hclog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	if debug && level > hclog.Debug {
		level = hclog.Debug
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       Name,
		Level:      level,
		Output:     w,
		JSONFormat: cfg.JSON,
	})
}
