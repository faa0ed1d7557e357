// Package logging configures the process-wide logrus logger.
//
// Logs always go to stderr: in stdio mode stdout carries protocol frames.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Options controls Setup.
type Options struct {
	// Production selects JSON output at info level.
	Production bool

	// Level overrides the default level when non-empty.
	Level string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// Setup configures the standard logrus logger and returns it.
func Setup(opts Options) *log.Logger {
	logger := log.StandardLogger()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	if opts.Production {
		logger.SetFormatter(&log.JSONFormatter{})
		logger.SetLevel(log.InfoLevel)
	} else {
		logger.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
		logger.SetLevel(log.DebugLevel)
	}

	if opts.Level != "" {
		level, err := log.ParseLevel(strings.TrimSpace(opts.Level))
		if err != nil {
			logger.Warnf("unknown log level %q, keeping %s", opts.Level, logger.GetLevel())
		} else {
			logger.SetLevel(level)
		}
	}

	return logger
}

// For returns an entry tagged with the component name.
func For(component string) *log.Entry {
	return log.WithField("component", component)
}
