// Package common provides the shared logging and small utility helpers used
// across the server.
//
// The logging system is built on logrus with custom output routing that
// directs error-level messages to stderr while other levels go to stdout,
// so containerized deployments can treat the two streams differently.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// their level. It operates on the final formatted output, so it works with
// both the text and JSON formatters.
type OutputSplitter struct{}

// Write sends lines containing an error-level marker to stderr and
// everything else to stdout.
func (s *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance. All packages log through it to keep
// output handling uniform.
var Logger = newLogger()

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&OutputSplitter{})
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

// ConfigureLogger applies level and format settings to the global logger.
func ConfigureLogger(level, format string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		Logger.SetLevel(lvl)
	}
	if format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
