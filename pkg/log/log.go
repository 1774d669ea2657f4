// Package log wires this engine's components to a shared logrus logger,
// following the component-scoped entry pattern used throughout
// penguintechinc-marchproxy for connection/pool lifecycle logging.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// base is the process-wide logger, writing to stderr. Host applications
// embedding this engine may adjust its level via SetLevel before opening
// any connection.
var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the engine-wide log level (e.g. "debug", "warn").
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

// For returns a component-scoped entry, e.g. log.For("pool") or
// log.For("conn").WithField("conn_id", id).
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// Fields is a convenience alias matching logrus.Fields so callers don't
// need to import logrus directly for simple call sites.
type Fields = logrus.Fields
