// Package applog builds configured logrus.Loggers (New, and the shared
// Default). The other internal packages do not use them; they log through
// the logrus package-level functions, which New's settings do not affect.
package applog

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// New returns a logrus.Logger configured with the level named by
// TWCLONE_LOG_LEVEL (default "info") and JSON output suitable for the
// log-file rotation the SysOp surface owns (rotation itself is out of the
// core's scope; we only decide format and level).
func New() *log.Logger {
	var logger = log.New()
	logger.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	logger.SetOutput(os.Stderr)

	var lvl, err = log.ParseLevel(os.Getenv("TWCLONE_LOG_LEVEL"))
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// Default is a convenience instance for components and tests which don't
// need a distinct logger of their own.
var Default = New()
