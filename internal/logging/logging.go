// Package logging builds the root logrus logger from the ambient log-level
// configuration, grounded on make-os-kit's logger setup in the wider
// example pack.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a root logger at the given level (any logrus.Level string;
// invalid values fall back to info) writing text-formatted entries with
// full timestamps to stderr.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
