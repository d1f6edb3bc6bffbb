// Package log configures the process-wide logrus logger.
package log

import (
	"github.com/sirupsen/logrus"

	"github.com/jobforge/jobforge/common/log/hooks"
)

// Setup sets the global log level and attaches the call-site hook.
// Unknown level strings fall back to info.
func Setup(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		logrus.Warnf("Unknown log level %q, using info", level)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.AddHook(hooks.NewContextHook())
}
