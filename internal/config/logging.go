package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var logLevels = map[string]logrus.Level{
	"trace":    logrus.TraceLevel,
	"debug":    logrus.DebugLevel,
	"info":     logrus.InfoLevel,
	"warn":     logrus.WarnLevel,
	"error":    logrus.ErrorLevel,
	"critical": logrus.FatalLevel,
	"off":      logrus.PanicLevel,
}

// SetupLogging configures the global logrus logger
func SetupLogging(level string) error {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.0000",
	})
	lvl, ok := logLevels[level]
	if !ok {
		return fmt.Errorf("config: log level must be one of trace, debug, info, warn, error, critical, off, got %q", level)
	}
	logrus.SetLevel(lvl)
	return nil
}
