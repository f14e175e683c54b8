package config

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

func ConfigureLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// InitSentry enables error reporting when a DSN is configured. The returned
// func flushes buffered events and should be deferred by main.
func InitSentry(dsn, service string) func() {
	if dsn == "" {
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:        dsn,
		ServerName: service,
	})
	if err != nil {
		logrus.Warnf("sentry.Init: %v", err)
		return func() {}
	}
	logrus.Infof("Sentry initialized for %s", service)
	return func() { sentry.Flush(2 * time.Second) }
}
