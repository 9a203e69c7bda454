package cmd

import (
	"os"
	"path/filepath"

	"github.com/harrison/flowline/internal/logger"
)

// multiLogger fans every call out to a fixed set of loggers: the
// console+file combination buildLogger assembles when the log dir is
// non-empty.
type multiLogger struct {
	loggers []logger.Logger
}

func (m *multiLogger) Tracef(format string, args ...any) {
	for _, l := range m.loggers {
		l.Tracef(format, args...)
	}
}

func (m *multiLogger) Debugf(format string, args ...any) {
	for _, l := range m.loggers {
		l.Debugf(format, args...)
	}
}

func (m *multiLogger) Infof(format string, args ...any) {
	for _, l := range m.loggers {
		l.Infof(format, args...)
	}
}

func (m *multiLogger) Warnf(format string, args ...any) {
	for _, l := range m.loggers {
		l.Warnf(format, args...)
	}
}

func (m *multiLogger) Errorf(format string, args ...any) {
	for _, l := range m.loggers {
		l.Errorf(format, args...)
	}
}

func (m *multiLogger) WithField(key string, value any) logger.Logger {
	derived := &multiLogger{loggers: make([]logger.Logger, len(m.loggers))}
	for i, l := range m.loggers {
		derived.loggers[i] = l.WithField(key, value)
	}
	return derived
}

// buildLogger assembles a console logger at levelName, plus a file sink
// under logDir/flowline.log when logDir is non-empty.
func buildLogger(levelName, logDir string) (logger.Logger, func(), error) {
	console := logger.New(os.Stdout, levelName)
	if logDir == "" {
		return console, func() {}, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, err
	}
	path := filepath.Join(logDir, "flowline.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	file := logger.New(f, levelName)

	combined := &multiLogger{loggers: []logger.Logger{console, file}}
	return combined, func() { _ = f.Close() }, nil
}
