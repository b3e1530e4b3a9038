package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. It is usable before Init is called.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetOutput(os.Stderr)
	return l
}

// Init configures the level and outputs of Log. An unknown level falls back
// to info. When filePath is set, output is written to stderr and the file.
func Init(levelStr, filePath string) (io.Closer, error) {
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	if filePath == "" {
		Log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	Log.SetOutput(io.MultiWriter(os.Stderr, file))
	return file, nil
}

// Discard silences Log; intended for tests.
func Discard() {
	Log.SetOutput(io.Discard)
}
