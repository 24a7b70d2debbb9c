package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps logrus with file rotation. Output goes to both the rotated
// log file and stdout.
type Logger struct {
	*logrus.Logger
	rotator *lumberjack.Logger
}

func New(dir, level string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log folder failed: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "gateway.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
	}

	l := logrus.New()
	l.SetOutput(io.MultiWriter(os.Stdout, rotator))
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.SetLevel(lvl)

	return &Logger{Logger: l, rotator: rotator}, nil
}

func (l *Logger) Close() {
	if err := l.rotator.Close(); err != nil {
		l.Errorf("Failed to close log rotator: %v", err)
	}
}
