package monitoring

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logf is the package-level diagnostic logger shared by the driver packages.
// It defaults to log.Printf; tests mute it with SetLogger(nil).
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogFile describes a size-rotated log file.
type LogFile struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetupLogOutput sends the standard logger to the rotating file and, when
// alsoStderr is set, to stderr as well. An empty path leaves output on stderr.
// The returned closer flushes and closes the file.
func SetupLogOutput(f LogFile, alsoStderr bool) io.Closer {
	if f.Path == "" {
		return io.NopCloser(nil)
	}
	lj := &lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    f.MaxSizeMB,
		MaxBackups: f.MaxBackups,
		MaxAge:     f.MaxAgeDays,
	}
	var w io.Writer = lj
	if alsoStderr {
		w = io.MultiWriter(os.Stderr, lj)
	}
	log.SetOutput(w)
	return lj
}
