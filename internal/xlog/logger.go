// Package xlog provides the leveled logger shared by the master and
// serial485 packages.
package xlog

import (
	"fmt"
	"io"
	"os"
)

// LeveledLogger is the logging interface accepted throughout this
// module. Callers may supply their own implementation (e.g. to adapt
// an existing structured logger) via WithLogger options.
type LeveledLogger interface {
	Info(msg string)
	Infof(format string, args ...interface{})
	Warning(msg string)
	Warningf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	Fatal(msg string)
	Fatalf(format string, args ...interface{})
}

var _ LeveledLogger = (*logger)(nil)

type logger struct {
	prefix string
	out    io.Writer
	err    io.Writer
}

// New returns a LeveledLogger writing info/warning to stdout and
// error/fatal to stderr, each line tagged with prefix.
func New(prefix string) LeveledLogger {
	return &logger{prefix: prefix, out: os.Stdout, err: os.Stderr}
}

// NewWithWriters returns a LeveledLogger writing to the given writers,
// primarily useful for tests that want to capture log output.
func NewWithWriters(prefix string, out, err io.Writer) LeveledLogger {
	return &logger{prefix: prefix, out: out, err: err}
}

// Discard returns a LeveledLogger that drops everything written to it.
func Discard() LeveledLogger {
	return &logger{prefix: "", out: io.Discard, err: io.Discard}
}

func (l *logger) Info(msg string) {
	l.write(l.out, "info", msg)
}

func (l *logger) Infof(format string, args ...interface{}) {
	l.write(l.out, "info", fmt.Sprintf(format, args...))
}

func (l *logger) Warning(msg string) {
	l.write(l.out, "warn", msg)
}

func (l *logger) Warningf(format string, args ...interface{}) {
	l.write(l.out, "warn", fmt.Sprintf(format, args...))
}

func (l *logger) Error(msg string) {
	l.write(l.err, "error", msg)
}

func (l *logger) Errorf(format string, args ...interface{}) {
	l.write(l.err, "error", fmt.Sprintf(format, args...))
}

func (l *logger) Fatal(msg string) {
	l.Error(msg)
	os.Exit(1)
}

func (l *logger) Fatalf(format string, args ...interface{}) {
	l.Errorf(format, args...)
	os.Exit(1)
}

func (l *logger) write(w io.Writer, level string, msg string) {
	fmt.Fprintf(w, "%s [%s]: %s\n", l.prefix, level, msg)
}
