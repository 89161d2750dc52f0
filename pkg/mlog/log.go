// Package mlog defines the logging interface used throughout moneycore.
package mlog

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Logger is the common interface every logging backend implements.
type Logger interface {
	Info(args ...any)
	Infof(format string, args ...any)
	Infoln(args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)
	Errorln(args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)
	Warnln(args ...any)

	Debug(args ...any)
	Debugf(format string, args ...any)
	Debugln(args ...any)

	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Fatalln(args ...any)

	WithFields(fields ...any) Logger

	Sync() error
}

// Level represents a logging severity.
type Level int8

const (
	FatalLevel Level = iota
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
)

// ParseLevel parses a level name, defaulting to an error when unrecognized.
func ParseLevel(lvl string) (Level, error) {
	switch strings.ToLower(lvl) {
	case "fatal":
		return FatalLevel, nil
	case "error":
		return ErrorLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	}

	var l Level

	return l, fmt.Errorf("not a valid log level: %q", lvl)
}

// GoLogger is a stdlib-backed Logger, used for local runs and tests.
type GoLogger struct {
	Level  Level
	fields []any
}

func (l *GoLogger) enabled(level Level) bool { return l.Level >= level }

func (l *GoLogger) Info(args ...any) {
	if l.enabled(InfoLevel) {
		log.Print(append(l.fields, args...)...)
	}
}

func (l *GoLogger) Infof(format string, args ...any) {
	if l.enabled(InfoLevel) {
		log.Printf(format, args...)
	}
}

func (l *GoLogger) Infoln(args ...any) {
	if l.enabled(InfoLevel) {
		log.Println(append(l.fields, args...)...)
	}
}

func (l *GoLogger) Error(args ...any) {
	if l.enabled(ErrorLevel) {
		log.Print(append(l.fields, args...)...)
	}
}

func (l *GoLogger) Errorf(format string, args ...any) {
	if l.enabled(ErrorLevel) {
		log.Printf(format, args...)
	}
}

func (l *GoLogger) Errorln(args ...any) {
	if l.enabled(ErrorLevel) {
		log.Println(append(l.fields, args...)...)
	}
}

func (l *GoLogger) Warn(args ...any) {
	if l.enabled(WarnLevel) {
		log.Print(append(l.fields, args...)...)
	}
}

func (l *GoLogger) Warnf(format string, args ...any) {
	if l.enabled(WarnLevel) {
		log.Printf(format, args...)
	}
}

func (l *GoLogger) Warnln(args ...any) {
	if l.enabled(WarnLevel) {
		log.Println(append(l.fields, args...)...)
	}
}

func (l *GoLogger) Debug(args ...any) {
	if l.enabled(DebugLevel) {
		log.Print(append(l.fields, args...)...)
	}
}

func (l *GoLogger) Debugf(format string, args ...any) {
	if l.enabled(DebugLevel) {
		log.Printf(format, args...)
	}
}

func (l *GoLogger) Debugln(args ...any) {
	if l.enabled(DebugLevel) {
		log.Println(append(l.fields, args...)...)
	}
}

func (l *GoLogger) Fatal(args ...any) {
	log.Print(append(l.fields, args...)...)
}

func (l *GoLogger) Fatalf(format string, args ...any) {
	log.Printf(format, args...)
}

func (l *GoLogger) Fatalln(args ...any) {
	log.Println(append(l.fields, args...)...)
}

//nolint:ireturn
func (l *GoLogger) WithFields(fields ...any) Logger {
	return &GoLogger{Level: l.Level, fields: fields}
}

func (l *GoLogger) Sync() error { return nil }

type ctxKey string

const loggerCtxKey ctxKey = "mlog.logger"

// ContextWithLogger attaches a Logger to ctx.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// FromContext extracts the Logger from ctx, falling back to a GoLogger that
// logs only errors and fatals.
//
//nolint:ireturn
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerCtxKey).(Logger); ok {
		return l
	}

	return &GoLogger{Level: ErrorLevel}
}
