// Package mzap adapts go.uber.org/zap (with otelzap trace correlation) to the mlog.Logger interface.
package mzap

import (
	"github.com/hustlexp/moneycore/pkg/mlog"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Logger wraps an otelzap sugared logger so span/trace IDs are attached
// automatically whenever the ambient context carries an active span.
type Logger struct {
	sugar *otelzap.SugaredLogger
}

// New builds a Logger for the given mode; production/staging get JSON
// encoding, everything else gets a human-readable console encoder.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	if mode == "production" || mode == "staging" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{sugar: otelzap.New(base).Sugar()}, nil
}

func (l *Logger) Info(args ...any)                  { l.sugar.Info(args...) }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Infoln(args ...any)                { l.sugar.Info(args...) }
func (l *Logger) Error(args ...any)                 { l.sugar.Error(args...) }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }
func (l *Logger) Errorln(args ...any)               { l.sugar.Error(args...) }
func (l *Logger) Warn(args ...any)                  { l.sugar.Warn(args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Warnln(args ...any)                { l.sugar.Warn(args...) }
func (l *Logger) Debug(args ...any)                 { l.sugar.Debug(args...) }
func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Debugln(args ...any)               { l.sugar.Debug(args...) }
func (l *Logger) Fatal(args ...any)                 { l.sugar.Fatal(args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.sugar.Fatalf(format, args...) }
func (l *Logger) Fatalln(args ...any)               { l.sugar.Fatal(args...) }

//nolint:ireturn
func (l *Logger) WithFields(fields ...any) mlog.Logger {
	return &Logger{sugar: l.sugar.With(fields...)}
}

func (l *Logger) Sync() error { return l.sugar.Sync() }

var _ mlog.Logger = (*Logger)(nil)
