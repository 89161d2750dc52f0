// Package applauncher runs a set of long-lived components (HTTP server,
// webhook consumer, recovery loops) side by side and drains in-flight
// sagas before the process exits, per spec.md §9's shutdown note.
package applauncher

import (
	"context"
	"sync"
	"time"

	"github.com/hustlexp/moneycore/pkg/mlog"
)

// App is one deployable component registered with a Launcher.
type App interface {
	Run(ctx context.Context, launcher *Launcher) error
}

// Launcher owns the lifecycle of every registered App plus the in-flight
// saga drain counter the Saga Orchestrator increments/decrements around
// each run.
type Launcher struct {
	Logger mlog.Logger

	apps map[string]App
	wg   sync.WaitGroup

	inFlight sync.WaitGroup
}

// Option configures a Launcher at construction time.
type Option func(l *Launcher)

// WithLogger sets the logger the Launcher writes its lifecycle messages to.
func WithLogger(logger mlog.Logger) Option {
	return func(l *Launcher) { l.Logger = logger }
}

// NewLauncher builds a Launcher with the given options applied; apps are
// registered afterwards with Add.
func NewLauncher(opts ...Option) *Launcher {
	l := &Launcher{apps: make(map[string]App)}
	for _, opt := range opts {
		opt(l)
	}

	if l.Logger == nil {
		l.Logger = &mlog.GoLogger{Level: mlog.InfoLevel}
	}

	return l
}

// Add registers an App under a name for logging.
func (l *Launcher) Add(name string, a App) *Launcher {
	l.apps[name] = a
	return l
}

// SagaStarted must be called by the Saga Orchestrator before it begins a
// prepare/execute/commit cycle, and SagaFinished once it is fully done
// (success or failure) — this is what lets graceful shutdown wait for
// in-flight sagas instead of severing them mid-commit.
func (l *Launcher) SagaStarted() { l.inFlight.Add(1) }

// SagaFinished marks one saga as no longer in flight.
func (l *Launcher) SagaFinished() { l.inFlight.Done() }

// Run starts every registered App and blocks until ctx is canceled, then
// drains in-flight sagas (bounded by drainTimeout) before returning.
func (l *Launcher) Run(ctx context.Context, drainTimeout time.Duration) {
	l.Logger.Infof("starting %d app(s)", len(l.apps))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for name, app := range l.apps {
		l.wg.Add(1)

		go func(name string, app App) {
			defer l.wg.Done()

			l.Logger.Infof("app %q starting", name)

			if err := app.Run(runCtx, l); err != nil {
				l.Logger.Errorf("app %q stopped with error: %v", name, err)
				return
			}

			l.Logger.Infof("app %q finished", name)
		}(name, app)
	}

	<-ctx.Done()
	l.Logger.Info("shutdown requested, draining in-flight sagas")

	drained := make(chan struct{})

	go func() {
		l.inFlight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		l.Logger.Info("all in-flight sagas drained")
	case <-time.After(drainTimeout):
		l.Logger.Warn("drain timeout exceeded, proceeding with shutdown anyway")
	}

	cancel()
	l.wg.Wait()

	l.Logger.Info("launcher terminated")
}
