package bootstrap

import (
	"context"
	"time"

	"github.com/hustlexp/moneycore/internal/adapters/rabbitmq"
	"github.com/hustlexp/moneycore/internal/httpapi"
	"github.com/hustlexp/moneycore/internal/killswitch"
	"github.com/hustlexp/moneycore/pkg/applauncher"
	"github.com/hustlexp/moneycore/pkg/mlog"
)

// httpServerApp adapts httpapi.Server's fiber router to applauncher.App.
type httpServerApp struct {
	Server *httpapi.Server
	Addr   string
	Logger mlog.Logger
}

func (a *httpServerApp) Run(ctx context.Context, _ *applauncher.Launcher) error {
	router := a.Server.Router()

	errCh := make(chan error, 1)

	go func() {
		errCh <- router.Listen(a.Addr)
	}()

	select {
	case <-ctx.Done():
		return router.ShutdownWithTimeout(5 * time.Second)
	case err := <-errCh:
		return err
	}
}

// consumerApp adapts rabbitmq.Consumer.Run(ctx) to applauncher.App.
type consumerApp struct {
	Consumer *rabbitmq.Consumer
}

func (a *consumerApp) Run(ctx context.Context, _ *applauncher.Launcher) error {
	return a.Consumer.Run(ctx)
}

// killSwitchRefreshApp adapts killswitch.Switch.RunRefreshLoop to
// applauncher.App; RunRefreshLoop never returns an error itself, it just
// logs transient mirror failures and keeps polling until ctx is done.
type killSwitchRefreshApp struct {
	Switch   *killswitch.Switch
	Interval time.Duration
}

func (a *killSwitchRefreshApp) Run(ctx context.Context, _ *applauncher.Launcher) error {
	a.Switch.RunRefreshLoop(ctx, a.Interval)
	return nil
}

// tickerApp runs a recovery loop's Run(ctx) error on a fixed interval
// until ctx is cancelled, the shape every one of the four recovery
// components (Reaper, DLQProcessor, Backfill, Reconciler) shares.
type tickerApp struct {
	Name     string
	Interval time.Duration
	Logger   mlog.Logger
	Pass     func(ctx context.Context) error
}

func (a *tickerApp) Run(ctx context.Context, _ *applauncher.Launcher) error {
	if err := a.Pass(ctx); err != nil && a.Logger != nil {
		a.Logger.Error("recovery loop failed on startup pass", "loop", a.Name, "error", err)
	}

	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.Pass(ctx); err != nil && a.Logger != nil {
				a.Logger.Error("recovery loop pass failed", "loop", a.Name, "error", err)
			}
		}
	}
}
