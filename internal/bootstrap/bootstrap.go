package bootstrap

import (
	"fmt"
	"time"

	"github.com/hustlexp/moneycore/internal/adapters/dlqhandlers"
	"github.com/hustlexp/moneycore/internal/adapters/mongoaudit"
	"github.com/hustlexp/moneycore/internal/adapters/postgres"
	"github.com/hustlexp/moneycore/internal/adapters/rabbitmq"
	"github.com/hustlexp/moneycore/internal/adapters/reconcile"
	redisadapter "github.com/hustlexp/moneycore/internal/adapters/redis"
	"github.com/hustlexp/moneycore/internal/adapters/stripeprocessor"
	"github.com/hustlexp/moneycore/internal/gate"
	"github.com/hustlexp/moneycore/internal/httpapi"
	"github.com/hustlexp/moneycore/internal/killswitch"
	"github.com/hustlexp/moneycore/internal/ledger"
	"github.com/hustlexp/moneycore/internal/locks"
	"github.com/hustlexp/moneycore/internal/recovery"
	"github.com/hustlexp/moneycore/internal/saga"
	"github.com/hustlexp/moneycore/internal/tpee"
	"github.com/hustlexp/moneycore/pkg/applauncher"
	"github.com/hustlexp/moneycore/pkg/idgen"
	"github.com/hustlexp/moneycore/pkg/mlog"
	"github.com/hustlexp/moneycore/pkg/mmongo"
	"github.com/hustlexp/moneycore/pkg/mopentelemetry"
	"github.com/hustlexp/moneycore/pkg/mpostgres"
	"github.com/hustlexp/moneycore/pkg/mrabbitmq"
	"github.com/hustlexp/moneycore/pkg/mredis"
	"github.com/hustlexp/moneycore/pkg/mzap"
	"github.com/hustlexp/moneycore/pkg/nethttp"
)

// System is every wired component plus the Launcher ready to Run.
type System struct {
	Config    *Config
	Logger    mlog.Logger
	Telemetry *mopentelemetry.Telemetry
	Launcher  *applauncher.Launcher
}

// Init wires every dependency named in spec.md into a runnable System:
// connections, the ledger/MSM/saga/gate/tpee/recovery components, the
// HTTP surface, and the Apps registered with the Launcher.
func Init(cfg *Config) (*System, error) {
	logger, err := mzap.New(cfg.EnvName)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: logger: %w", err)
	}

	telemetry := &mopentelemetry.Telemetry{
		LibraryName:      cfg.OtelLibraryName,
		ServiceName:      cfg.OtelServiceName,
		ServiceVersion:   cfg.OtelServiceVersion,
		DeploymentEnv:    cfg.OtelDeploymentEnv,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
	}

	tracer := telemetry.Tracer()

	pgConn := &mpostgres.Connection{
		PrimaryDSN:     cfg.PostgresPrimaryDSN,
		ReplicaDSN:     cfg.PostgresReplicaDSN,
		PrimaryDBName:  cfg.PostgresDBName,
		MigrationsPath: cfg.PostgresMigrationsPath,
		Logger:         logger,
	}

	redisConn := &mredis.Connection{URL: cfg.RedisURL, Logger: logger}
	rabbitConn := &mrabbitmq.Connection{URL: cfg.RabbitMQURL, Logger: logger}
	mongoConn := &mmongo.Connection{URL: cfg.MongoURL, Database: cfg.MongoDatabase, Logger: logger}

	store := postgres.Store{Conn: pgConn, Logger: logger, Tracer: tracer}

	accounts := &postgres.AccountRepository{Store: store}
	transactions := &postgres.TransactionRepository{Store: store}
	snapshots := &postgres.SnapshotRepository{Store: store}

	led := &ledger.Ledger{
		Accounts:     accounts,
		Transactions: transactions,
		Snapshots:    snapshots,
		Logger:       logger,
		Tracer:       tracer,
	}

	appLocks := &postgres.AppLockRepository{Store: store}
	locker := &locks.Locker{Store: appLocks, DefaultTTL: time.Duration(cfg.LockTTLSeconds) * time.Second}

	killSwitchMirror := &redisadapter.KillSwitchMirror{Conn: redisConn}
	killSwitch := &killswitch.Switch{Mirror: killSwitchMirror, Logger: logger}

	tasks := &postgres.TaskRepository{Store: store}
	disputes := &postgres.DisputeRepository{Store: store}
	moneyLocks := &postgres.MoneyLockRepository{Store: store}
	processedEvents := &postgres.ProcessedEventRepository{Store: store}
	adminActions := &postgres.AdminActionRepository{Store: store}

	audit := &mongoaudit.Repository{Conn: mongoConn, Logger: logger, Tracer: tracer}

	stripe := stripeprocessor.New(cfg.StripeBaseURL, cfg.StripeAPIKey, stripeprocessor.WithLogger(logger))

	dlqStore := &postgres.DLQRepository{Store: store}

	launcher := applauncher.NewLauncher(applauncher.WithLogger(logger))

	orchestrator := &saga.Orchestrator{
		Locker:          locker,
		KillSwitch:      killSwitch,
		Ledger:          led,
		MoneyLocks:      moneyLocks,
		ProcessedEvents: processedEvents,
		Audit:           audit,
		AdminActions:    adminActions,
		Accounts:        accounts,
		Disputes:        disputes,
		Tasks:           tasks,
		Provider:        stripe,
		DLQ:             &recovery.Enqueuer{Store: dlqStore},
		TxRunner:        &postgres.TxRunner{Conn: pgConn},
		Logger:          logger,
		Tracer:          tracer,
		NewID:           idgen.NewID,
		LockTTL:         time.Duration(cfg.LockTTLSeconds) * time.Second,
		Drain:           launcher,
	}

	trustRepo := &postgres.TrustRepository{Store: store}
	velocity := &redisadapter.Velocity{
		Conn:      redisConn,
		Logger:    logger,
		HourlyCap: cfg.TPEEHourlyVelocityCap,
		DailyCap:  cfg.TPEEDailyVelocityCap,
	}

	tpeeEngine := &tpee.Engine{
		Policy:   defaultTPEEPolicy(cfg),
		Trust:    trustRepo,
		Velocity: velocity,
	}

	gateDispatcher := &gate.SagaDispatcher{Orchestrator: orchestrator}
	orderingGate := &gate.Gate{
		Config: gate.Config{
			HMACSecret:       cfg.WebhookHMACSecret,
			Livemode:         cfg.Livemode,
			AllowedTypes:     defaultAllowedWebhookTypes(),
			LateArrivalAfter: time.Duration(cfg.LateArrivalAfterMinutes) * time.Minute,
		},
		KillSwitch: killSwitch,
		Replay:     &redisadapter.ReplayDedup{Conn: redisConn},
		Heads:      &redisadapter.HeadTracker{Conn: redisConn},
		Dispatcher: gateDispatcher,
		Logger:     logger,
	}

	webhookProducer := &rabbitmq.Producer{Conn: rabbitConn, Exchange: cfg.WebhookExchange, Queue: cfg.WebhookQueue}
	webhookConsumer := &rabbitmq.Consumer{
		Conn:       rabbitConn,
		Queue:      cfg.WebhookQueue,
		Gate:       orderingGate,
		Logger:     logger,
		NewEventID: func() string { return idgen.NewID().String() },
	}

	httpServer := &httpapi.Server{
		Orchestrator:    orchestrator,
		TPEE:            tpeeEngine,
		Gate:            orderingGate,
		WebhookProducer: webhookProducer,
		Tasks:           tasks,
		Disputes:        disputes,
		MoneyLocks:      moneyLocks,
		AdminActions:    adminActions,
		Idempotency:     &httpapi.IdempotencyCache{Conn: redisConn},
		RedisConn:       redisConn,
		JWT:             nethttp.JWTConfig{PublicKey: []byte(cfg.JWTHMACSecret)},
		Logger:          logger,
		Tracer:          tracer,
		NewID:           func() string { return idgen.NewID().String() },
		PlatformFeeBps:  cfg.PlatformFeeBps,
	}

	reaper := &recovery.Reaper{
		Ledger:     led,
		Txs:        &postgres.LedgerTxRepository{Store: store},
		Outbound:   &postgres.ProviderOutboundRepository{Store: store},
		KillSwitch: killSwitch,
		Logger:     logger,
		StuckAfter: time.Duration(cfg.ReaperStuckAfterSeconds) * time.Second,
	}

	dlqProcessor := &recovery.DLQProcessor{
		Store:      dlqStore,
		KillSwitch: killSwitch,
		Logger:     logger,
		Handlers: map[string]recovery.Handler{
			"POST_PAYOUT_REFUND": &dlqhandlers.PostPayoutRefund{Processor: stripe},
		},
	}

	mirror := &postgres.MirrorRepository{Store: store}

	backfill := &recovery.Backfill{
		Mirror: mirror,
		Reconstructor: &reconcile.Reconstructor{
			Tasks:  moneyLocks,
			Ledger: led,
			Logger: logger,
		},
		KillSwitch: killSwitch,
		Logger:     logger,
	}

	reconciler := &recovery.Reconciler{
		Mirror:     mirror,
		Fetcher:    stripe,
		KillSwitch: killSwitch,
		Logger:     logger,
	}

	recoveryInterval := time.Duration(cfg.RecoveryPollIntervalSeconds) * time.Second

	launcher.
		Add("http", &httpServerApp{Server: httpServer, Addr: cfg.ServerAddress, Logger: logger}).
		Add("webhook-consumer", &consumerApp{Consumer: webhookConsumer}).
		Add("kill-switch-refresh", &killSwitchRefreshApp{Switch: killSwitch, Interval: time.Duration(cfg.KillSwitchRefreshIntervalSeconds) * time.Second}).
		Add("reaper", &tickerApp{Name: "reaper", Interval: recoveryInterval, Logger: logger, Pass: reaper.Run}).
		Add("dlq", &tickerApp{Name: "dlq", Interval: recoveryInterval, Logger: logger, Pass: dlqProcessor.Run}).
		Add("backfill", &tickerApp{Name: "backfill", Interval: recoveryInterval, Logger: logger, Pass: backfill.Run}).
		Add("reconciler", &tickerApp{Name: "reconciler", Interval: recoveryInterval, Logger: logger, Pass: reconciler.Run})

	return &System{Config: cfg, Logger: logger, Telemetry: telemetry, Launcher: launcher}, nil
}

func defaultAllowedWebhookTypes() map[string]bool {
	return map[string]bool{
		"transfer.paid":          true,
		"transfer.reversed":      true,
		"charge.refunded":        true,
		"charge.dispute.created": true,
	}
}

func defaultTPEEPolicy(cfg *Config) tpee.PolicyConfig {
	return tpee.PolicyConfig{
		Version: cfg.TPEEPolicyVersion,
		AllowedCategories: map[string]bool{
			"delivery":   true,
			"cleaning":   true,
			"moving":     true,
			"assembly":   true,
			"yard_work":  true,
			"errands":    true,
			"pet_care":   true,
			"tech_help":  true,
		},
		MinTaskPriceCentsByCity: map[string]int64{
			"san_francisco": 1500,
			"new_york":      1200,
			"seattle":       1200,
		},
		DefaultMinPriceCents: cfg.TPEEDefaultMinPriceCents,
		TrustHardThreshold:   int(cfg.TPEETrustHardThreshold),
		TrustWarnThreshold:   int(cfg.TPEETrustWarnThreshold),
		ShadowMode:           cfg.TPEEShadowMode,
	}
}
