// Package app wires configuration into the running engine: database,
// Redis, locks, ledger sinks, repositories, and the segmentation,
// automation and scheduling services built on them.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/config"
	"github.com/ignite/leadflow/internal/ledger"
	"github.com/ignite/leadflow/internal/mailing"
	"github.com/ignite/leadflow/internal/notify"
	"github.com/ignite/leadflow/internal/pkg/distlock"
	"github.com/ignite/leadflow/internal/pkg/httpretry"
	"github.com/ignite/leadflow/internal/pkg/logger"
	"github.com/ignite/leadflow/internal/repository/postgres"
	"github.com/ignite/leadflow/internal/scheduler"
	"github.com/ignite/leadflow/internal/segmentation"
	"github.com/redis/go-redis/v9"
)

// App holds the shared services of one process.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client // nil when Redis is not configured
	Locks  distlock.Provider

	Ledger   ledger.Recorder
	Archiver *ledger.S3Archiver // nil unless ledger.s3_bucket is set

	Segments    *segmentation.Engine
	Automations *postgres.AutomationRepo
	Pipeline    *automation.Pipeline
	Dispatcher  *automation.Dispatcher
	Queue       *scheduler.Queue
	History     *notify.RedisNotifier // nil when Redis is not configured
}

// New connects to every configured backend and builds the services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.Configure(cfg.Logging.Level, cfg.Logging.RedactPII)

	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime(),
		ConnMaxIdleTime: time.Minute,
	})
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db}

	if cfg.Redis.Enabled() {
		a.Redis = connectRedis(ctx, cfg.Redis)
	}
	a.Locks = distlock.NewProvider(a.Redis, db)

	if err := a.buildLedger(ctx); err != nil {
		db.Close()
		return nil, err
	}

	transport, err := emailTransport(ctx, cfg.SES)
	if err != nil {
		db.Close()
		return nil, err
	}
	mailer := mailing.NewMailer(postgres.NewTemplateRepo(db), nil, transport, mailing.From{
		Email:   cfg.SES.FromEmail,
		Name:    cfg.SES.FromName,
		ReplyTo: cfg.SES.ReplyTo,
	})

	var notifier automation.NotificationSender = notify.LogNotifier{}
	if a.Redis != nil {
		a.History = notify.NewRedisNotifier(a.Redis, cfg.Redis.NotificationHistory)
		notifier = a.History
	}

	leads := postgres.NewLeadRepo(db)
	executor := automation.NewExecutor(leads,
		automation.WithEmailSender(mailer),
		automation.WithNotifier(notifier),
		automation.WithTaskCreator(leads),
		automation.WithWebhookClient(httpretry.New(&http.Client{Timeout: cfg.Automation.WebhookTimeout()}, cfg.Automation.WebhookRetries)),
	)

	a.Queue = scheduler.NewQueue(postgres.NewTaskRepo(db),
		scheduler.WithBackoff(scheduler.NewBackoff(cfg.Scheduler.BackoffMode, cfg.Scheduler.Backoff(), cfg.Scheduler.MaxBackoff())),
		scheduler.WithLedger(a.Ledger),
		scheduler.WithLease(cfg.Scheduler.Lease()),
	)
	a.Automations = postgres.NewAutomationRepo(db)
	a.Pipeline = automation.NewPipeline(a.Automations, postgres.NewRunRepo(db), executor,
		automation.WithRunLedger(a.Ledger))
	a.Dispatcher = automation.NewDispatcher(a.Automations, a.Pipeline, a.Queue)
	a.Segments = segmentation.NewEngine(postgres.NewSegmentRepo(db), leads,
		segmentation.WithLocks(a.Locks, cfg.Segmentation.LockTTL()),
		segmentation.WithTransitionSink(a.Dispatcher),
	)
	automation.RegisterHandlers(a.Queue, a.Pipeline, a.Segments)
	return a, nil
}

// connectRedis returns nil when the server is unreachable so the process
// can run on Postgres locks alone.
func connectRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("[App] Redis unavailable at %s, falling back to Postgres locks: %v", cfg.Addr, err)
		client.Close()
		return nil
	}
	log.Printf("[App] Connected to Redis at %s", cfg.Addr)
	return client
}

func (a *App) buildLedger(ctx context.Context) error {
	lc := a.Config.Ledger
	var sinks ledger.Fanout
	if lc.Postgres {
		sinks = append(sinks, postgres.NewLedgerRepo(a.DB))
	}
	if lc.S3Bucket != "" || lc.DynamoDBTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(lc.Region))
		if err != nil {
			return fmt.Errorf("load aws config for ledger: %w", err)
		}
		if lc.S3Bucket != "" {
			a.Archiver = ledger.NewS3Archiver(s3.NewFromConfig(awsCfg), lc.S3Bucket, lc.S3Prefix)
			a.Archiver.SetFlushInterval(lc.FlushInterval())
			sinks = append(sinks, a.Archiver)
		}
		if lc.DynamoDBTable != "" {
			sinks = append(sinks, ledger.NewDynamoSink(dynamodb.NewFromConfig(awsCfg), lc.DynamoDBTable))
		}
	}
	if len(sinks) == 0 {
		a.Ledger = ledger.Nop{}
		return nil
	}
	a.Ledger = sinks
	return nil
}

func emailTransport(ctx context.Context, cfg config.SESConfig) (mailing.Transport, error) {
	if !cfg.Enabled {
		log.Println("[App] SES disabled, automation e-mail goes to the log")
		return mailing.LogTransport{}, nil
	}
	t, err := mailing.NewSESTransport(ctx, mailing.SESConfig{
		Region:           cfg.Region,
		AccessKey:        cfg.AccessKey,
		SecretKey:        cfg.SecretKey,
		ConfigurationSet: cfg.ConfigurationSet,
	})
	if err != nil {
		return nil, fmt.Errorf("ses transport: %w", err)
	}
	return t, nil
}

// Start launches background sinks that buffer work.
func (a *App) Start() {
	if a.Archiver != nil {
		a.Archiver.Start()
	}
}

// Close flushes buffered ledger entries and releases connections.
func (a *App) Close(ctx context.Context) {
	if a.Archiver != nil {
		if err := a.Archiver.Stop(ctx); err != nil {
			log.Printf("[App] ledger archive flush failed: %v", err)
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.DB.Close()
}
