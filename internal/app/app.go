package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"eventdelivery/internal/config"
	"eventdelivery/internal/entity"
	"eventdelivery/internal/repository"
	"eventdelivery/internal/service"
	"eventdelivery/internal/transport/amqp"
	httpt "eventdelivery/internal/transport/http"
	"eventdelivery/internal/transport/sender"
	"eventdelivery/internal/transport/webhook"
	"eventdelivery/pkg/metric"

	"github.com/golang-migrate/migrate"
	_ "github.com/golang-migrate/migrate/database/postgres"
	_ "github.com/golang-migrate/migrate/source/file"
	"github.com/prometheus/client_golang/prometheus"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/dbpg/pgx-driver/transaction"
	"github.com/wb-go/wbf/logger"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/retry"
	"golang.org/x/sync/errgroup"
)

const (
	_strategyAttempts = 3
	_strategyDelay    = 3 * time.Second
	_strategyBackoff  = 2
)

func Run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)

	if err := runMigrations(&cfg.Database); err != nil {
		return err
	}

	db, dbErr := initDatabase(&cfg.Database, log)
	if dbErr != nil {
		return dbErr
	}
	defer closeDB(db)

	tm, tmErr := initTransactionManager(db, log)
	if tmErr != nil {
		return tmErr
	}

	rdb := initCache(&cfg.Cache)
	defer closeCache(rdb, log)

	registry := prometheus.NewRegistry()
	metrics := metric.NewDelivery(registry)

	dispatcher, dispErr := initDispatcher(cfg, db, tm, metrics, log)
	if dispErr != nil {
		return dispErr
	}

	hub := sender.NewPushHub(log.With("component", "push hub"))

	orchestrator, orchErr := initOrchestrator(cfg, db, rdb, hub, metrics, log)
	if orchErr != nil {
		return orchErr
	}

	rmqClient, publisher, rmqErr := initBroker(&cfg.Broker)
	if rmqErr != nil {
		return rmqErr
	}
	defer rmqClient.Close()

	events := amqp.NewEventPublisher(publisher, log.With("component", "event publisher"))

	if workerErr := initWorker(ctx, eg, &cfg.Broker, dispatcher, orchestrator, log); workerErr != nil {
		return workerErr
	}

	if serverErr := initHTTPServer(ctx, eg, &cfg.HTTP, dispatcher, orchestrator, events, hub, log); serverErr != nil {
		return serverErr
	}

	eg.Go(func() error {
		return metric.Serve(ctx, metric.ServerConfig{
			Addr:              net.JoinHostPort(cfg.Metrics.Host, cfg.Metrics.Port),
			ReadTimeout:       cfg.Metrics.ReadTimeout,
			WriteTimeout:      cfg.Metrics.WriteTimeout,
			ReadHeaderTimeout: cfg.Metrics.ReadHeaderTimeout,
		}, registry)
	})

	return waitForShutdown(eg)
}

func runMigrations(cfg *config.Database) error {
	const op = "app.runMigrations"

	m, err := migrate.New(cfg.MigrationsPath, cfg.DSN)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func initDatabase(cfg *config.Database, log logger.Logger) (*pgxdriver.Postgres, error) {
	db, err := pgxdriver.New(
		cfg.DSN,
		log.With("component", "database"),
		pgxdriver.MaxPoolSize(int32(cfg.PoolMax)),
		pgxdriver.MaxConnAttempts(cfg.ConnAttempts),
		pgxdriver.BaseRetryDelay(cfg.BaseRetryDelay),
		pgxdriver.MaxRetryDelay(cfg.MaxRetryDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("app.initDatabase: %w", err)
	}
	return db, nil
}

func closeDB(db *pgxdriver.Postgres) {
	if db != nil {
		db.Close()
	}
}

func initTransactionManager(db *pgxdriver.Postgres, log logger.Logger) (transaction.Manager, error) {
	tm, err := transaction.NewManager(db, log)
	if err != nil {
		return nil, fmt.Errorf("app.initTransactionManager: %w", err)
	}
	return tm, nil
}

func initCache(cfg *config.Cache) *redis.Client {
	return redis.New(cfg.Addr, cfg.Password, cfg.DB)
}

func closeCache(rdb *redis.Client, log logger.Logger) {
	if err := rdb.Close(); err != nil {
		log.Errorw("cache close failed", "error", err)
	}
}

func initDispatcher(
	cfg *config.Config,
	db *pgxdriver.Postgres,
	tm transaction.Manager,
	metrics *metric.Delivery,
	log logger.Logger,
) (*service.Dispatcher, error) {
	subRepo := repository.NewSubscriptionRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)

	client := webhook.NewClient(
		cfg.Dispatcher.HTTPTimeout,
		cfg.Dispatcher.MaxBodyBytes,
		log.With("component", "webhook client"),
	)

	dispatcher := service.NewDispatcher(
		subRepo,
		deliveryRepo,
		tm,
		client,
		metrics,
		log.With("component", "dispatcher"),
		service.WithBatchSize(cfg.Dispatcher.BatchSize),
		service.WithMaxRetries(cfg.Dispatcher.MaxRetries),
		service.WithBackoff(cfg.Dispatcher.BaseBackoff, cfg.Dispatcher.MaxBackoff),
		service.WithWorkers(cfg.Dispatcher.Workers),
	)
	return dispatcher, nil
}

func initOrchestrator(
	cfg *config.Config,
	db *pgxdriver.Postgres,
	rdb *redis.Client,
	hub *sender.PushHub,
	metrics *metric.Delivery,
	log logger.Logger,
) (*service.Orchestrator, error) {
	prefRepo := repository.NewPreferenceRepository(db)
	logRepo := repository.NewNotificationLogRepository(db)

	adapters, err := initAdapters(cfg, hub, log)
	if err != nil {
		return nil, err
	}

	var dedup service.DeduplicationStore
	if cfg.Orchestrator.SharedDedup {
		dedup = repository.NewRedisDedupStore(rdb, cfg.Orchestrator.DedupWindow)
	} else {
		dedup = service.NewMemoryDedupStore(cfg.Orchestrator.DedupWindow)
	}

	orchestrator := service.NewOrchestrator(
		prefRepo,
		logRepo,
		dedup,
		adapters,
		metrics,
		log.With("component", "orchestrator"),
		service.WithChannelTimeout(cfg.Orchestrator.ChannelTimeout),
	)
	return orchestrator, nil
}

func initAdapters(
	cfg *config.Config,
	hub *sender.PushHub,
	log logger.Logger,
) (map[entity.Channel]service.ChannelAdapter, error) {
	teleSender, err := sender.NewTelegramSender(cfg.Telegram.Token, log.With("component", "telegram sender"))
	if err != nil {
		return nil, fmt.Errorf("app.initAdapters: %w", err)
	}

	emailSender := sender.NewEmailSender(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
		cfg.SMTP.From,
		log.With("component", "email sender"),
	)

	smsSender := sender.NewSMSSender(
		cfg.SMS.ProviderURL,
		cfg.SMS.APIKey,
		cfg.SMS.From,
		cfg.SMS.CostPerMsg,
		log.With("component", "sms sender"),
	)

	return map[entity.Channel]service.ChannelAdapter{
		entity.ChannelEmail: emailSender,
		entity.ChannelPush:  hub,
		entity.ChannelSMS:   smsSender,
		entity.ChannelChat:  teleSender,
	}, nil
}

func initBroker(cfg *config.Broker) (*rabbitmq.RabbitClient, *rabbitmq.Publisher, error) {
	strategy := retry.Strategy{
		Attempts: _strategyAttempts,
		Delay:    _strategyDelay,
		Backoff:  _strategyBackoff,
	}
	rmqCfg := rabbitmq.ClientConfig{
		URL:            cfg.URL,
		ConnectionName: cfg.ConnectionName,
		ConnectTimeout: cfg.ConnectTimeout,
		Heartbeat:      cfg.Heartbeat,
		ProducingStrat: strategy,
		ReconnectStrat: strategy,
	}

	client, err := rabbitmq.NewClient(rmqCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("app.initBroker: init new RabbitMQ client: %w", err)
	}

	publisher := rabbitmq.NewPublisher(client, cfg.Exchange, cfg.ContentType)
	return client, publisher, nil
}

func initWorker(
	ctx context.Context,
	eg *errgroup.Group,
	cfg *config.Broker,
	dispatcher *service.Dispatcher,
	orchestrator *service.Orchestrator,
	log logger.Logger,
) error {
	consumer := amqp.NewEventConsumer(dispatcher, orchestrator, log.With("component", "event consumer"))

	worker, err := amqp.NewWorker(amqp.WorkerConfig{
		URL:      cfg.URL,
		Exchange: cfg.Exchange,
		Queue:    cfg.Queue,
	}, consumer.Handler(), log.With("component", "worker"))
	if err != nil {
		return fmt.Errorf("app.initWorker: %w", err)
	}

	eg.Go(func() error {
		defer worker.Close()
		return worker.Run(ctx)
	})
	return nil
}

func initHTTPServer(
	ctx context.Context,
	eg *errgroup.Group,
	cfg *config.HTTP,
	dispatcher *service.Dispatcher,
	orchestrator *service.Orchestrator,
	events *amqp.EventPublisher,
	hub *sender.PushHub,
	log logger.Logger,
) error {
	httpServer, err := httpt.NewHTTPServer(
		httpt.NewDeliveryHandler(dispatcher, orchestrator, events, hub, log),
		cfg,
		log.With("component", "http server"),
	)
	if err != nil {
		return fmt.Errorf("app.initHTTPServer: %w", err)
	}

	eg.Go(func() error {
		return httpServer.Start(ctx)
	})
	return nil
}

func waitForShutdown(eg *errgroup.Group) error {
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("app.waitForShutdown: application failed: %w", err)
	}
	return nil
}
