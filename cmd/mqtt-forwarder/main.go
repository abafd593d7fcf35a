package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/hems/mqtt-forwarder/internal/allowlist"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/broker"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/config"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/database"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/forward"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/handler"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/metric"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/mqtt"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/runtime"
	"github.com/lucaslui/hems/mqtt-forwarder/internal/throttle"
)

const appID = "mqtt-forwarder"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("config error: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := config.NewLogger(appID, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	logger.Infof("starting %s with config:%s", appID, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runtime.SetupGracefulShutdown(cancel, logger)

	metrics := metric.New(appID)
	if cfg.MetricsAddr != "" {
		go metrics.Serve(ctx, cfg.MetricsAddr, logger)
	}

	store, closeSource := buildAllowlist(cfg, logger, metrics)
	defer closeSource()
	store.Refresh(ctx)
	logger.Infow("allowlist ready", "size", store.Size(), "source", cfg.AllowlistSource)
	go store.Run(ctx, cfg.AllowlistRefresh)

	engine := throttle.New(cfg.ForwardInterval, cfg.MinTempDelta)

	var (
		mirrors    []forward.Sink
		routerOpts = []handler.Option{handler.WithObserver(metrics)}
	)
	if cfg.KafkaEnabled() {
		if err := broker.EnsureKafkaTopics(ctx, cfg, logger); err != nil {
			logger.Fatalw("kafka ensure topics error", "error", err)
		}
		kc := broker.NewKafkaClient(cfg, logger)
		defer kc.Close()
		mirrors = append(mirrors, kc)
		routerOpts = append(routerOpts, handler.WithDeadLetter(kc))
	}
	if cfg.InfluxEnabled() {
		db := database.NewInfluxDB(cfg)
		defer db.Close()
		mirrors = append(mirrors, db)
	}

	dispatcher := forward.NewDispatcher(
		forward.NewHTTPForwarder(cfg.IngestURL, cfg.IngestToken),
		cfg.ForwardWorkers, cfg.ForwardQueueSize, logger,
		forward.WithMirrors(mirrors...),
		forward.WithObserver(metrics),
	)
	defer dispatcher.Stop()

	router := handler.NewRouter(store, engine, dispatcher, logger, routerOpts...)

	client := mqtt.BuildMQTTClient(ctx, cfg, logger, router.Handle)
	if err := mqtt.ConnectWithBackoff(ctx, client, logger, 2*time.Second, 30*time.Second); err != nil {
		logger.Infow("stopped before mqtt connected", "error", err)
		return
	}
	defer client.Disconnect(250)

	<-ctx.Done()
	logger.Info("mqtt-forwarder stopped")
}

func buildAllowlist(cfg *config.Config, logger *zap.SugaredLogger, metrics *metric.Metric) (*allowlist.Store, func()) {
	opts := []allowlist.Option{
		allowlist.WithFailClosed(cfg.AllowlistFailClosed),
		allowlist.WithObserver(metrics),
	}

	switch cfg.AllowlistSource {
	case config.AllowlistREST:
		src := allowlist.NewRESTSource(cfg.AllowlistURL, cfg.AllowlistToken)
		return allowlist.NewStore(src, cfg.AllowedDevices, logger, opts...), func() {}
	case config.AllowlistRedis:
		src := allowlist.NewRedisSource(allowlist.RedisOpts{
			Addr:              cfg.RedisAddr,
			Password:          cfg.RedisPassword,
			DB:                cfg.RedisDB,
			Key:               cfg.RedisAllowlistKey,
			InvalidateChannel: cfg.RedisInvalidateChannel,
		})
		return allowlist.NewStore(src, cfg.AllowedDevices, logger, opts...), func() { _ = src.Close() }
	default:
		return allowlist.NewStore(nil, cfg.AllowedDevices, logger, opts...), func() {}
	}
}
