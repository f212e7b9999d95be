package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/BearBump/SentryBox/config"
	"github.com/BearBump/SentryBox/internal/broker/kafka"
	"github.com/BearBump/SentryBox/internal/broker/mqtt"
	"github.com/BearBump/SentryBox/internal/cache/rediscache"
	"github.com/BearBump/SentryBox/internal/i18n"
	"github.com/BearBump/SentryBox/internal/ingest/stream"
	"github.com/BearBump/SentryBox/internal/ingest/webhook"
	"github.com/BearBump/SentryBox/internal/integrations/signature"
	"github.com/BearBump/SentryBox/internal/integrations/telegram"
	"github.com/BearBump/SentryBox/internal/integrations/telegram/fake"
	"github.com/BearBump/SentryBox/internal/services/alerts"
	"github.com/BearBump/SentryBox/internal/services/relay"
	"github.com/BearBump/SentryBox/internal/services/retry"
	"github.com/BearBump/SentryBox/internal/storage/pglinks"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type relayFactories struct {
	newLinkStore    func(ctx context.Context, cfg *config.Config) (store relay.LinkStore, ping func(context.Context) error, closeFn func(), err error)
	newRedis        func(cfg *config.Config) *rediscache.Client
	newSender       func(cfg *config.Config) (telegram.Sender, error)
	newPublisher    func(cfg *config.Config) (pub alerts.Publisher, closeFn func() error)
	newStreamSource func(cfg *config.Config) (stream.Source, error)
}

func defaultRelayFactories() relayFactories {
	return relayFactories{
		newLinkStore: func(ctx context.Context, cfg *config.Config) (relay.LinkStore, func(context.Context) error, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := openPostgresWithRetry(ctx, connString, 60*time.Second)
			if err != nil {
				return nil, nil, nil, err
			}
			return st, st.Ping, st.Close, nil
		},
		newRedis: func(cfg *config.Config) *rediscache.Client {
			if cfg.Redis.Host == "" {
				return nil
			}
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr, rediscache.Options{Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		},
		newSender: func(cfg *config.Config) (telegram.Sender, error) {
			// Без токена или в dry-run режиме — локальный fake.
			if cfg.Telegram.DryRun || cfg.Telegram.BotToken == "" {
				slog.Warn("telegram dry-run: alerts are logged, not sent")
				return fake.New(), nil
			}
			return telegram.New(cfg.Telegram.BotToken, telegram.Options{
				ServerURL:   cfg.Telegram.ServerURL,
				SendTimeout: time.Duration(cfg.Telegram.SendTimeoutSeconds) * time.Second,
				RPS:         cfg.Telegram.RequestsPerSecond,
			})
		},
		newPublisher: func(cfg *config.Config) (alerts.Publisher, func() error) {
			if !cfg.Kafka.PublishOutcomes || cfg.Kafka.Host == "" {
				return nil, nil
			}
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			p := kafka.NewProducer(brokers)
			return p, p.Close
		},
		newStreamSource: func(cfg *config.Config) (stream.Source, error) {
			switch cfg.SentryBox.StreamSource {
			case "kafka":
				topic := cfg.Kafka.TelemetryTopicName
				if topic == "" {
					topic = "tesla_V"
				}
				group := cfg.Kafka.ConsumerGroup
				if group == "" {
					group = "sentry-relay"
				}
				brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
				return kafka.NewConsumer(brokers, topic, group), nil
			case "mqtt":
				return mqtt.NewSubscriber(mqtt.Config{
					BrokerURL: cfg.MQTT.BrokerURL,
					Topic:     cfg.MQTT.Topic,
					ClientID:  cfg.MQTT.ClientID,
					Username:  cfg.MQTT.Username,
					Password:  cfg.MQTT.Password,
					QoS:       cfg.MQTT.QoS,
				})
			case "", "none":
				return nil, nil
			default:
				return nil, errors.Errorf("unknown stream source %q", cfg.SentryBox.StreamSource)
			}
		},
	}
}

func openPostgresWithRetry(ctx context.Context, connString string, wait time.Duration) (*pglinks.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pglinks.New(ctx, connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
}

type relayOpts struct {
	httpAddr    string
	adminAddr   string
	grpcAddr    string
	swaggerPath string

	onListen func(httpAddr, adminAddr, grpcAddr string)
}

func relayOptsFromConfig(cfg *config.Config) relayOpts {
	opts := relayOpts{
		httpAddr:    cfg.SentryBox.HTTPAddr,
		adminAddr:   cfg.SentryBox.AdminHTTPAddr,
		grpcAddr:    cfg.SentryBox.GRPCAddr,
		swaggerPath: cfg.SentryBox.SwaggerPath,
	}
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}
	if opts.adminAddr == "" {
		opts.adminAddr = ":8082"
	}
	if opts.grpcAddr == "" {
		opts.grpcAddr = ":50051"
	}
	if opts.swaggerPath == "" {
		opts.swaggerPath = "api/sentrybox.swagger.json"
	}
	return opts
}

func newRetryManager(cfg *config.Config) *retry.Manager {
	sb := cfg.SentryBox
	return retry.New().
		WithSettings(time.Duration(sb.RetryIntervalSeconds)*time.Second, sb.RetryMaxAttempts, sb.RetryConcurrency).
		WithPlanner(retry.PlannerConfig{
			Backoff1: time.Duration(sb.RetryBackoff1Seconds) * time.Second,
			Backoff2: time.Duration(sb.RetryBackoff2Seconds) * time.Second,
			Backoff3: time.Duration(sb.RetryBackoff3Seconds) * time.Second,
			Backoff4: time.Duration(sb.RetryBackoff4Seconds) * time.Second,
		})
}

// RunRelay wires the relay and blocks until ctx is done or a server fails.
func RunRelay(ctx context.Context, cfg *config.Config, opts relayOpts, f relayFactories) error {
	store, pingDB, closeDB, err := f.newLinkStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closeDB != nil {
		defer closeDB()
	}

	checks := []readinessCheck{}
	if pingDB != nil {
		checks = append(checks, readinessCheck{name: "postgres", check: pingDB})
	}

	var linkCache relay.LinkCache
	var cooldown relay.Cooldown
	if rc := f.newRedis(cfg); rc != nil {
		defer func() { _ = rc.Close() }()
		ttl := time.Duration(cfg.Redis.LinkCacheTTLSeconds) * time.Second
		linkCache = rediscache.NewLinkCache(rc, ttl)
		cooldown = rediscache.NewCooldown(rc, int64(cfg.SentryBox.CooldownLimit), time.Duration(cfg.SentryBox.CooldownWindowSeconds)*time.Second)
		checks = append(checks, readinessCheck{name: "redis", check: rc.Ping})
	}

	sender, err := f.newSender(cfg)
	if err != nil {
		return errors.Wrap(err, "telegram client")
	}

	registry := relay.NewRegistry(store, linkCache)
	retries := newRetryManager(cfg)
	formatter := alerts.NewFormatter(i18n.New(), cfg.SentryBox.DeepLinkBaseURL)

	coordinator := alerts.NewCoordinator(formatter, sender, registry, retries).
		WithSimulation(cfg.SentryBox.TestVINs, time.Duration(cfg.SentryBox.SimulatedDelayMs)*time.Millisecond)
	if pub, closePub := f.newPublisher(cfg); pub != nil {
		coordinator.WithPublisher(pub, cfg.Kafka.OutcomeTopicName)
		if closePub != nil {
			defer func() { _ = closePub() }()
		}
	}
	retries.WithDropHandler(coordinator.HandleRetryDropped)

	rl := relay.New(registry, coordinator, formatter)
	if cooldown != nil {
		rl.WithCooldown(cooldown)
	}

	src, err := f.newStreamSource(cfg)
	if err != nil {
		return err
	}

	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	adminLis, err := net.Listen("tcp", opts.adminAddr)
	if err != nil {
		_ = httpLis.Close()
		return err
	}
	grpcLis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		_ = httpLis.Close()
		_ = adminLis.Close()
		return err
	}
	if opts.onListen != nil {
		opts.onListen(httpLis.Addr().String(), adminLis.Addr().String(), grpcLis.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)

	retries.Start(gctx)
	defer retries.Stop()

	hook := webhook.New(signature.New(cfg.SentryBox.WebhookSecret), rl)
	g.Go(func() error { return serve(gctx, httpLis, newPublicRouter(hook)) })
	g.Go(func() error {
		return serve(gctx, adminLis, newAdminRouter(adminHTTPOpts{
			swaggerPath: opts.swaggerPath,
			retries:     retries,
			checks:      checks,
			cfg:         cfg,
		}))
	})
	g.Go(func() error { return runGRPCHealthServer(gctx, grpcLis) })
	if src != nil {
		g.Go(func() error { return stream.New(src, rl).Run(gctx) })
	}

	slog.Info("sentry relay started",
		"http", httpLis.Addr().String(),
		"admin", adminLis.Addr().String(),
		"grpc", grpcLis.Addr().String(),
		"stream", cfg.SentryBox.StreamSource,
	)
	return g.Wait()
}
