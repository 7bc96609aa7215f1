// Command gotrustd runs the goTrust engine as a regional service: the session
// sweeper, the cross-region sync subscriber and an ops listener serving
// /healthz, /metrics and /sync, all under one supervisor tree.
//
// Usage:
//
//	gotrustd [-config path]               run the service
//	gotrustd [-config path] migrate up    apply Postgres migrations
//	gotrustd [-config path] migrate down  roll them back
//
// Configuration layers defaults, a YAML file (-config, GOTRUST_CONFIG or
// ./gotrust.yaml) and GOTRUST_ environment variables, where "__" separates
// nested keys.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	goTrust "github.com/MrEthical07/goTrust"
	"github.com/MrEthical07/goTrust/internal/logging"
	promexport "github.com/MrEthical07/goTrust/metrics/export/prometheus"
	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/store"
	"github.com/MrEthical07/goTrust/store/badgerstore"
	"github.com/MrEthical07/goTrust/store/postgres"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "gotrustd:", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("gotrustd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	rest := fs.Args()
	switch {
	case len(rest) == 0 || rest[0] == "serve":
		return serve(cfg)
	case rest[0] == "migrate":
		if len(rest) != 2 {
			return errors.New("usage: gotrustd migrate up|down")
		}
		if cfg.Store.Driver != "postgres" {
			return fmt.Errorf("migrate needs the postgres store driver, got %q", cfg.Store.Driver)
		}
		return postgres.Migrate(cfg.Store.PostgresDSN, rest[1])
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

type backend interface {
	store.Backend
	Close() error
}

func openBackend(cfg goTrust.StoreConfig) (backend, func(float64) error, error) {
	switch cfg.Driver {
	case "badger", "":
		opts := badgerstore.DefaultOptions(cfg.BadgerPath)
		opts.HistoryRetention = cfg.HistoryRetention
		st, err := badgerstore.Open(opts)
		if err != nil {
			return nil, nil, err
		}
		return st, st.RunGC, nil
	case "postgres":
		st, err := postgres.Open(postgres.Options{
			DSN:             cfg.PostgresDSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			QueryTimeout:    cfg.QueryTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newRedis(cfg goTrust.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
}

type regionBus struct {
	pub *regionsync.Publisher
	sub *regionsync.Subscriber
}

func (b *regionBus) Close() {
	if b != nil && b.pub != nil {
		b.pub.Close()
	}
}

func openBus(cfg goTrust.Config, logger zerolog.Logger) (*regionBus, error) {
	signer, err := regionsync.NewSigner(regionsync.SignerConfig{
		KeyID:      cfg.Sync.KeyID,
		Key:        cfg.Sync.SigningKey,
		VerifyKeys: cfg.Sync.VerifyKeys,
		MaxAge:     cfg.Sync.MaxAge,
	})
	if err != nil {
		return nil, err
	}

	natsCfg := cfg.Sync.NATS
	if natsCfg.QueueGroup == "" {
		natsCfg.QueueGroup = "gotrust-" + cfg.Region
	}
	wmPub, err := regionsync.NewNATSPublisher(natsCfg, logger)
	if err != nil {
		return nil, err
	}
	pub, err := regionsync.NewPublisher(regionsync.PublisherConfig{
		Region:      cfg.Region,
		TopicPrefix: cfg.Sync.TopicPrefix,
		QueueSize:   cfg.Sync.QueueSize,
		Breaker:     cfg.Sync.Breaker,
	}, wmPub, signer, logger)
	if err != nil {
		_ = wmPub.Close()
		return nil, err
	}

	wmSub, err := regionsync.NewNATSSubscriber(natsCfg, logger)
	if err != nil {
		pub.Close()
		return nil, err
	}
	sub, err := regionsync.NewSubscriber(regionsync.SubscriberConfig{
		Region:        cfg.Region,
		Peers:         cfg.Sync.Peers,
		TopicPrefix:   cfg.Sync.TopicPrefix,
		KindQueueSize: cfg.Sync.KindQueueSize,
	}, wmSub, signer, logger)
	if err != nil {
		pub.Close()
		_ = wmSub.Close()
		return nil, err
	}
	return &regionBus{pub: pub, sub: sub}, nil
}

func serve(cfg goTrust.Config) error {
	logger := logging.New(cfg.Logging).With().Str("region", cfg.Region).Logger()

	rdb := newRedis(cfg.Redis)
	defer func() { _ = rdb.Close() }()

	st, gc, err := openBackend(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()

	builder := goTrust.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(st).
		WithLogger(logger)

	var bus *regionBus
	if cfg.Sync.Enabled {
		bus, err = openBus(cfg, logger)
		if err != nil {
			return fmt.Errorf("open region bus: %w", err)
		}
		defer bus.Close()
		builder.WithPublisher(bus.pub)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	var metrics http.Handler
	if cfg.Metrics.Enabled {
		metrics, err = promexport.Handler(promexport.NewCollector(engine))
		if err != nil {
			return fmt.Errorf("metrics handler: %w", err)
		}
	}

	root := suture.New("gotrustd", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: logging.NewSlog(cfg.Logging)}).MustHook(),
		Timeout:   cfg.Ops.ShutdownTimeout,
	})

	var pub *regionsync.Publisher
	var sub *regionsync.Subscriber
	if bus != nil {
		pub, sub = bus.pub, bus.sub
		root.Add(&syncService{sub: sub, applier: engine})
	}
	if cfg.Sweep.Interval > 0 {
		root.Add(&sweeper{engine: engine, interval: cfg.Sweep.Interval, logger: logger})
	}
	if gc != nil && cfg.Store.GCInterval > 0 {
		root.Add(&gcRunner{gc: gc, interval: cfg.Store.GCInterval, logger: logger})
	}
	root.Add(&httpServer{
		server: &http.Server{
			Addr:              cfg.Ops.Addr,
			Handler:           opsRouter(cfg.Region, engine, metrics, pub, sub),
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdownTimeout: cfg.Ops.ShutdownTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("ops_addr", cfg.Ops.Addr).Str("store", cfg.Store.Driver).Bool("sync", cfg.Sync.Enabled).Msg("gotrustd starting")
	err = root.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if unstopped, rerr := root.UnstoppedServiceReport(); rerr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logger.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}
	logger.Info().Msg("gotrustd stopped")
	return nil
}
