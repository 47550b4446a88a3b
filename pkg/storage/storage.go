package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/platinummonkey/stateaudit/pkg/audit"
	"github.com/platinummonkey/stateaudit/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Backend is an opened audit backend
type Backend struct {
	Adapter audit.Adapter

	// DB is set for the table backend
	DB *sql.DB

	// Redis is set when the shared cache level is configured
	Redis *redis.Client

	closers []func() error
}

// Close releases the connections held by the backend
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddHealthChecks registers the backend's dependencies with h
func (b *Backend) AddHealthChecks(h *observability.HealthChecker) {
	if b.DB != nil {
		h.AddPinger("database", true, b.DB)
	}
	if b.Redis != nil {
		h.AddRedis(b.Redis)
	}
}

type options struct {
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	otel    *observability.OTelMetrics
	traced  bool
}

// Option configures Open
type Option func(*options)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithInstrumentation wraps the adapter in an audit.InstrumentedAdapter. Either
// metrics argument may be nil.
func WithInstrumentation(metrics *observability.Metrics, otelMetrics *observability.OTelMetrics) Option {
	return func(o *options) {
		o.metrics = metrics
		o.otel = otelMetrics
		o.traced = true
	}
}

// Open builds the configured backend
func Open(ctx context.Context, cfg Config, opts ...Option) (*Backend, error) {
	o := options{logger: observability.NewDiscardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Backend{}
	backend := strings.ToLower(cfg.Backend)
	log := o.logger.WithField("backend", backend)

	var (
		adapter audit.Adapter
		err     error
	)
	switch backend {
	case BackendFile:
		adapter, err = audit.NewFileAdapter(cfg.FileFolder, fileOptions(cfg)...)
	case BackendHTTP:
		adapter, err = openHTTP(cfg)
	case BackendTable:
		adapter, err = b.openTable(ctx, cfg)
	}
	if err != nil {
		b.Close()
		return nil, err
	}

	if cfg.MirrorFolder != "" {
		mirror, err := audit.NewFileAdapter(cfg.MirrorFolder, fileOptions(cfg)...)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open mirror: %w", err)
		}
		multi := audit.NewMultiAdapter(adapter, mirror)
		multi.SetConcurrent(cfg.MirrorConcurrent)
		adapter = multi
		log = log.WithField("mirror", cfg.MirrorFolder)
	}

	if cfg.CacheEnabled {
		cacheCfg := audit.CacheConfig{
			Size:   cfg.CacheSize,
			TTL:    cfg.CacheTTL,
			Logger: o.logger,
		}
		if cfg.RedisURL != "" {
			client, err := openRedis(ctx, cfg)
			if err != nil {
				b.Close()
				return nil, err
			}
			b.Redis = client
			b.closers = append(b.closers, client.Close)
			cacheCfg.Redis = client
		}
		adapter = audit.NewCachedAdapter(adapter, cacheCfg)
	}

	if o.traced {
		var instrumentOpts []audit.InstrumentOption
		if o.metrics != nil {
			instrumentOpts = append(instrumentOpts, audit.WithPrometheus(o.metrics))
		}
		if o.otel != nil {
			instrumentOpts = append(instrumentOpts, audit.WithOTelMetrics(o.otel))
		}
		adapter = audit.NewInstrumentedAdapter(adapter, backend, instrumentOpts...)
	}

	b.Adapter = adapter
	log.WithField("cache", cfg.CacheEnabled).Info("Audit backend opened")
	return b, nil
}

func fileOptions(cfg Config) []audit.FileOption {
	if cfg.FilePrefix == "" {
		return nil
	}
	return []audit.FileOption{audit.WithPrefix(cfg.FilePrefix)}
}

func openHTTP(cfg Config) (*audit.HTTPAdapter, error) {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return audit.NewHTTPAdapter(audit.HTTPConfig{
		SendURL:      cfg.HTTPSendURL,
		FetchURL:     cfg.HTTPFetchURL,
		FetchMethod:  cfg.HTTPFetchMethod,
		SendEncoding: audit.SendEncoding(strings.ToLower(cfg.HTTPSendEncoding)),
		Headers:      cfg.HTTPHeaders,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	})
}

func (b *Backend) openTable(ctx context.Context, cfg Config) (*audit.TableAdapter, error) {
	dialect, err := audit.ParseDialect(cfg.TableDriver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), cfg.TableDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	b.DB = db
	b.closers = append(b.closers, db.Close)

	if cfg.TableMaxConns > 0 {
		db.SetMaxOpenConns(cfg.TableMaxConns)
	}
	if cfg.TableMinConns > 0 {
		db.SetMaxIdleConns(cfg.TableMinConns)
	}
	db.SetConnMaxLifetime(cfg.TableMaxLifetime)

	timeout := cfg.TableTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	tableOpts := []audit.TableOption{audit.WithDialect(dialect)}
	if cfg.TableName != "" {
		tableOpts = append(tableOpts, audit.WithTableName(cfg.TableName))
	}
	return audit.NewTableAdapter(ctx, db, tableOpts...)
}

func openRedis(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB > 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries != 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
