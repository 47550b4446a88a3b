package storage

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/stateaudit/pkg/audit"
	"github.com/platinummonkey/stateaudit/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func updated() *audit.Record {
	return audit.NewRecord("app.Post", 1).ResolveDiff(
		audit.Snapshot{"title": "draft"},
		audit.Snapshot{"title": "final"},
		false,
	)
}

func fileConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.FileFolder = t.TempDir()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default file backend", mutate: func(c *Config) {}},
		{name: "file without folder", mutate: func(c *Config) { c.FileFolder = "" }, wantErr: true},
		{name: "http with send url", mutate: func(c *Config) {
			c.Backend = BackendHTTP
			c.HTTPSendURL = "http://audit.local/states"
		}},
		{name: "http without urls", mutate: func(c *Config) { c.Backend = BackendHTTP }, wantErr: true},
		{name: "table without dsn", mutate: func(c *Config) { c.Backend = BackendTable }, wantErr: true},
		{name: "table with unknown driver", mutate: func(c *Config) {
			c.Backend = BackendTable
			c.TableDSN = "x"
			c.TableDriver = "oracle"
		}, wantErr: true},
		{name: "table upper case backend", mutate: func(c *Config) {
			c.Backend = "TABLE"
			c.TableDSN = "postgres://localhost/audit"
		}},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "s3" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpen_File(t *testing.T) {
	cfg := fileConfig(t)
	backend, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer backend.Close()

	assert.IsType(t, &audit.FileAdapter{}, backend.Adapter)
	assert.Nil(t, backend.DB)

	persisted, err := backend.Adapter.Send(context.Background(), updated())
	require.NoError(t, err)
	assert.NotEmpty(t, persisted.ID)
}

func TestOpen_MissingFolder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FileFolder = "/does/not/exist"
	_, err := Open(context.Background(), cfg)
	assert.ErrorIs(t, err, audit.ErrSourceNotFound)
}

func TestOpen_Mirror(t *testing.T) {
	cfg := fileConfig(t)
	cfg.MirrorFolder = t.TempDir()

	backend, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer backend.Close()

	assert.IsType(t, &audit.MultiAdapter{}, backend.Adapter)
	_, err = backend.Adapter.Send(context.Background(), updated())
	require.NoError(t, err)

	for _, folder := range []string{cfg.FileFolder, cfg.MirrorFolder} {
		entries, err := os.ReadDir(folder)
		require.NoError(t, err)
		assert.Len(t, entries, 1, folder)
	}
}

func TestOpen_HTTP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendHTTP
	cfg.HTTPSendURL = "http://audit.local/audit/states"
	cfg.HTTPFetchURL = "http://audit.local/audit/states/fetch"
	cfg.HTTPSendEncoding = "JSON"

	backend, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer backend.Close()
	assert.IsType(t, &audit.HTTPAdapter{}, backend.Adapter)

	cfg.HTTPFetchMethod = "PATCH"
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpen_SQLiteTable(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Backend = BackendTable
	cfg.TableDriver = "sqlite"
	cfg.TableDSN = ":memory:"
	cfg.TableMaxConns = 1
	cfg.TableName = "post_states"

	backend, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer backend.Close()

	require.NotNil(t, backend.DB)
	table, ok := backend.Adapter.(*audit.TableAdapter)
	require.True(t, ok)
	assert.Equal(t, "post_states", table.Table())

	persisted, err := backend.Adapter.Send(ctx, updated())
	require.NoError(t, err)

	got, err := backend.Adapter.GetStateByID(ctx, persisted.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.Snapshot{"title": "final"}, got.Modified())

	health := observability.NewHealthChecker("test")
	backend.AddHealthChecks(health)
	assert.Equal(t, observability.StatusHealthy, health.Check(ctx).Status)
}

func TestOpen_CacheWithRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := fileConfig(t)
	cfg.CacheEnabled = true
	cfg.RedisURL = "redis://" + mr.Addr()

	backend, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer backend.Close()

	assert.IsType(t, &audit.CachedAdapter{}, backend.Adapter)
	require.NotNil(t, backend.Redis)

	persisted, err := backend.Adapter.Send(ctx, updated())
	require.NoError(t, err)
	assert.True(t, mr.Exists("stateaudit:state:"+persisted.ID))

	health := observability.NewHealthChecker("test")
	backend.AddHealthChecks(health)
	status := health.Check(ctx)
	assert.Contains(t, status.Dependencies, "redis")
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := fileConfig(t)
	cfg.CacheEnabled = true
	cfg.RedisURL = "redis://" + addr
	cfg.RedisMaxRetries = -1

	_, err := Open(context.Background(), cfg)
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestOpen_Instrumented(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	backend, err := Open(context.Background(), fileConfig(t), WithInstrumentation(metrics, nil))
	require.NoError(t, err)
	defer backend.Close()

	assert.IsType(t, &audit.InstrumentedAdapter{}, backend.Adapter)
	_, err = backend.Adapter.Send(context.Background(), updated())
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RecordsSentTotal.WithLabelValues("file", "updated")))
}
