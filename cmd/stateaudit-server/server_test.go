package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/platinummonkey/stateaudit/pkg/archive"
	"github.com/platinummonkey/stateaudit/pkg/audit"
	"github.com/platinummonkey/stateaudit/pkg/config"
	"github.com/platinummonkey/stateaudit/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileBackend(t *testing.T) *audit.FileAdapter {
	t.Helper()
	adapter, err := audit.NewFileAdapter(t.TempDir())
	require.NoError(t, err)
	return adapter
}

func TestAPIRouter(t *testing.T) {
	serverCfg := config.Default().Server
	serverCfg.UsernameHeader = "X-User"
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	router := newAPIRouter(serverCfg, newFileBackend(t), metrics, observability.NewDiscardLogger())

	body := `{"model":"app.Post","model_id":3,"action":"updated","old":{"title":"a"},"new":{"title":"b"}}`
	req := httptest.NewRequest(http.MethodPost, "/audit/states", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", "proxy-user")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "proxy-user", created["username"])
	assert.Empty(t, created["route"], "the service route is not recorded")

	id := created["id"].(string)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audit/states/"+id+"/snapshot?post=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"title":"b"}`, w.Body.String())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/audit/states", "201")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/audit/states/{id}/snapshot", "200")))
}

// contextRecorder keeps the request context seen by GetSnapshot
type contextRecorder struct {
	audit.Adapter
	seen audit.RequestContext
}

func (c *contextRecorder) GetSnapshot(ctx context.Context, id string, post bool) (audit.Snapshot, error) {
	c.seen, _ = audit.RequestContextFrom(ctx)
	return c.Adapter.GetSnapshot(ctx, id, post)
}

func TestAPIRouter_RouteTemplate(t *testing.T) {
	serverCfg := config.Default().Server
	serverCfg.UsernameHeader = "X-User"
	backend := &contextRecorder{Adapter: newFileBackend(t)}

	router := newAPIRouter(serverCfg, backend, nil, observability.NewDiscardLogger())

	req := httptest.NewRequest(http.MethodGet, "/audit/states/missing/snapshot", nil)
	req.Header.Set("X-User", "proxy-user")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/audit/states/{id}/snapshot", backend.seen.Route)
	assert.Equal(t, http.MethodGet, backend.seen.Method)
	assert.Equal(t, "proxy-user", backend.seen.Username)
}

func TestHealthRouter(t *testing.T) {
	registry := prometheus.NewRegistry()
	observability.NewMetrics(registry).ArchiveRunsTotal.WithLabelValues("success").Inc()

	health := observability.NewHealthChecker("test")
	router := newHealthRouter(health, registry)

	for _, path := range []string{"/healthz", "/readyz"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stateaudit_archive_runs_total")

	w = httptest.NewRecorder()
	newHealthRouter(health, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type recordingStore struct {
	keys chan string
}

func (s *recordingStore) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if _, err := io.Copy(io.Discard, in.Body); err != nil {
		return nil, err
	}
	s.keys <- aws.ToString(in.Key)
	return &s3.PutObjectOutput{}, nil
}

func (s *recordingStore) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (s *recordingStore) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}

func TestScheduleArchive(t *testing.T) {
	ctx := context.Background()
	yesterday := time.Now().AddDate(0, 0, -1)

	folder := newFileBackend(t).Folder()
	adapter, err := audit.NewFileAdapter(folder, audit.WithFileClock(func() time.Time { return yesterday }))
	require.NoError(t, err)
	_, err = adapter.Send(ctx, audit.NewRecord("app.Post", 1).ResolveDiff(nil, audit.Snapshot{"title": "a"}, false))
	require.NoError(t, err)

	store := &recordingStore{keys: make(chan string, 1)}
	archiver, err := archive.NewArchiver(adapter, store, archive.Config{Bucket: "b"})
	require.NoError(t, err)

	c := cron.New()
	assert.Error(t, scheduleArchive(c, "not a schedule", archiver, observability.NewDiscardLogger()))
	require.NoError(t, scheduleArchive(c, "30 2 * * *", archiver, observability.NewDiscardLogger()))

	entries := c.Entries()
	require.Len(t, entries, 1)
	entries[0].Job.Run()

	day := yesterday.Format("2006-01-02")
	select {
	case key := <-store.keys:
		assert.Equal(t, "audit/"+day+"_"+day+".ndjson", key)
	default:
		t.Fatal("archive job uploaded nothing")
	}
}
