package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/platinummonkey/stateaudit/pkg/audit"
	"github.com/platinummonkey/stateaudit/pkg/storage"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	*App
	out *bytes.Buffer
	err *bytes.Buffer
}

// newTestApp seeds an in-memory sqlite table with three records stamped
// 2024-03-10 09:00:00, 09:00:01 and 09:00:02
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	next := time.Date(2024, 3, 10, 9, 0, 0, 0, time.Local)
	clock := func() time.Time {
		now := next
		next = next.Add(time.Second)
		return now
	}

	adapter, err := audit.NewTableAdapter(ctx, db, audit.WithDialect(audit.DialectSQLite), audit.WithTableClock(clock))
	require.NoError(t, err)

	seed := []*audit.Record{
		audit.NewRecord("app.Post", 1).ResolveDiff(nil, audit.Snapshot{"title": "draft"}, false),
		audit.NewRecord("app.Post", 1).ResolveDiff(audit.Snapshot{"title": "draft"}, audit.Snapshot{"title": "final"}, false),
		audit.NewRecord("app.Comment", 2).ResolveDiff(nil, audit.Snapshot{"body": "hi"}, false),
	}
	for _, rec := range seed {
		_, err := adapter.Send(ctx, rec)
		require.NoError(t, err)
	}

	app := &testApp{out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	app.App = &App{
		Out: app.out,
		Err: app.err,
		OpenBackend: func(ctx context.Context) (*storage.Backend, error) {
			return &storage.Backend{Adapter: adapter, DB: db}, nil
		},
	}
	return app
}

func (a *testApp) run(t *testing.T, args ...string) error {
	t.Helper()
	a.out.Reset()
	return NewRootCommand(a.App).ExecuteArgs(context.Background(), args)
}

// outputIDs decodes a JSON array of records and returns their ids
func (a *testApp) outputIDs(t *testing.T) []string {
	t.Helper()
	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal(a.out.Bytes(), &records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec["id"].(string))
	}
	return ids
}
