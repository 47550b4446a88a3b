package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/platinummonkey/stateaudit/pkg/archive"
	"github.com/platinummonkey/stateaudit/pkg/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExport(t *testing.T) {
	app := newTestApp(t)

	require.NoError(t, app.run(t, "export", "-format", "ndjson"))
	lines := strings.Split(strings.TrimSpace(app.out.String()), "\n")
	require.Len(t, lines, 3)
	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "1", first["id"], "exports run oldest first")

	require.NoError(t, app.run(t, "export", "-format", "csv", "-from", "2024-03-10"))
	rows := strings.Split(strings.TrimSpace(app.out.String()), "\n")
	assert.Len(t, rows, 4)
	assert.True(t, strings.HasPrefix(rows[0], "id,timestamp,model"))

	assert.ErrorIs(t, app.run(t, "export", "-format", "xml"), audit.ErrInvalidParameter)
}

func TestExport_File(t *testing.T) {
	app := newTestApp(t)
	path := filepath.Join(t.TempDir(), "states.json")

	require.NoError(t, app.run(t, "export", "-output", path))
	assert.Empty(t, app.out.String())
	assert.Contains(t, app.err.String(), "Exported 3 records to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, 3)
}

type memoryStore struct {
	keys   []string
	bodies [][]byte
}

func (m *memoryStore) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.keys = append(m.keys, aws.ToString(in.Key))
	m.bodies = append(m.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func (m *memoryStore) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (m *memoryStore) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}

func TestArchive(t *testing.T) {
	app := newTestApp(t)
	store := &memoryStore{}
	app.NewArchiver = func(ctx context.Context, source audit.Adapter) (*archive.Archiver, error) {
		return archive.NewArchiver(source, store, archive.Config{Bucket: "audit-archive"})
	}

	require.NoError(t, app.run(t, "archive", "-from", "2024-03-10"))
	assert.JSONEq(t, `{"key":"audit/2024-03-10_2024-03-10.ndjson","records":3,"bytes":`+
		jsonInt(len(store.bodies[0]))+`}`, app.out.String())
	assert.Equal(t, []string{"audit/2024-03-10_2024-03-10.ndjson"}, store.keys)
	assert.Equal(t, 3, bytes.Count(store.bodies[0], []byte("\n")))

	assert.ErrorIs(t, app.run(t, "archive"), audit.ErrMissingParameter)
}

func jsonInt(n int) string {
	data, _ := json.Marshal(n)
	return string(data)
}
