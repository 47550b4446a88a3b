package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiAdapter_Sequential(t *testing.T) {
	primary := newMemoryAdapter()
	replica := newMemoryAdapter()
	multi := NewMultiAdapter(primary, replica)

	persisted, err := multi.Send(context.Background(), updatedRecord("app.Post", 1))
	require.NoError(t, err)
	assert.Equal(t, "1", persisted.ID)
	assert.Len(t, primary.records, 1)
	assert.Len(t, replica.records, 1)

	rec, err := multi.GetStateByID(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "1", rec.ID)
	assert.Zero(t, replica.calls["get_state_by_id"])
}

func TestMultiAdapter_ReplicaFailure(t *testing.T) {
	primary := newMemoryAdapter()
	broken := newMemoryAdapter()
	broken.sendErr = errors.New("timeout")
	healthy := newMemoryAdapter()
	multi := NewMultiAdapter(primary, broken, healthy)

	persisted, err := multi.Send(context.Background(), updatedRecord("app.Post", 1))
	assert.EqualError(t, err, "replica 0: timeout")
	require.NotNil(t, persisted)
	assert.Len(t, healthy.records, 1, "remaining replicas are still written")
}

func TestMultiAdapter_PrimaryFailure(t *testing.T) {
	primary := newMemoryAdapter()
	primary.sendErr = errors.New("primary down")
	replica := newMemoryAdapter()
	multi := NewMultiAdapter(primary, replica)

	_, err := multi.Send(context.Background(), updatedRecord("app.Post", 1))
	assert.EqualError(t, err, "primary down")
	assert.Empty(t, replica.records)
}

func TestMultiAdapter_Concurrent(t *testing.T) {
	primary := newMemoryAdapter()
	replica := newMemoryAdapter()
	multi := NewMultiAdapter(primary, replica)
	multi.SetConcurrent(true)

	persisted, err := multi.Send(context.Background(), updatedRecord("app.Post", 1))
	require.NoError(t, err)
	assert.Equal(t, "1", persisted.ID)
	assert.Len(t, replica.records, 1)

	replica.sendErr = errors.New("full")
	_, err = multi.Send(context.Background(), updatedRecord("app.Post", 1))
	assert.EqualError(t, err, "replica 0: full")
}

func TestMultiAdapter_Validates(t *testing.T) {
	primary := newMemoryAdapter()
	multi := NewMultiAdapter(primary)

	_, err := multi.Send(context.Background(), NewRecord("app.Post", 1))
	assert.ErrorIs(t, err, ErrNotResolved)
	assert.Zero(t, primary.calls["send"])
}
