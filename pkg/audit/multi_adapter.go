package audit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// MultiAdapter writes every record to a primary adapter and a set of replicas.
// Reads are served by the primary.
type MultiAdapter struct {
	primary    Adapter
	replicas   []Adapter
	concurrent bool
}

// NewMultiAdapter creates a fan-out adapter
func NewMultiAdapter(primary Adapter, replicas ...Adapter) *MultiAdapter {
	return &MultiAdapter{
		primary:  primary,
		replicas: replicas,
	}
}

// SetConcurrent sets whether the adapters are written to concurrently
func (m *MultiAdapter) SetConcurrent(concurrent bool) {
	m.concurrent = concurrent
}

// Send writes the record to all adapters and returns the primary's persisted
// record. The first error wins.
func (m *MultiAdapter) Send(ctx context.Context, rec *Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if m.concurrent {
		return m.sendConcurrent(ctx, rec)
	}
	return m.sendSequential(ctx, rec)
}

func (m *MultiAdapter) sendSequential(ctx context.Context, rec *Record) (*Record, error) {
	persisted, err := m.primary.Send(ctx, rec)
	if err != nil {
		return nil, err
	}

	var firstErr error
	for i, replica := range m.replicas {
		if _, err := replica.Send(ctx, rec); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("replica %d: %w", i, err)
		}
		// keep writing to the remaining replicas
	}
	if firstErr != nil {
		return persisted, firstErr
	}
	return persisted, nil
}

func (m *MultiAdapter) sendConcurrent(ctx context.Context, rec *Record) (*Record, error) {
	var persisted *Record
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		persisted, err = m.primary.Send(gctx, rec)
		return err
	})
	for i, replica := range m.replicas {
		g.Go(func() error {
			if _, err := replica.Send(gctx, rec); err != nil {
				return fmt.Errorf("replica %d: %w", i, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return persisted, err
	}
	return persisted, nil
}

func (m *MultiAdapter) GetStates(ctx context.Context, opts ListOptions) ([]*Record, error) {
	return m.primary.GetStates(ctx, opts)
}

func (m *MultiAdapter) GetStateByID(ctx context.Context, id string) (*Record, error) {
	return m.primary.GetStateByID(ctx, id)
}

func (m *MultiAdapter) GetStateByModel(ctx context.Context, model, modelID string) ([]*Record, error) {
	return m.primary.GetStateByModel(ctx, model, modelID)
}

func (m *MultiAdapter) GetStateByTimestamp(ctx context.Context, from, backTo time.Time) ([]*Record, error) {
	return m.primary.GetStateByTimestamp(ctx, from, backTo)
}

func (m *MultiAdapter) GetStateByDate(ctx context.Context, from, backTo string) ([]*Record, error) {
	return m.primary.GetStateByDate(ctx, from, backTo)
}

func (m *MultiAdapter) GetSnapshot(ctx context.Context, id string, post bool) (Snapshot, error) {
	return m.primary.GetSnapshot(ctx, id, post)
}
