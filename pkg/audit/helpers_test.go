package audit

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// fixedClock returns a clock that advances one second per call
func fixedClock(start time.Time) Clock {
	current := start.Add(-time.Second)
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}

func updatedRecord(model string, modelID interface{}) *Record {
	return NewRecord(model, modelID).ResolveDiff(
		Snapshot{"title": "draft", "views": 1},
		Snapshot{"title": "final", "views": 1},
		false,
	)
}

// memoryAdapter keeps records in a slice and counts calls
type memoryAdapter struct {
	records []*Record
	sendErr error
	calls   map[string]int
}

func newMemoryAdapter() *memoryAdapter {
	return &memoryAdapter{calls: map[string]int{}}
}

func (m *memoryAdapter) Send(ctx context.Context, rec *Record) (*Record, error) {
	m.calls["send"]++
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	persisted := rec.clone()
	persisted.ID = strconv.Itoa(len(m.records) + 1)
	persisted.Timestamp = time.Date(2024, 3, 10, 9, 0, len(m.records), 0, time.Local)
	m.records = append(m.records, persisted)
	return persisted.clone(), nil
}

func (m *memoryAdapter) GetStates(ctx context.Context, opts ListOptions) ([]*Record, error) {
	m.calls["get_states"]++
	return append([]*Record(nil), m.records...), nil
}

func (m *memoryAdapter) GetStateByID(ctx context.Context, id string) (*Record, error) {
	m.calls["get_state_by_id"]++
	for _, r := range m.records {
		if r.ID == id {
			return r.clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (m *memoryAdapter) GetStateByModel(ctx context.Context, model, modelID string) ([]*Record, error) {
	m.calls["get_state_by_model"]++
	var out []*Record
	for _, r := range m.records {
		if r.Model == model && (modelID == "" || r.ModelID.String() == modelID) {
			out = append(out, r.clone())
		}
	}
	return out, nil
}

func (m *memoryAdapter) GetStateByTimestamp(ctx context.Context, from, backTo time.Time) ([]*Record, error) {
	m.calls["get_state_by_timestamp"]++
	var out []*Record
	for _, r := range m.records {
		if inRange(r.Timestamp, from, backTo) {
			out = append(out, r.clone())
		}
	}
	return out, nil
}

func (m *memoryAdapter) GetStateByDate(ctx context.Context, from, backTo string) ([]*Record, error) {
	return lookupByDate(ctx, m, from, backTo)
}

func (m *memoryAdapter) GetSnapshot(ctx context.Context, id string, post bool) (Snapshot, error) {
	return lookupSnapshot(ctx, m, id, post)
}
