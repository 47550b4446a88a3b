package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/stateaudit/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Auditor builds audit records and hands them to an adapter.
//
// An Auditor holds the record under construction, so it builds one record at a
// time and is not safe for concurrent use. Every query is forwarded to the
// adapter unchanged.
type Auditor struct {
	adapter Adapter
	record  *Record
	logger  logrus.FieldLogger
}

// AuditorOption configures an Auditor
type AuditorOption func(*Auditor)

// WithLogger sets the logger used to report sent and skipped records
func WithLogger(logger logrus.FieldLogger) AuditorOption {
	return func(a *Auditor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func discardLogger() logrus.FieldLogger {
	return observability.NewDiscardLogger()
}

// NewAuditor creates an auditor over the given adapter
func NewAuditor(adapter Adapter, opts ...AuditorOption) *Auditor {
	a := &Auditor{
		adapter: adapter,
		record:  NewRecord("", nil),
		logger:  discardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Adapter returns the underlying adapter
func (a *Auditor) Adapter() Adapter {
	return a.adapter
}

// Record returns the record under construction
func (a *Auditor) Record() *Record {
	return a.record
}

// Reset discards the record under construction
func (a *Auditor) Reset() *Auditor {
	a.record = NewRecord("", nil)
	return a
}

// SetModel sets the model name and instance identity
func (a *Auditor) SetModel(model string, modelID interface{}) *Auditor {
	a.record.Model = model
	a.record.ModelID = NewModelID(modelID)
	return a
}

// SetUser sets the actor
func (a *Auditor) SetUser(username string, userID *int64) *Auditor {
	a.record.Username = username
	if userID != nil {
		uid := *userID
		a.record.UserID = &uid
	} else {
		a.record.UserID = nil
	}
	return a
}

// SetDomain sets the request context
func (a *Auditor) SetDomain(domain, route, method string) *Auditor {
	a.record.Domain = domain
	a.record.Route = route
	a.record.Method = method
	return a
}

func (a *Auditor) SetMetadata(metadata map[string]interface{}) *Auditor {
	a.record.SetMetadata(metadata)
	return a
}

func (a *Auditor) AddMetadata(name string, value interface{}) *Auditor {
	a.record.AddMetadata(name, value)
	return a
}

func (a *Auditor) SetStateData(state Snapshot) *Auditor {
	a.record.SetStateData(state)
	return a
}

// StateData returns a single state field, or the whole state when name is empty
func (a *Auditor) StateData(name string) interface{} {
	if name == "" {
		return a.record.StateData
	}
	return a.record.StateValue(name)
}

func (a *Auditor) HasStateData(name string) bool {
	return a.record.HasStateData(name)
}

// SetDiff stores a precomputed diff
func (a *Auditor) SetDiff(before, after Snapshot) *Auditor {
	a.record.SetDiff(before, after)
	return a
}

// ResolveDiff computes and stores the diff between two snapshots
func (a *Auditor) ResolveDiff(before, after Snapshot, state bool) *Auditor {
	a.record.ResolveDiff(before, after, state)
	return a
}

func (a *Auditor) HasDiff() bool {
	return a.record.HasDiff()
}

// Send persists the current record when it carries a diff. It returns a nil
// record and a nil error when there is nothing to persist.
func (a *Auditor) Send(ctx context.Context) (*Record, error) {
	log := a.logger.WithFields(logrus.Fields{
		"model":    a.record.Model,
		"model_id": a.record.ModelID.String(),
		"action":   string(a.record.Action()),
	})

	if !a.record.HasDiff() {
		log.Debug("No state difference, audit record skipped")
		return nil, nil
	}

	applyRequestContext(ctx, a.record)

	persisted, err := a.adapter.Send(ctx, a.record)
	if err != nil {
		log.WithError(err).Warn("Failed to send audit record")
		return nil, err
	}

	log.WithField("id", persisted.ID).Debug("Audit record sent")
	return persisted, nil
}

// SendDiff resolves the diff between two snapshots and persists it when
// anything changed. See Send for the nothing-to-persist result.
func (a *Auditor) SendDiff(ctx context.Context, before, after Snapshot, state bool) (*Record, error) {
	a.ResolveDiff(before, after, state)
	return a.Send(ctx)
}

func (a *Auditor) GetStates(ctx context.Context, opts ListOptions) ([]*Record, error) {
	return a.adapter.GetStates(ctx, opts)
}

func (a *Auditor) GetStateByID(ctx context.Context, id string) (*Record, error) {
	return a.adapter.GetStateByID(ctx, id)
}

func (a *Auditor) GetStateByModel(ctx context.Context, model, modelID string) ([]*Record, error) {
	return a.adapter.GetStateByModel(ctx, model, modelID)
}

func (a *Auditor) GetStateByTimestamp(ctx context.Context, from, backTo time.Time) ([]*Record, error) {
	return a.adapter.GetStateByTimestamp(ctx, from, backTo)
}

func (a *Auditor) GetStateByDate(ctx context.Context, from, backTo string) ([]*Record, error) {
	return a.adapter.GetStateByDate(ctx, from, backTo)
}

func (a *Auditor) GetSnapshot(ctx context.Context, id string, post bool) (Snapshot, error) {
	return a.adapter.GetSnapshot(ctx, id, post)
}
