package model

import (
	"context"

	"github.com/platinummonkey/stateaudit/pkg/audit"
)

// AuditableModel is implemented by types that can carry an auditor
type AuditableModel interface {
	SetAuditor(a *audit.Auditor)
	Auditor() *audit.Auditor
	HasAuditor() bool
}

// Auditable is embedded in models to satisfy AuditableModel
type Auditable struct {
	auditor *audit.Auditor
}

// SetAuditor attaches the auditor. A nil auditor detaches it.
func (m *Auditable) SetAuditor(a *audit.Auditor) {
	m.auditor = a
}

func (m *Auditable) Auditor() *audit.Auditor {
	return m.auditor
}

func (m *Auditable) HasAuditor() bool {
	return m.auditor != nil
}

// IsAuditable reports whether v carries an auditor
func IsAuditable(v interface{}) bool {
	am, ok := v.(AuditableModel)
	return ok && am.HasAuditor()
}

// AuditChange records the change of a model instance from before to after with
// the model's auditor. The record under construction is reset first and the
// after state is captured as state data.
//
// It returns a nil record and a nil error when the model has no auditor or
// nothing changed.
func AuditChange(ctx context.Context, m AuditableModel, model string, modelID interface{}, before, after audit.Snapshot) (*audit.Record, error) {
	if m == nil || !m.HasAuditor() {
		return nil, nil
	}

	return m.Auditor().
		Reset().
		SetModel(model, modelID).
		SendDiff(ctx, before, after, true)
}
