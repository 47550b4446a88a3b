// Package audit records state-change audit entries for arbitrary domain models
// and retrieves them again by identity, by model or by time range.
//
// # Overview
//
// A Record describes one create, update or delete of a tracked entity: who
// performed it, which model and instance it touched, the original and modified
// field values, an optional full final state, request context and free-form
// metadata. Records are built in memory, classified by the diff resolver and
// persisted through an Adapter.
//
// # Actions
//
//	created: the old snapshot is empty, modified holds the full new snapshot
//	updated: original/modified hold only the keys whose value changed
//	deleted: the new snapshot is empty, original holds the full old snapshot
//
// # Backends
//
// Every backend implements the same Adapter contract:
//
//   - FileAdapter: one pretty-printed JSON file per record in a directory
//   - HTTPAdapter: a remote audit service reached over HTTP
//   - TableAdapter: one row per record in a relational table
//
// # Usage Example
//
// Record an update:
//
//	adapter, err := audit.NewFileAdapter("/var/lib/stateaudit")
//	if err != nil {
//		return err
//	}
//	auditor := audit.NewAuditor(adapter)
//	auditor.SetModel("app.User", 1001).SetUser("admin", &adminID)
//	rec, err := auditor.SendDiff(ctx,
//		audit.Snapshot{"username": "admin"},
//		audit.Snapshot{"username": "admin2"},
//		true,
//	)
//
// Rebuild the state of the entity right before that change:
//
//	before, err := auditor.GetSnapshot(ctx, rec.ID, false)
//
// # Related Packages
//
//   - pkg/storage: builds an Adapter from configuration
//   - pkg/model: embeddable auditable model helper
//   - pkg/archive: exports and uploads old records to object storage
package audit
