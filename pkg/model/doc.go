// Package model lets application types carry the auditor that records their
// changes.
//
// Embed Auditable in a model and attach an auditor once:
//
//	type Post struct {
//		model.Auditable
//		ID    int64
//		Title string
//	}
//
//	post.SetAuditor(audit.NewAuditor(adapter))
//	rec, err := model.AuditChange(ctx, &post, "app.Post", post.ID, before, after)
//
// A model without an auditor is simply not audited.
package model
