// Package storage builds the configured audit backend.
//
// A Config names one of three backends: "file" writes one JSON file per
// record into a folder, "http" delegates to a remote audit service and
// "table" stores records in a postgres or sqlite table. Open turns a Config
// into a ready Backend:
//
//	backend, err := storage.Open(ctx, cfg, storage.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer backend.Close()
//
//	auditor := audit.NewAuditor(backend.Adapter)
//
// The adapter returned is layered. A file mirror makes it a MultiAdapter, the
// cache settings wrap it in a CachedAdapter and WithInstrumentation records
// metrics and spans around everything.
package storage
