package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/platinummonkey/stateaudit/pkg/archive"
	"github.com/platinummonkey/stateaudit/pkg/audit"
	"github.com/platinummonkey/stateaudit/pkg/config"
	"github.com/platinummonkey/stateaudit/pkg/observability"
	"github.com/platinummonkey/stateaudit/pkg/storage"
	"github.com/sirupsen/logrus"
)

// App holds what the commands share
type App struct {
	Out io.Writer
	Err io.Writer

	// OpenBackend opens the audit backend
	OpenBackend func(ctx context.Context) (*storage.Backend, error)

	// NewArchiver builds the archiver over an opened adapter
	NewArchiver func(ctx context.Context, source audit.Adapter) (*archive.Archiver, error)
}

// DefaultApp reads the configuration from the environment and writes to the
// standard streams
func DefaultApp() *App {
	return &App{
		Out:         os.Stdout,
		Err:         os.Stderr,
		OpenBackend: openConfiguredBackend,
		NewArchiver: newConfiguredArchiver,
	}
}

func loadConfig() (*config.Config, logrus.FieldLogger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)
	return cfg, logger, nil
}

func openConfiguredBackend(ctx context.Context) (*storage.Backend, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, cfg.Storage, storage.WithLogger(logger))
}

func newConfiguredArchiver(ctx context.Context, source audit.Adapter) (*archive.Archiver, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	client, err := archive.NewS3Client(ctx, cfg.Archive.S3)
	if err != nil {
		return nil, err
	}
	return archive.NewArchiver(source, client, archive.Config{
		Bucket:   cfg.Archive.S3.Bucket,
		Prefix:   cfg.Archive.Prefix,
		Compress: cfg.Archive.Compress,
	}, archive.WithLogger(logger))
}

func (app *App) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(app.Err)
	return fs
}

// withBackend opens the backend for the duration of fn
func (app *App) withBackend(ctx context.Context, fn func(audit.Adapter) error) error {
	backend, err := app.OpenBackend(ctx)
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer backend.Close()
	return fn(backend.Adapter)
}

// printJSON writes v as indented JSON
func (app *App) printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(app.Out, string(data))
	return err
}

// printRecords writes records as a JSON array, never null
func (app *App) printRecords(records []*audit.Record) error {
	if records == nil {
		records = []*audit.Record{}
	}
	return app.printJSON(records)
}
