package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/platinummonkey/stateaudit/pkg/audit"
	"github.com/platinummonkey/stateaudit/pkg/observability"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// Config configures an Archiver
type Config struct {
	Bucket string

	// Prefix is prepended to every object key (default: "audit")
	Prefix string

	// Compress gzips the uploaded objects
	Compress bool
}

// Result describes one archive run
type Result struct {
	Key     string
	Records int
	Bytes   int
}

// Archiver exports audit records in a date window and uploads them
type Archiver struct {
	source audit.Adapter
	store  ObjectStore
	cfg    Config

	logger  logrus.FieldLogger
	metrics *observability.Metrics
	otel    *observability.OTelMetrics
	now     audit.Clock
}

// Option configures an Archiver
type Option func(*Archiver)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(a *Archiver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics records archive runs into the given Prometheus metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Archiver) { a.metrics = m }
}

// WithOTelMetrics records uploaded bytes into the given instruments
func WithOTelMetrics(m *observability.OTelMetrics) Option {
	return func(a *Archiver) { a.otel = m }
}

// WithClock overrides time.Now for ArchivePreviousDay
func WithClock(now audit.Clock) Option {
	return func(a *Archiver) { a.now = now }
}

// NewArchiver creates an archiver reading from source and writing to store
func NewArchiver(source audit.Adapter, store ObjectStore, cfg Config, opts ...Option) (*Archiver, error) {
	if source == nil || store == nil {
		return nil, fmt.Errorf("%w: archive source and object store are required", audit.ErrMissingParameter)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: archive bucket is required", audit.ErrMissingParameter)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "audit"
	}

	a := &Archiver{
		source: source,
		store:  store,
		cfg:    cfg,
		logger: observability.NewDiscardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Key returns the object key for a window
func (a *Archiver) Key(from, backTo string) string {
	name := from + "_" + backTo + ".ndjson"
	if a.cfg.Compress {
		name += ".gz"
	}
	return path.Join(a.cfg.Prefix, name)
}

// Archive uploads the records between backTo and from, both dates in
// YYYY-MM-DD form with from being the later one. An empty window uploads
// nothing and returns a zero Result.
func (a *Archiver) Archive(ctx context.Context, from, backTo string) (result Result, err error) {
	defer func() { a.observe(result, err) }()

	log := a.logger.WithFields(logrus.Fields{"from": from, "back_to": backTo})

	records, err := a.source.GetStateByDate(ctx, from, backTo)
	if err != nil {
		return Result{}, fmt.Errorf("failed to query records: %w", err)
	}
	if len(records) == 0 {
		log.Debug("No audit records to archive")
		return Result{}, nil
	}

	body, err := a.encode(records)
	if err != nil {
		return Result{}, err
	}

	key := a.Key(from, backTo)
	contentType := audit.ExportFormatNDJSON.ContentType()
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"records": fmt.Sprint(len(records)),
		},
	}
	if a.cfg.Compress {
		input.ContentEncoding = aws.String("gzip")
	}

	if _, err := a.store.PutObject(ctx, input); err != nil {
		return Result{}, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	if a.otel != nil {
		a.otel.RecordArchiveUpload(ctx, int64(len(body)))
	}
	log.WithFields(logrus.Fields{"key": key, "records": len(records), "bytes": len(body)}).Info("Audit records archived")

	return Result{Key: key, Records: len(records), Bytes: len(body)}, nil
}

// ArchivePreviousDay archives the records of the day before today
func (a *Archiver) ArchivePreviousDay(ctx context.Context) (Result, error) {
	day := a.now().AddDate(0, 0, -1).Format(dateLayout)
	return a.Archive(ctx, day, day)
}

func (a *Archiver) encode(records []*audit.Record) ([]byte, error) {
	data, err := audit.Export(records, audit.ExportFormatNDJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to encode records: %w", err)
	}
	if !a.cfg.Compress {
		return data, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress records: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress records: %w", err)
	}
	return buf.Bytes(), nil
}

func (a *Archiver) observe(result Result, err error) {
	if a.metrics == nil {
		return
	}
	if err != nil {
		a.metrics.ArchiveRunsTotal.WithLabelValues("error").Inc()
		return
	}
	a.metrics.ArchiveRunsTotal.WithLabelValues("success").Inc()
	a.metrics.ArchivedRecordsTotal.Add(float64(result.Records))
	a.metrics.ArchiveLastSuccess.SetToCurrentTime()
}
