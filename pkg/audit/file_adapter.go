package audit

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultFilePrefix is prepended to every audit file name
	DefaultFilePrefix = "audit-"

	fileExtension = ".log"
)

// FileAdapter stores one pretty-printed JSON document per record in a folder
type FileAdapter struct {
	folder string
	prefix string
	now    Clock
}

// FileOption configures a FileAdapter
type FileOption func(*FileAdapter)

// WithPrefix sets the file name prefix
func WithPrefix(prefix string) FileOption {
	return func(a *FileAdapter) {
		a.prefix = prefix
	}
}

// WithFileClock overrides the clock used to stamp records
func WithFileClock(now Clock) FileOption {
	return func(a *FileAdapter) {
		if now != nil {
			a.now = now
		}
	}
}

// NewFileAdapter creates a file adapter over an existing folder
func NewFileAdapter(folder string, opts ...FileOption) (*FileAdapter, error) {
	info, err := os.Stat(folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: folder %s does not exist", ErrSourceNotFound, folder)
		}
		return nil, fmt.Errorf("failed to stat audit folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a folder", ErrSourceNotFound, folder)
	}

	a := &FileAdapter{
		folder: folder,
		prefix: DefaultFilePrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Folder returns the folder records are stored in
func (a *FileAdapter) Folder() string {
	return a.folder
}

// Prefix returns the file name prefix
func (a *FileAdapter) Prefix() string {
	return a.prefix
}

// modelDigest is the md5 of "model-modelID" embedded in every file name
func modelDigest(model, modelID string) string {
	sum := md5.Sum([]byte(model + "-" + modelID))
	return hex.EncodeToString(sum[:])
}

// Send writes the record to a new file and returns it with the file name as ID
func (a *FileAdapter) Send(ctx context.Context, rec *Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := truncateSeconds(a.now())
	p := preparePayload(rec, now)
	p.ID = ""

	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit record: %w", err)
	}

	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")
	filename := a.prefix + modelDigest(rec.Model, rec.ModelID.String()) + "-" + suffix + "-" +
		strconv.FormatInt(now.Unix(), 10) + fileExtension

	if err := os.WriteFile(filepath.Join(a.folder, filename), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write audit file: %w", err)
	}

	persisted := rec.clone()
	persisted.ID = filename
	persisted.Timestamp = now
	return persisted, nil
}

// Decode reads and decodes a single audit file
func (a *FileAdapter) Decode(filename string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(a.folder, filepath.Base(filename)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: audit file %s does not exist", ErrSourceNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read audit file: %w", err)
	}

	rec, err := decodePayload(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	rec.ID = filepath.Base(filename)
	return rec, nil
}

type auditFile struct {
	name    string
	modTime time.Time
}

// listFiles returns the audit files whose name passes match, newest first
func (a *FileAdapter) listFiles(match func(name string) bool) ([]auditFile, error) {
	entries, err := os.ReadDir(a.folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: folder %s does not exist", ErrSourceNotFound, a.folder)
		}
		return nil, fmt.Errorf("failed to list audit folder: %w", err)
	}

	files := make([]auditFile, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, a.prefix) || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		if match != nil && !match(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between listing and stat
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat audit file: %w", err)
		}
		files = append(files, auditFile{name: name, modTime: info.ModTime()})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].name > files[j].name
		}
		return files[i].modTime.After(files[j].modTime)
	})
	return files, nil
}

func (a *FileAdapter) decodeAll(ctx context.Context, files []auditFile) ([]*Record, error) {
	records := make([]*Record, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := a.Decode(f.name)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetStates lists records ordered by file modification time
func (a *FileAdapter) GetStates(ctx context.Context, opts ListOptions) ([]*Record, error) {
	files, err := a.listFiles(nil)
	if err != nil {
		return nil, err
	}
	if opts.Sort == SortAsc {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	return a.decodeAll(ctx, paginate(files, opts))
}

// GetStateByID returns the newest record whose file name contains id
func (a *FileAdapter) GetStateByID(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrMissingParameter)
	}
	files, err := a.listFiles(func(name string) bool {
		return strings.Contains(name, id)
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a.Decode(files[0].name)
}

// GetStateByModel returns the records of one model instance. The model ID is required.
func (a *FileAdapter) GetStateByModel(ctx context.Context, model, modelID string) ([]*Record, error) {
	if model == "" || modelID == "" {
		return nil, fmt.Errorf("%w: the file adapter requires both model and model id", ErrMissingParameter)
	}
	digest := modelDigest(model, modelID)
	files, err := a.listFiles(func(name string) bool {
		return strings.Contains(name, digest)
	})
	if err != nil {
		return nil, err
	}
	return a.decodeAll(ctx, files)
}

// GetStateByTimestamp scans every file and keeps the records written within the bounds
func (a *FileAdapter) GetStateByTimestamp(ctx context.Context, from, backTo time.Time) ([]*Record, error) {
	if from.IsZero() {
		return nil, fmt.Errorf("%w: from timestamp is required", ErrMissingParameter)
	}
	files, err := a.listFiles(nil)
	if err != nil {
		return nil, err
	}
	all, err := a.decodeAll(ctx, files)
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(all))
	for _, rec := range all {
		if inRange(rec.Timestamp, from, backTo) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// GetStateByDate is GetStateByTimestamp with calendar date bounds
func (a *FileAdapter) GetStateByDate(ctx context.Context, from, backTo string) ([]*Record, error) {
	return lookupByDate(ctx, a, from, backTo)
}

// GetSnapshot returns the pre-change or post-change state recorded in a file
func (a *FileAdapter) GetSnapshot(ctx context.Context, id string, post bool) (Snapshot, error) {
	return lookupSnapshot(ctx, a, id, post)
}
