package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Adapter is the storage and query contract every audit backend implements
type Adapter interface {
	// Send persists the record and returns its persisted form
	Send(ctx context.Context, rec *Record) (*Record, error)

	// GetStates lists records, newest first unless opts.Sort is SortAsc
	GetStates(ctx context.Context, opts ListOptions) ([]*Record, error)

	// GetStateByID retrieves a single record by its backend identity
	GetStateByID(ctx context.Context, id string) (*Record, error)

	// GetStateByModel retrieves the records of a model, optionally narrowed to one instance
	GetStateByModel(ctx context.Context, model, modelID string) ([]*Record, error)

	// GetStateByTimestamp retrieves records written at or before from and,
	// when backTo is non-zero, at or after backTo
	GetStateByTimestamp(ctx context.Context, from, backTo time.Time) ([]*Record, error)

	// GetStateByDate is GetStateByTimestamp for calendar dates
	GetStateByDate(ctx context.Context, from, backTo string) ([]*Record, error)

	// GetSnapshot rebuilds the entity state right before (post=false) or
	// right after (post=true) the change recorded under id
	GetSnapshot(ctx context.Context, id string, post bool) (Snapshot, error)
}

// Clock returns the wall clock time used to stamp records
type Clock func() time.Time

// ErrInvalidParameter is returned when a query parameter cannot be parsed
var ErrInvalidParameter = errors.New("invalid parameter")

// dateLayouts are tried in order when parsing date bounds
var dateLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04:05",
	time.RFC3339,
}

const dateOnlyLayout = "2006-01-02"

// ParseDateBounds parses the bounds of a date range query. A date without a
// time of day is widened so that from covers the whole day (23:59:59) and
// backTo starts at the beginning of its day (00:00:00). An empty backTo yields
// the zero time.
func ParseDateBounds(from, backTo string) (time.Time, time.Time, error) {
	if strings.TrimSpace(from) == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from date is required", ErrMissingParameter)
	}

	upper, err := parseDate(from, true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	var lower time.Time
	if strings.TrimSpace(backTo) != "" {
		lower, err = parseDate(backTo, false)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	return upper, lower, nil
}

// parseDate parses a single date bound in the local time zone
func parseDate(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)

	if t, err := time.ParseInLocation(dateOnlyLayout, s, time.Local); err == nil {
		if endOfDay {
			return t.Add(23*time.Hour + 59*time.Minute + 59*time.Second), nil
		}
		return t, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: unrecognized date %q", ErrInvalidParameter, s)
}

// inRange reports whether ts lies within [backTo, from]; a zero backTo leaves
// the range open at the bottom
func inRange(ts, from, backTo time.Time) bool {
	if ts.After(from) {
		return false
	}
	return backTo.IsZero() || !ts.Before(backTo)
}

// truncateSeconds drops sub-second precision so bounds compare the same way
// persisted timestamps do
func truncateSeconds(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

// snapshotOf returns the pre-change or post-change map of a record, or an
// empty snapshot when that side is empty
func snapshotOf(rec *Record, post bool) Snapshot {
	if rec == nil {
		return Snapshot{}
	}
	if post {
		if len(rec.modified) > 0 {
			return rec.modified.Clone()
		}
		return Snapshot{}
	}
	if len(rec.original) > 0 {
		return rec.original.Clone()
	}
	return Snapshot{}
}

type idGetter interface {
	GetStateByID(ctx context.Context, id string) (*Record, error)
}

// lookupSnapshot implements GetSnapshot on top of GetStateByID. An unknown id
// yields an empty snapshot.
func lookupSnapshot(ctx context.Context, a idGetter, id string, post bool) (Snapshot, error) {
	rec, err := a.GetStateByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Snapshot{}, nil
		}
		return nil, err
	}
	return snapshotOf(rec, post), nil
}

type timestampQuerier interface {
	GetStateByTimestamp(ctx context.Context, from, backTo time.Time) ([]*Record, error)
}

// lookupByDate implements GetStateByDate on top of GetStateByTimestamp
func lookupByDate(ctx context.Context, a timestampQuerier, from, backTo string) ([]*Record, error) {
	upper, lower, err := ParseDateBounds(from, backTo)
	if err != nil {
		return nil, err
	}
	return a.GetStateByTimestamp(ctx, upper, lower)
}

// paginate applies offset and limit when limit is positive
func paginate[T any](items []T, opts ListOptions) []T {
	if opts.Limit <= 0 {
		return items
	}
	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(items) {
		start = len(items)
	}
	end := len(items)
	// compare before adding so a huge limit cannot overflow
	if opts.Limit < end-start {
		end = start + opts.Limit
	}
	return items[start:end]
}
