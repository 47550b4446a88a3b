package audit

import (
	"fmt"
	"reflect"
)

// ResolveDiff classifies the difference between two snapshots of a model.
//
// An empty old snapshot with a non-empty new one is a creation and the whole
// new snapshot is reported as modified. The reverse is a deletion and the whole
// old snapshot is reported as original. Everything else is an update, and only
// the keys present in both snapshots whose values differ are reported. Keys that
// exist on one side only are not surfaced by an update.
func ResolveDiff(before, after Snapshot) (original, modified Snapshot, action Action) {
	switch {
	case len(before) == 0 && len(after) > 0:
		return Snapshot{}, after.Clone(), ActionCreated
	case len(after) == 0 && len(before) > 0:
		return before.Clone(), Snapshot{}, ActionDeleted
	}

	original = Snapshot{}
	modified = Snapshot{}
	for key, oldValue := range before {
		newValue, ok := after[key]
		if !ok {
			continue
		}
		if looseString(oldValue) != looseString(newValue) {
			original[key] = oldValue
			modified[key] = newValue
		}
	}

	return original, modified, ActionUpdated
}

// ResolveDiff computes the diff between two snapshots and stores it on the
// record. With state set, the full new snapshot is also kept as state data.
func (r *Record) ResolveDiff(before, after Snapshot, state bool) *Record {
	r.original, r.modified, r.action = ResolveDiff(before, after)
	if state {
		r.StateData = after.Clone()
	}
	return r
}

// SetDiff stores an already computed diff on the record. The inputs are taken
// as the original and modified maps as they are; only the action is derived.
func (r *Record) SetDiff(before, after Snapshot) *Record {
	switch {
	case len(before) == 0 && len(after) > 0:
		r.action = ActionCreated
	case len(after) == 0 && len(before) > 0:
		r.action = ActionDeleted
	default:
		r.action = ActionUpdated
	}
	r.original = before.Clone()
	r.modified = after.Clone()
	return r
}

// HasDiff reports whether an action has been resolved and the original and
// modified maps differ
func (r *Record) HasDiff() bool {
	if r.action == "" {
		return false
	}
	return !snapshotsEqual(r.original, r.modified)
}

// snapshotsEqual compares two snapshots structurally, treating nil and empty as equal
func snapshotsEqual(a, b Snapshot) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// looseString renders a value the way a string cast would, so "1", 1 and 1.0
// compare equal and nil compares equal to the empty string
func looseString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "1"
		}
		return ""
	default:
		return fmt.Sprint(val)
	}
}
