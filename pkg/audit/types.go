package audit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Action represents the kind of state change an audit record describes
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Valid reports whether the action is one of the known actions
func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionDeleted:
		return true
	}
	return false
}

// TimestampLayout is the persisted timestamp format (YYYY-MM-DD HH:MM:SS)
const TimestampLayout = "2006-01-02 15:04:05"

// Snapshot is the full or partial field-value map of an entity at one point in time
type Snapshot map[string]interface{}

// Clone returns a shallow copy of the snapshot. A nil snapshot clones to an empty one.
func (s Snapshot) Clone() Snapshot {
	c := make(Snapshot, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// ModelID identifies a specific entity instance. It accepts integer or string
// identities and is always carried in its string form.
type ModelID string

// NewModelID converts an integer, string or stringer identity into a ModelID
func NewModelID(v interface{}) ModelID {
	switch id := v.(type) {
	case nil:
		return ""
	case ModelID:
		return id
	case string:
		return ModelID(id)
	case int:
		return ModelID(strconv.Itoa(id))
	case int64:
		return ModelID(strconv.FormatInt(id, 10))
	case int32:
		return ModelID(strconv.FormatInt(int64(id), 10))
	case uint:
		return ModelID(strconv.FormatUint(uint64(id), 10))
	case uint64:
		return ModelID(strconv.FormatUint(id, 10))
	case float64:
		return ModelID(strconv.FormatFloat(id, 'f', -1, 64))
	case fmt.Stringer:
		return ModelID(id.String())
	default:
		return ModelID(fmt.Sprint(id))
	}
}

// String returns the identity as a string
func (id ModelID) String() string {
	return string(id)
}

// UnmarshalJSON accepts a JSON string, a JSON number or null
func (id *ModelID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ModelID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("model_id must be a string or a number: %w", err)
	}
	*id = ModelID(n.String())
	return nil
}

// Record is a single audit entry: who changed which entity, from what to what,
// and under which request context.
//
// A Record is built incrementally in memory and handed to Adapter.Send. The
// persisted form returned by Send, and every record returned by a query, is a
// new value carrying ID and Timestamp.
type Record struct {
	// ID is the backend identity of a persisted record (filename, row id, remote id)
	ID string

	// Model information
	Model   string
	ModelID ModelID

	// Actor information
	UserID   *int64
	Username string

	// Request context
	Domain string
	Route  string
	Method string

	// Additional details
	Metadata  map[string]interface{}
	StateData Snapshot

	// Timestamp is assigned at persistence time
	Timestamp time.Time

	action   Action
	original Snapshot
	modified Snapshot
}

// NewRecord creates an unresolved record for the given model
func NewRecord(model string, modelID interface{}) *Record {
	return &Record{
		Model:    model,
		ModelID:  NewModelID(modelID),
		Metadata: make(map[string]interface{}),
		original: Snapshot{},
		modified: Snapshot{},
	}
}

// Action returns the resolved action, or the empty action if no diff was resolved
func (r *Record) Action() Action {
	return r.action
}

// Original returns the prior values of the changed fields
func (r *Record) Original() Snapshot {
	return r.original
}

// Modified returns the new values of the changed fields
func (r *Record) Modified() Snapshot {
	return r.modified
}

// SetMetadata replaces the metadata
func (r *Record) SetMetadata(metadata map[string]interface{}) *Record {
	r.Metadata = make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		r.Metadata[k] = v
	}
	return r
}

// AddMetadata adds a single metadata entry
func (r *Record) AddMetadata(name string, value interface{}) *Record {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata[name] = value
	return r
}

// SetStateData replaces the full final state of the entity
func (r *Record) SetStateData(state Snapshot) *Record {
	r.StateData = state.Clone()
	return r
}

// StateValue returns a single field of the state data
func (r *Record) StateValue(name string) interface{} {
	return r.StateData[name]
}

// HasStateData reports whether state data is present. With a non-empty name it
// reports whether that field is present.
func (r *Record) HasStateData(name string) bool {
	if name == "" {
		return len(r.StateData) > 0
	}
	_, ok := r.StateData[name]
	return ok
}

// Validate checks the preconditions of Adapter.Send
func (r *Record) Validate() error {
	if r == nil || r.action == "" {
		return ErrNotResolved
	}
	if r.Model == "" || r.ModelID == "" {
		return ErrModelNotSet
	}
	return nil
}

// clone returns a copy of the record with independent maps
func (r *Record) clone() *Record {
	c := *r
	c.original = r.original.Clone()
	c.modified = r.modified.Clone()
	c.Metadata = Snapshot(r.Metadata).Clone()
	if r.StateData != nil {
		c.StateData = r.StateData.Clone()
	}
	if r.UserID != nil {
		uid := *r.UserID
		c.UserID = &uid
	}
	return &c
}

// SortOrder is the ordering applied to listings
type SortOrder string

const (
	SortDesc SortOrder = "DESC"
	SortAsc  SortOrder = "ASC"
)

// ParseSortOrder parses a sort parameter; anything other than ASC sorts descending
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(s), string(SortAsc)) {
		return SortAsc
	}
	return SortDesc
}

// ListOptions configures Adapter.GetStates
type ListOptions struct {
	Sort SortOrder

	// Pagination applies only when Limit is greater than zero
	Limit  int
	Offset int
}
