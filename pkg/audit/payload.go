package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// payload is the persisted field set of a record
type payload struct {
	ID        string  `json:"id,omitempty"`
	UserID    *userID `json:"user_id"`
	Username  string  `json:"username"`
	Domain    string  `json:"domain"`
	Route     string  `json:"route"`
	Method    string  `json:"method"`
	Model     string  `json:"model"`
	ModelID   ModelID `json:"model_id"`
	Action    Action  `json:"action"`
	Old       jsonMap `json:"old"`
	New       jsonMap `json:"new"`
	State     jsonMap `json:"state"`
	Metadata  jsonMap `json:"metadata"`
	Timestamp string  `json:"timestamp"`
}

// preparePayload builds the persisted field set of rec stamped with now
func preparePayload(rec *Record, now time.Time) payload {
	p := payload{
		ID:       rec.ID,
		Username: rec.Username,
		Domain:   rec.Domain,
		Route:    rec.Route,
		Method:   rec.Method,
		Model:    rec.Model,
		ModelID:  rec.ModelID,
		Action:   rec.action,
		Old:      jsonMap(rec.original.Clone()),
		New:      jsonMap(rec.modified.Clone()),
		State:    jsonMap(rec.StateData.Clone()),
		Metadata: jsonMap(Snapshot(rec.Metadata).Clone()),
	}
	if rec.UserID != nil {
		uid := userID(*rec.UserID)
		p.UserID = &uid
	}
	if !now.IsZero() {
		p.Timestamp = now.Format(TimestampLayout)
	}
	return p
}

// record decodes the payload back into a record
func (p payload) record() (*Record, error) {
	action := Action(strings.ToLower(string(p.Action)))
	if action != "" && !action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrDecodeFailure, p.Action)
	}

	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:        p.ID,
		Model:     p.Model,
		ModelID:   p.ModelID,
		Username:  p.Username,
		Domain:    p.Domain,
		Route:     p.Route,
		Method:    p.Method,
		Metadata:  map[string]interface{}(p.Metadata.snapshot()),
		StateData: p.State.snapshot(),
		Timestamp: ts,
		action:    action,
		original:  p.Old.snapshot(),
		modified:  p.New.snapshot(),
	}
	if p.UserID != nil {
		uid := int64(*p.UserID)
		rec.UserID = &uid
	}
	return rec, nil
}

// decodePayload parses a JSON document into a record
func decodePayload(data []byte) (*Record, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return p.record()
}

// parseTimestamp parses a persisted timestamp in the local time zone. An empty
// timestamp yields the zero time.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(TimestampLayout, s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(time.Local), nil
	}
	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", ErrDecodeFailure, s)
}

// MarshalJSON encodes the record in its persisted shape
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(preparePayload(r, r.Timestamp))
}

// UnmarshalJSON decodes a record from its persisted shape
func (r *Record) UnmarshalJSON(data []byte) error {
	rec, err := decodePayload(data)
	if err != nil {
		return err
	}
	*r = *rec
	return nil
}

// jsonMap is a JSON column: an object, a JSON string holding an object, null,
// or an empty list all decode into a map
type jsonMap map[string]interface{}

// UnmarshalJSON implements the lenient column decoding
func (m *jsonMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = jsonMap{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := decodeJSONText(s)
		if err != nil {
			return err
		}
		*m = decoded
		return nil
	}

	if data[0] == '[' {
		var list []interface{}
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		if len(list) > 0 {
			return fmt.Errorf("expected an object, got a list of %d elements", len(list))
		}
		*m = jsonMap{}
		return nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*m = jsonMap(obj)
	return nil
}

func (m jsonMap) snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot(m)
}

// encodeJSONText renders a map as the text stored in JSON columns
func encodeJSONText(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeJSONText parses the text stored in a JSON column
func decodeJSONText(s string) (jsonMap, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return jsonMap{}, nil
	}
	var m jsonMap
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return m, nil
}

// userID accepts a JSON number or a numeric string
type userID int64

// UnmarshalJSON implements the lenient user id decoding
func (u *userID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" {
		*u = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("user_id must be an integer: %w", err)
	}
	*u = userID(n)
	return nil
}
