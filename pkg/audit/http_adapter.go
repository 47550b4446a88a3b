package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPDoer is the request/response exchanger the HTTP adapter talks through
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SendEncoding selects how records are posted to the send endpoint
type SendEncoding string

const (
	EncodingForm SendEncoding = "form"
	EncodingJSON SendEncoding = "json"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// HTTPConfig configures an HTTPAdapter
type HTTPConfig struct {
	// SendURL receives new records
	SendURL string

	// FetchURL answers filtered queries
	FetchURL string

	// FetchMethod is GET (filters in the query string) or POST (filters in a form body)
	FetchMethod string

	SendEncoding SendEncoding
	Headers      map[string]string

	// Client defaults to an instrumented http.Client with a 30 second timeout
	Client HTTPDoer

	// Now stamps outgoing records, defaults to time.Now
	Now Clock
}

// HTTPAdapter delegates storage and queries to a remote audit service
type HTTPAdapter struct {
	cfg HTTPConfig
}

// NewHTTPAdapter creates an HTTP adapter
func NewHTTPAdapter(cfg HTTPConfig) (*HTTPAdapter, error) {
	if cfg.SendURL == "" && cfg.FetchURL == "" {
		return nil, fmt.Errorf("%w: at least one of the send or fetch URLs is required", ErrMissingParameter)
	}

	cfg.FetchMethod = strings.ToUpper(strings.TrimSpace(cfg.FetchMethod))
	switch cfg.FetchMethod {
	case "":
		cfg.FetchMethod = http.MethodGet
	case http.MethodGet, http.MethodPost:
	default:
		return nil, fmt.Errorf("unsupported fetch method: %s", cfg.FetchMethod)
	}

	switch cfg.SendEncoding {
	case "":
		cfg.SendEncoding = EncodingForm
	case EncodingForm, EncodingJSON:
	default:
		return nil, fmt.Errorf("unsupported send encoding: %s", cfg.SendEncoding)
	}

	if cfg.Client == nil {
		cfg.Client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &HTTPAdapter{cfg: cfg}, nil
}

// sendFields renders the record as the flat field set posted to the send endpoint
func sendFields(p payload) (map[string]string, error) {
	fields := map[string]string{
		"username":  p.Username,
		"domain":    p.Domain,
		"route":     p.Route,
		"method":    p.Method,
		"model":     p.Model,
		"model_id":  p.ModelID.String(),
		"action":    string(p.Action),
		"timestamp": p.Timestamp,
	}
	if p.UserID != nil {
		fields["user_id"] = strconv.FormatInt(int64(*p.UserID), 10)
	}

	columns := map[string]jsonMap{"old": p.Old, "new": p.New, "state": p.State, "metadata": p.Metadata}
	for name, m := range columns {
		text, err := encodeJSONText(m)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", name, err)
		}
		fields[name] = text
	}
	return fields, nil
}

// Send posts the record to the send endpoint. The id in the response becomes
// the identity of the persisted record.
func (a *HTTPAdapter) Send(ctx context.Context, rec *Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if a.cfg.SendURL == "" {
		return nil, fmt.Errorf("%w: send URL is not configured", ErrMissingParameter)
	}

	now := truncateSeconds(a.cfg.Now())
	fields, err := sendFields(preparePayload(rec, now))
	if err != nil {
		return nil, err
	}

	var body []byte
	contentType := contentTypeForm
	if a.cfg.SendEncoding == EncodingJSON {
		contentType = contentTypeJSON
		if body, err = json.Marshal(fields); err != nil {
			return nil, fmt.Errorf("failed to encode audit record: %w", err)
		}
	} else {
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, v)
		}
		body = []byte(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.SendURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	respType, respBody, err := a.roundTrip(req)
	if err != nil {
		return nil, err
	}
	var resp []*Record
	if !opaqueAck(respType, respBody) {
		if resp, err = decodeResponse(respType, respBody); err != nil {
			return nil, err
		}
	}

	persisted := rec.clone()
	persisted.Timestamp = now
	if len(resp) > 0 {
		remote := resp[0]
		persisted.ID = remote.ID
		if !remote.Timestamp.IsZero() {
			persisted.Timestamp = remote.Timestamp
		}
	}
	return persisted, nil
}

// fetch issues a filtered query against the fetch endpoint
func (a *HTTPAdapter) fetch(ctx context.Context, filters []string, opts ListOptions) ([]*Record, error) {
	if a.cfg.FetchURL == "" {
		return nil, fmt.Errorf("%w: fetch URL is not configured", ErrMissingParameter)
	}

	params := url.Values{}
	for _, f := range filters {
		params.Add("filter", f)
	}
	if opts.Sort != "" {
		params.Set("sort", string(opts.Sort))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var (
		req *http.Request
		err error
	)
	if a.cfg.FetchMethod == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.FetchURL, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", contentTypeForm)
		}
	} else {
		target, perr := url.Parse(a.cfg.FetchURL)
		if perr != nil {
			return nil, fmt.Errorf("invalid fetch URL: %w", perr)
		}
		query := target.Query()
		for k, vs := range params {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
		target.RawQuery = query.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create audit request: %w", err)
	}

	return a.do(req)
}

// do sends the request and decodes the response body into records
func (a *HTTPAdapter) do(req *http.Request) ([]*Record, error) {
	contentType, body, err := a.roundTrip(req)
	if err != nil {
		return nil, err
	}
	return decodeResponse(contentType, body)
}

// roundTrip sends the request and returns the content type and body of a
// successful response
func (a *HTTPAdapter) roundTrip(req *http.Request) (string, []byte, error) {
	req.Header.Set("Accept", contentTypeJSON)
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.cfg.Client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("audit request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read audit response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return "", nil, fmt.Errorf("%w: %s %s", ErrSourceNotFound, req.Method, req.URL.Redacted())
	}
	if resp.StatusCode >= 400 {
		return "", nil, fmt.Errorf("audit service error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return resp.Header.Get("Content-Type"), body, nil
}

// opaqueAck reports whether a send response is a plain acknowledgement
// carrying no record, such as a text/plain "OK"
func opaqueAck(contentType string, body []byte) bool {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == contentTypeJSON || mediaType == contentTypeForm {
		return false
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[')
}

// decodeResponse decodes a JSON or form-encoded body into records
func decodeResponse(contentType string, body []byte) ([]*Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []*Record{}, nil
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == contentTypeForm {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
		}
		return decodeFormRecord(values)
	}

	trimmed := bytes.TrimSpace(body)
	switch trimmed[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
		}
		return decodeRawRecords(raw)
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
		}
		if list, ok := envelope["records"]; ok {
			var raw []json.RawMessage
			if err := json.Unmarshal(list, &raw); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
			}
			return decodeRawRecords(raw)
		}
		rec, err := decodePayload(trimmed)
		if err != nil {
			return nil, err
		}
		return []*Record{rec}, nil
	}
	return nil, fmt.Errorf("%w: unexpected %s response", ErrDecodeFailure, contentType)
}

func decodeRawRecords(raw []json.RawMessage) ([]*Record, error) {
	records := make([]*Record, 0, len(raw))
	for _, r := range raw {
		rec, err := decodePayload(r)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// decodeFormRecord reads a single record from form fields
func decodeFormRecord(values url.Values) ([]*Record, error) {
	fields := make(map[string]string, len(values))
	for k := range values {
		if v := values.Get(k); v != "" {
			fields[k] = v
		}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	rec, err := decodePayload(data)
	if err != nil {
		return nil, err
	}
	return []*Record{rec}, nil
}

// filter renders a single "field op value" filter entry
func filter(field, op, value string) string {
	return field + " " + op + " " + value
}

// GetStates lists records through the fetch endpoint
func (a *HTTPAdapter) GetStates(ctx context.Context, opts ListOptions) ([]*Record, error) {
	if opts.Sort == "" {
		opts.Sort = SortDesc
	}
	return a.fetch(ctx, nil, opts)
}

// GetStateByID fetches the record with the given remote id
func (a *HTTPAdapter) GetStateByID(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrMissingParameter)
	}
	records, err := a.fetch(ctx, []string{filter("id", "=", id)}, ListOptions{})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return records[0], nil
}

// GetStateByModel fetches the records of a model, narrowed to one instance when modelID is set
func (a *HTTPAdapter) GetStateByModel(ctx context.Context, model, modelID string) ([]*Record, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrMissingParameter)
	}
	filters := []string{filter("model", "=", model)}
	if modelID != "" {
		filters = append(filters, filter("model_id", "=", modelID))
	}
	return a.fetch(ctx, filters, ListOptions{})
}

// GetStateByTimestamp fetches the records written within the bounds
func (a *HTTPAdapter) GetStateByTimestamp(ctx context.Context, from, backTo time.Time) ([]*Record, error) {
	if from.IsZero() {
		return nil, fmt.Errorf("%w: from timestamp is required", ErrMissingParameter)
	}
	filters := []string{filter("timestamp", "<=", from.In(time.Local).Format(TimestampLayout))}
	if !backTo.IsZero() {
		filters = append(filters, filter("timestamp", ">=", backTo.In(time.Local).Format(TimestampLayout)))
	}
	return a.fetch(ctx, filters, ListOptions{})
}

// GetStateByDate is GetStateByTimestamp with calendar date bounds
func (a *HTTPAdapter) GetStateByDate(ctx context.Context, from, backTo string) ([]*Record, error) {
	return lookupByDate(ctx, a, from, backTo)
}

// GetSnapshot fetches a record and returns its pre-change or post-change state
func (a *HTTPAdapter) GetSnapshot(ctx context.Context, id string, post bool) (Snapshot, error) {
	return lookupSnapshot(ctx, a, id, post)
}
