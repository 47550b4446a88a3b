package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/stateaudit/pkg/httputil"
	"github.com/sirupsen/logrus"
)

// maxSendBody bounds the size of a posted record
const maxSendBody = 4 << 20

// Handlers exposes an adapter as the remote audit service the HTTP adapter talks to
type Handlers struct {
	adapter Adapter
	logger  logrus.FieldLogger
}

// NewHandlers creates audit handlers over the given adapter
func NewHandlers(adapter Adapter, logger logrus.FieldLogger) *Handlers {
	if logger == nil {
		logger = discardLogger()
	}
	return &Handlers{
		adapter: adapter,
		logger:  logger,
	}
}

// RegisterRoutes registers the audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// fetch must be registered before the {id} routes
	router.HandleFunc("/audit/states", h.sendState).Methods(http.MethodPost)
	router.HandleFunc("/audit/states/fetch", h.fetchStates).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/audit/states/{id}", h.getState).Methods(http.MethodGet)
	router.HandleFunc("/audit/states/{id}/snapshot", h.getSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/audit/export", h.exportStates).Methods(http.MethodGet)
}

// statusOf maps an adapter error onto an HTTP status
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMissingParameter),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrNotResolved),
		errors.Is(err, ErrModelNotSet):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Audit request failed")
	}
	httputil.WriteError(w, status, err)
}

// sendState handles POST /audit/states
func (h *Handlers) sendState(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeSendBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	applyActor(r.Context(), rec)

	persisted, err := h.adapter.Send(r.Context(), rec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteCreated(w, persisted)
}

// decodeSendBody reads a posted record, form-encoded or JSON
func decodeSendBody(r *http.Request) (*Record, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var rec *Record
	if mediaType == contentTypeForm {
		values, perr := url.ParseQuery(string(body))
		if perr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, perr)
		}
		records, derr := decodeFormRecord(values)
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, derr)
		}
		rec = records[0]
	} else {
		if rec, err = decodePayload(body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
	}

	// identity and timestamp are assigned by the backing adapter
	rec.ID = ""
	rec.Timestamp = time.Time{}
	return rec, nil
}

// fetchQuery is a parsed set of filter entries
type fetchQuery struct {
	id      string
	model   string
	modelID string
	from    time.Time
	backTo  time.Time
	opts    ListOptions
}

// parseFilter splits a "field op value" entry
func parseFilter(entry string) (field, op, value string, err error) {
	parts := strings.SplitN(strings.TrimSpace(entry), " ", 3)
	if len(parts) != 3 || strings.TrimSpace(parts[2]) == "" {
		return "", "", "", fmt.Errorf("%w: malformed filter %q", ErrInvalidParameter, entry)
	}
	return parts[0], parts[1], strings.TrimSpace(parts[2]), nil
}

func parseFetchQuery(values url.Values) (fetchQuery, error) {
	q := fetchQuery{opts: ListOptions{Sort: ParseSortOrder(values.Get("sort"))}}

	for _, entry := range values["filter"] {
		field, op, value, err := parseFilter(entry)
		if err != nil {
			return q, err
		}

		switch {
		case field == "id" && op == "=":
			q.id = value
		case field == "model" && op == "=":
			q.model = value
		case field == "model_id" && op == "=":
			q.modelID = value
		case field == "timestamp" && (op == "<=" || op == "<"):
			if q.from, err = parseDate(value, true); err != nil {
				return q, err
			}
		case field == "timestamp" && (op == ">=" || op == ">"):
			if q.backTo, err = parseDate(value, false); err != nil {
				return q, err
			}
		default:
			return q, fmt.Errorf("%w: unsupported filter %q", ErrInvalidParameter, entry)
		}
	}

	var err error
	if q.opts.Limit, err = httputil.FormInt(values, "limit", 0); err != nil {
		return q, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if q.opts.Offset, err = httputil.FormInt(values, "offset", 0); err != nil {
		return q, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return q, nil
}

// matches applies the filters that were not used to select the adapter query.
// The id filter always selects the query, so it is not checked again.
func (q fetchQuery) matches(rec *Record) bool {
	if q.model != "" && rec.Model != q.model {
		return false
	}
	if q.modelID != "" && rec.ModelID.String() != q.modelID {
		return false
	}
	if !q.from.IsZero() && !inRange(rec.Timestamp, q.from, q.backTo) {
		return false
	}
	if q.from.IsZero() && !q.backTo.IsZero() && rec.Timestamp.Before(q.backTo) {
		return false
	}
	return true
}

// run dispatches the query to the most selective adapter lookup
func (q fetchQuery) run(ctx context.Context, adapter Adapter) ([]*Record, error) {
	var (
		records []*Record
		err     error
	)

	switch {
	case q.id != "":
		var rec *Record
		rec, err = adapter.GetStateByID(ctx, q.id)
		if errors.Is(err, ErrNotFound) {
			return []*Record{}, nil
		}
		if rec != nil {
			records = []*Record{rec}
		}
	case q.model != "":
		records, err = adapter.GetStateByModel(ctx, q.model, q.modelID)
	case !q.from.IsZero():
		records, err = adapter.GetStateByTimestamp(ctx, q.from, q.backTo)
	default:
		if q.modelID == "" && q.backTo.IsZero() {
			return adapter.GetStates(ctx, q.opts)
		}
		records, err = adapter.GetStates(ctx, ListOptions{Sort: SortDesc})
	}
	if err != nil {
		return nil, err
	}

	filtered := make([]*Record, 0, len(records))
	for _, rec := range records {
		if q.matches(rec) {
			filtered = append(filtered, rec)
		}
	}
	if q.opts.Sort == SortAsc {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}
	return paginate(filtered, q.opts), nil
}

// fetchStates handles GET|POST /audit/states/fetch
func (h *Handlers) fetchStates(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", ErrInvalidParameter, err))
		return
	}

	q, err := parseFetchQuery(r.Form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	records, err := q.run(r.Context(), h.adapter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if records == nil {
		records = []*Record{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// getState handles GET /audit/states/{id}
func (h *Handlers) getState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.adapter.GetStateByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, rec)
}

// getSnapshot handles GET /audit/states/{id}/snapshot
func (h *Handlers) getSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	post, err := httputil.FormBool(r.URL.Query(), "post", false)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", ErrInvalidParameter, err))
		return
	}

	snapshot, err := h.adapter.GetSnapshot(r.Context(), id, post)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, snapshot)
}

// exportStates handles GET /audit/export
func (h *Handlers) exportStates(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format, err := ParseExportFormat(query.Get("format"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var records []*Record
	if from := query.Get("from"); from != "" {
		records, err = h.adapter.GetStateByDate(r.Context(), from, query.Get("back_to"))
	} else {
		records, err = h.adapter.GetStates(r.Context(), ListOptions{Sort: ParseSortOrder(query.Get("sort"))})
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := Export(records, format)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename=audit-states."+string(format))
	w.Write(data)
}
