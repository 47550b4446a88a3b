package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ExportFormat is the serialization used when exporting records
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)

// ParseExportFormat parses a format name, defaulting to JSON
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExportFormatJSON:
		return ExportFormatJSON, nil
	case ExportFormatNDJSON:
		return ExportFormatNDJSON, nil
	case ExportFormatCSV:
		return ExportFormatCSV, nil
	}
	return "", fmt.Errorf("%w: unsupported export format %q", ErrInvalidParameter, s)
}

// ContentType returns the media type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Export serializes records in the given format
func Export(records []*Record, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON, "":
		return exportJSON(records)
	case ExportFormatNDJSON:
		return exportNDJSON(records)
	case ExportFormatCSV:
		return exportCSV(records)
	}
	return nil, fmt.Errorf("%w: unsupported export format %q", ErrInvalidParameter, format)
}

// exportJSON exports records as an indented JSON array
func exportJSON(records []*Record) ([]byte, error) {
	if records == nil {
		records = []*Record{}
	}
	return json.MarshalIndent(records, "", "  ")
}

// exportNDJSON exports records as newline-delimited JSON
func exportNDJSON(records []*Record) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
	}

	return buf.Bytes(), nil
}

var csvHeader = []string{
	"id",
	"timestamp",
	"model",
	"model_id",
	"action",
	"user_id",
	"username",
	"domain",
	"route",
	"method",
	"old",
	"new",
}

// exportCSV exports records as CSV with old and new as JSON text
func exportCSV(records []*Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		oldText, err := encodeJSONText(rec.original)
		if err != nil {
			return nil, fmt.Errorf("failed to encode old values of %s: %w", rec.ID, err)
		}
		newText, err := encodeJSONText(rec.modified)
		if err != nil {
			return nil, fmt.Errorf("failed to encode new values of %s: %w", rec.ID, err)
		}

		timestamp := ""
		if !rec.Timestamp.IsZero() {
			timestamp = rec.Timestamp.Format(TimestampLayout)
		}

		row := []string{
			rec.ID,
			timestamp,
			rec.Model,
			rec.ModelID.String(),
			string(rec.action),
			formatInt64Ptr(rec.UserID),
			rec.Username,
			rec.Domain,
			rec.Route,
			rec.Method,
			oldText,
			newText,
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// formatInt64Ptr formats an int64 pointer as string, returning empty string for nil
func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}
