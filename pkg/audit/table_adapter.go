package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// DefaultTableName is the table records are stored in when no name is given
const DefaultTableName = "audit_states"

// DBTX is the subset of *sql.DB and *sql.Tx the table adapter needs
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Dialect selects the SQL flavour the table adapter speaks
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// ParseDialect maps a driver name onto a dialect
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver: %s", driver)
}

func (d Dialect) placeholder(n int) string {
	if d == DialectSQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// tableColumns is the fixed column set after the surrogate id
var tableColumns = []string{
	"user_id", "username", "domain", "route", "method",
	"model", "model_id", "action",
	"old", "new", "state", "metadata",
	"timestamp",
}

// TableAdapter stores one row per record in a relational table
type TableAdapter struct {
	db      DBTX
	table   string
	dialect Dialect
	now     Clock
}

// TableOption configures a TableAdapter
type TableOption func(*TableAdapter)

// WithTableName sets the table name
func WithTableName(name string) TableOption {
	return func(a *TableAdapter) {
		if name != "" {
			a.table = name
		}
	}
}

// WithDialect sets the SQL dialect
func WithDialect(d Dialect) TableOption {
	return func(a *TableAdapter) {
		if d != "" {
			a.dialect = d
		}
	}
}

// WithTableClock overrides the clock used to stamp records
func WithTableClock(now Clock) TableOption {
	return func(a *TableAdapter) {
		if now != nil {
			a.now = now
		}
	}
}

// NewTableAdapter creates a table adapter and ensures its table exists
func NewTableAdapter(ctx context.Context, db DBTX, opts ...TableOption) (*TableAdapter, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	a := &TableAdapter{
		db:      db,
		table:   DefaultTableName,
		dialect: DialectPostgres,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure %s table: %w", a.table, err)
	}
	return a, nil
}

// Table returns the table name
func (a *TableAdapter) Table() string {
	return a.table
}

func (a *TableAdapter) quotedTable() string {
	return pq.QuoteIdentifier(a.table)
}

func quotedColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// EnsureSchema creates the table and its indexes if they do not exist
func (a *TableAdapter) EnsureSchema(ctx context.Context) error {
	idColumn := "id BIGSERIAL PRIMARY KEY"
	tsType := "TIMESTAMP"
	if a.dialect == DialectSQLite {
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
		tsType = "TEXT"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s,
		"user_id" BIGINT,
		"username" VARCHAR(255),
		"domain" VARCHAR(255),
		"route" VARCHAR(255),
		"method" VARCHAR(255),
		"model" VARCHAR(255) NOT NULL,
		"model_id" VARCHAR(255) NOT NULL,
		"action" VARCHAR(255) NOT NULL,
		"old" TEXT,
		"new" TEXT,
		"state" TEXT,
		"metadata" TEXT,
		"timestamp" %s NOT NULL
	)`, a.quotedTable(), idColumn, tsType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("model", "model_id")`,
			pq.QuoteIdentifier(a.table+"_model_idx"), a.quotedTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("timestamp")`,
			pq.QuoteIdentifier(a.table+"_timestamp_idx"), a.quotedTable()),
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// nullable stores empty optional strings as NULL
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Send inserts the record and returns it with the row id as ID
func (a *TableAdapter) Send(ctx context.Context, rec *Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	now := truncateSeconds(a.now())
	p := preparePayload(rec, now)

	var columns [4]string
	for i, m := range []map[string]interface{}{p.Old, p.New, p.State, p.Metadata} {
		text, err := encodeJSONText(m)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s column: %w", tableColumns[8+i], err)
		}
		columns[i] = text
	}

	var uid sql.NullInt64
	if rec.UserID != nil {
		uid = sql.NullInt64{Int64: *rec.UserID, Valid: true}
	}

	placeholders := make([]string, len(tableColumns))
	for i := range tableColumns {
		placeholders[i] = a.dialect.placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		a.quotedTable(), quotedColumns(tableColumns), strings.Join(placeholders, ", "))

	var id int64
	err := a.db.QueryRowContext(ctx, query,
		uid, nullable(p.Username), nullable(p.Domain), nullable(p.Route), nullable(p.Method),
		p.Model, p.ModelID.String(), string(p.Action),
		columns[0], columns[1], columns[2], columns[3],
		p.Timestamp,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit record: %w", err)
	}

	persisted := rec.clone()
	persisted.ID = strconv.FormatInt(id, 10)
	persisted.Timestamp = now
	return persisted, nil
}

func (a *TableAdapter) selectClause() string {
	return fmt.Sprintf("SELECT id, %s FROM %s", quotedColumns(tableColumns), a.quotedTable())
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		id                          int64
		uid                         sql.NullInt64
		username, domain, route     sql.NullString
		method                      sql.NullString
		model, modelID, action      string
		oldText, newText, stateText sql.NullString
		metadataText                sql.NullString
		timestamp                   interface{}
	)
	if err := row.Scan(&id, &uid, &username, &domain, &route, &method,
		&model, &modelID, &action,
		&oldText, &newText, &stateText, &metadataText,
		&timestamp); err != nil {
		return nil, err
	}

	p := payload{
		ID:       strconv.FormatInt(id, 10),
		Username: username.String,
		Domain:   domain.String,
		Route:    route.String,
		Method:   method.String,
		Model:    model,
		ModelID:  ModelID(modelID),
		Action:   Action(action),
	}
	if uid.Valid {
		v := userID(uid.Int64)
		p.UserID = &v
	}

	var err error
	if p.Old, err = decodeJSONText(oldText.String); err != nil {
		return nil, fmt.Errorf("record %d old: %w", id, err)
	}
	if p.New, err = decodeJSONText(newText.String); err != nil {
		return nil, fmt.Errorf("record %d new: %w", id, err)
	}
	if p.State, err = decodeJSONText(stateText.String); err != nil {
		return nil, fmt.Errorf("record %d state: %w", id, err)
	}
	if p.Metadata, err = decodeJSONText(metadataText.String); err != nil {
		return nil, fmt.Errorf("record %d metadata: %w", id, err)
	}

	switch ts := timestamp.(type) {
	case time.Time:
		// TIMESTAMP columns hold the local wall clock without a zone
		p.Timestamp = ts.Format(TimestampLayout)
	case string:
		p.Timestamp = ts
	case []byte:
		p.Timestamp = string(ts)
	case nil:
	default:
		return nil, fmt.Errorf("%w: unsupported timestamp type %T", ErrDecodeFailure, timestamp)
	}

	return p.record()
}

func (a *TableAdapter) query(ctx context.Context, query string, args ...interface{}) ([]*Record, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

// GetStates lists records in write order
func (a *TableAdapter) GetStates(ctx context.Context, opts ListOptions) ([]*Record, error) {
	order := SortDesc
	if opts.Sort == SortAsc {
		order = SortAsc
	}
	query := a.selectClause() + " ORDER BY id " + string(order)

	var args []interface{}
	if opts.Limit > 0 {
		offset := opts.Offset
		if offset < 0 {
			offset = 0
		}
		query += fmt.Sprintf(" LIMIT %s OFFSET %s", a.dialect.placeholder(1), a.dialect.placeholder(2))
		args = append(args, opts.Limit, offset)
	}
	return a.query(ctx, query, args...)
}

// GetStateByID returns the row with the given id
func (a *TableAdapter) GetStateByID(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrMissingParameter)
	}
	rowID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	query := a.selectClause() + " WHERE id = " + a.dialect.placeholder(1)
	rec, err := scanRecord(a.db.QueryRowContext(ctx, query, rowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return rec, nil
}

// GetStateByModel returns the rows of a model, narrowed to one instance when modelID is set
func (a *TableAdapter) GetStateByModel(ctx context.Context, model, modelID string) ([]*Record, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrMissingParameter)
	}
	query := a.selectClause() + ` WHERE "model" = ` + a.dialect.placeholder(1)
	args := []interface{}{model}
	if modelID != "" {
		query += ` AND "model_id" = ` + a.dialect.placeholder(2)
		args = append(args, modelID)
	}
	return a.query(ctx, query+" ORDER BY id DESC", args...)
}

// GetStateByTimestamp returns the rows written within the bounds
func (a *TableAdapter) GetStateByTimestamp(ctx context.Context, from, backTo time.Time) ([]*Record, error) {
	if from.IsZero() {
		return nil, fmt.Errorf("%w: from timestamp is required", ErrMissingParameter)
	}
	query := a.selectClause() + ` WHERE "timestamp" <= ` + a.dialect.placeholder(1)
	args := []interface{}{from.In(time.Local).Format(TimestampLayout)}
	if !backTo.IsZero() {
		query += ` AND "timestamp" >= ` + a.dialect.placeholder(2)
		args = append(args, backTo.In(time.Local).Format(TimestampLayout))
	}
	return a.query(ctx, query+" ORDER BY id DESC", args...)
}

// GetStateByDate is GetStateByTimestamp with calendar date bounds
func (a *TableAdapter) GetStateByDate(ctx context.Context, from, backTo string) ([]*Record, error) {
	return lookupByDate(ctx, a, from, backTo)
}

// GetSnapshot returns the pre-change or post-change state stored in a row
func (a *TableAdapter) GetSnapshot(ctx context.Context, id string, post bool) (Snapshot, error) {
	return lookupSnapshot(ctx, a, id, post)
}
