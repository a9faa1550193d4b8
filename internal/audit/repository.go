// Package audit records commands sent to bridged devices and lists them
// back for the HTTP API.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command outcomes.
const (
	StatusAccepted = "accepted"
	StatusFailed   = "failed"
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// CommandLog is one audited command.
type CommandLog struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"device_id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Source     string         `json:"source"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	DeviceID string // optional
	Status   string // optional: accepted or failed
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is one page of audit entries.
type ListResult struct {
	Logs   []CommandLog `json:"logs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// Repository stores and lists command audit entries.
type Repository interface {
	Create(ctx context.Context, log *CommandLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository implements Repository on the command_audit table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a command audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, log *CommandLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	var params *string
	if len(log.Parameters) > 0 {
		b, err := json.Marshal(log.Parameters)
		if err != nil {
			return fmt.Errorf("marshalling command parameters: %w", err)
		}
		s := string(b)
		params = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (id, device_id, command, parameters, subject, source, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.DeviceID, log.Command, params,
		nullableString(log.Subject), log.Source, log.Status, nullableString(log.Error),
		log.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command audit: %w", err)
	}
	return nil
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM command_audit " + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command audit: %w", err)
	}

	query := "SELECT id, device_id, command, parameters, subject, source, status, error, created_at FROM command_audit " +
		where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command audit: %w", err)
	}
	defer rows.Close()

	logs := []CommandLog{}
	for rows.Next() {
		var log CommandLog
		var params, subject, errText sql.NullString
		var createdAt string

		if err := rows.Scan(&log.ID, &log.DeviceID, &log.Command, &params,
			&subject, &log.Source, &log.Status, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command audit: %w", err)
		}
		log.Subject = subject.String
		log.Error = errText.String
		if params.Valid && params.String != "" {
			if json.Unmarshal([]byte(params.String), &log.Parameters) != nil {
				log.Parameters = nil
			}
		}

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing command audit timestamp %q: %w", createdAt, err)
		}
		log.CreatedAt = t

		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command audit: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
