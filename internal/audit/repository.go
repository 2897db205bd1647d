// Package audit records dispatch events in the dispatch_log table and
// queries them back.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/softbus/internal/bus"
)

// timeLayout sorts lexically, unlike RFC3339Nano which trims zeros.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// DispatchLog is one recorded dispatch event.
type DispatchLog struct {
	ID         string     `json:"id"`
	Stage      bus.Stage  `json:"stage"`
	MessageID  string     `json:"message_id,omitempty"`
	Target     string     `json:"target,omitempty"`
	Group      string     `json:"group,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Priority   string     `json:"priority,omitempty"`
	Mode       string     `json:"mode,omitempty"`
	Status     bus.Status `json:"status"`
	DurationUS int64      `json:"duration_us"`
	Content    string     `json:"content,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// FromEvent converts a dispatch event into a log entry.
func FromEvent(ev bus.Event) *DispatchLog {
	entry := &DispatchLog{
		Stage:      ev.Stage,
		MessageID:  ev.MessageID,
		Target:     ev.Target,
		Group:      ev.Group,
		Status:     ev.Status,
		DurationUS: ev.Duration.Microseconds(),
		Content:    ev.Content,
		Error:      ev.Error,
		CreatedAt:  ev.Time,
	}
	if ev.Kind.Valid() {
		entry.Kind = ev.Kind.String()
	}
	if ev.Priority.Valid() {
		entry.Priority = ev.Priority.String()
	}
	if ev.Stage != bus.StageProcessed {
		entry.Mode = ev.Mode.String()
	}
	return entry
}

// Filter controls which dispatch logs to return.
type Filter struct {
	Target string      // optional: exact target device
	Group  string      // optional: exact group
	Stage  bus.Stage   // optional: sent, processed, completed, group
	Status *bus.Status // optional: outcome
	Limit  int         // default 50, max 200
	Offset int         // pagination offset
}

// ListResult contains the paginated dispatch log results.
type ListResult struct {
	Logs   []DispatchLog `json:"logs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// Repository defines the interface for dispatch log operations.
type Repository interface {
	Create(ctx context.Context, log *DispatchLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores dispatch logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new dispatch log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a dispatch log entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, log *DispatchLog) error {
	if log.ID == "" {
		log.ID = "dsp-" + uuid.NewString()[:8]
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dispatch_log (id, stage, message_id, target, group_name, kind, priority, mode, status, duration_us, content, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, string(log.Stage),
		nullableString(log.MessageID), nullableString(log.Target), nullableString(log.Group),
		nullableString(log.Kind), nullableString(log.Priority), nullableString(log.Mode),
		int(log.Status), log.DurationUS,
		nullableString(log.Content), nullableString(log.Error),
		log.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting dispatch log: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns dispatch logs matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit // WHERE clause assembly from filter fields
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Target != "" {
		conditions = append(conditions, "target = ?")
		args = append(args, filter.Target)
	}
	if filter.Group != "" {
		conditions = append(conditions, "group_name = ?")
		args = append(args, filter.Group)
	}
	if filter.Stage != "" {
		conditions = append(conditions, "stage = ?")
		args = append(args, string(filter.Stage))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, int(*filter.Status))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM dispatch_log " + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting dispatch logs: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, stage, message_id, target, group_name, kind, priority, mode, status, duration_us, content, error, created_at
		 FROM dispatch_log %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dispatch logs: %w", err)
	}
	defer rows.Close()

	logs := []DispatchLog{}
	for rows.Next() {
		var (
			log                                  DispatchLog
			stage, createdAt                     string
			status                               int
			messageID, target, group, kind       sql.NullString
			priority, mode, content, errorString sql.NullString
		)
		if err := rows.Scan(&log.ID, &stage, &messageID, &target, &group, &kind, &priority,
			&mode, &status, &log.DurationUS, &content, &errorString, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning dispatch log: %w", err)
		}

		log.Stage = bus.Stage(stage)
		log.Status = bus.Status(status)
		log.MessageID = messageID.String
		log.Target = target.String
		log.Group = group.String
		log.Kind = kind.String
		log.Priority = priority.String
		log.Mode = mode.String
		log.Content = content.String
		log.Error = errorString.String

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			if t, err = time.Parse(time.RFC3339, createdAt); err != nil {
				return nil, fmt.Errorf("parsing dispatch log timestamp %q: %w", createdAt, err)
			}
		}
		log.CreatedAt = t

		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dispatch logs: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
