package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Definition is the persisted form of a device: enough to rebuild its driver
// and register it again at startup. Queued messages are never persisted.
type Definition struct {
	Name      string            `json:"name"`
	Type      Type              `json:"type"`
	Driver    string            `json:"driver"`
	Options   map[string]string `json:"options,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// GroupDefinition is the persisted form of a group.
type GroupDefinition struct {
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists device and group definitions.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Store interface {
	// SaveDevice inserts a device definition.
	// Returns ErrDeviceExists if the name is already stored.
	SaveDevice(ctx context.Context, def Definition) error

	// DeleteDevice removes a device definition and its group memberships.
	// Returns ErrDeviceNotFound if the name is not stored.
	DeleteDevice(ctx context.Context, name string) error

	// ListDevices returns every stored device in creation order.
	ListDevices(ctx context.Context) ([]Definition, error)

	// SaveGroup inserts an empty group.
	// Returns ErrGroupExists if the name is already stored.
	SaveGroup(ctx context.Context, name string) error

	// DeleteGroup removes a group and its memberships.
	// Returns ErrGroupNotFound if the name is not stored.
	DeleteGroup(ctx context.Context, name string) error

	// AddMember appends a device to a group. Existing members are ignored.
	AddMember(ctx context.Context, group, device string) error

	// RemoveMember removes a device from a group.
	// Returns ErrNotMember if the device is not in the group.
	RemoveMember(ctx context.Context, group, device string) error

	// ListGroups returns every stored group with members in insertion order.
	ListGroups(ctx context.Context) ([]GroupDefinition, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
// The db parameter should be an open SQLite connection with foreign keys
// enabled and the softbus schema migrated.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// SaveDevice inserts a device definition.
func (s *SQLiteStore) SaveDevice(ctx context.Context, def Definition) error {
	options := def.Options
	if options == nil {
		options = map[string]string{}
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("marshalling device options: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO devices (name, type, driver, options) VALUES (?, ?, ?, ?)`,
		def.Name, string(def.Type), def.Driver, string(optionsJSON),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrDeviceExists, def.Name)
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// DeleteDevice removes a device definition. Memberships cascade.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return expectOneRow(result, fmt.Errorf("%w: %s", ErrDeviceNotFound, name))
}

// ListDevices returns every stored device in creation order.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type, driver, options, created_at FROM devices ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var (
			def        Definition
			typ        string
			optionsRaw string
			createdAt  string
		)
		if err := rows.Scan(&def.Name, &typ, &def.Driver, &optionsRaw, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		def.Type = Type(typ)
		if optionsRaw != "" {
			if err := json.Unmarshal([]byte(optionsRaw), &def.Options); err != nil {
				return nil, fmt.Errorf("unmarshalling options for %s: %w", def.Name, err)
			}
		}
		def.CreatedAt = parseTimestamp(createdAt)
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return defs, nil
}

// SaveGroup inserts an empty group.
func (s *SQLiteStore) SaveGroup(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO device_groups (name) VALUES (?)`, name)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrGroupExists, name)
		}
		return fmt.Errorf("inserting device group: %w", err)
	}
	return nil
}

// DeleteGroup removes a group. Memberships cascade.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM device_groups WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting device group: %w", err)
	}
	return expectOneRow(result, fmt.Errorf("%w: %s", ErrGroupNotFound, name))
}

// AddMember appends a device to a group at the next position.
func (s *SQLiteStore) AddMember(ctx context.Context, group, device string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := rowExists(ctx, tx, `SELECT 1 FROM device_groups WHERE name = ?`, group); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, group)
		}
		return fmt.Errorf("checking device group: %w", err)
	}
	if err := rowExists(ctx, tx, `SELECT 1 FROM devices WHERE name = ?`, device); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
		}
		return fmt.Errorf("checking device: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO device_group_members (group_name, device_name, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM device_group_members WHERE group_name = ?))`,
		group, device, group,
	)
	if err != nil {
		return fmt.Errorf("inserting group member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing group member: %w", err)
	}
	return nil
}

// RemoveMember removes a device from a group.
func (s *SQLiteStore) RemoveMember(ctx context.Context, group, device string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM device_group_members WHERE group_name = ? AND device_name = ?`,
		group, device,
	)
	if err != nil {
		return fmt.Errorf("deleting group member: %w", err)
	}
	return expectOneRow(result, fmt.Errorf("%w: %s in %s", ErrNotMember, device, group))
}

// ListGroups returns every stored group with its members.
func (s *SQLiteStore) ListGroups(ctx context.Context) ([]GroupDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, created_at FROM device_groups ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying device groups: %w", err)
	}

	var groups []GroupDefinition
	index := make(map[string]int)
	for rows.Next() {
		var name, createdAt string
		if err := rows.Scan(&name, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning device group: %w", err)
		}
		index[name] = len(groups)
		groups = append(groups, GroupDefinition{
			Name:      name,
			Members:   []string{},
			CreatedAt: parseTimestamp(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating device groups: %w", err)
	}
	rows.Close()

	memberRows, err := s.db.QueryContext(ctx,
		`SELECT group_name, device_name FROM device_group_members ORDER BY group_name, position`)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var group, device string
		if err := memberRows.Scan(&group, &device); err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		if i, ok := index[group]; ok {
			groups[i].Members = append(groups[i].Members, device)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group members: %w", err)
	}
	return groups, nil
}

func rowExists(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	var one int
	return tx.QueryRowContext(ctx, query, args...).Scan(&one)
}

func expectOneRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// parseTimestamp reads the schema's ISO 8601 UTC timestamps. Unparseable
// values yield the zero time.
func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
