// Package store persists pool slots in a SQLite table. It is the durable
// source of truth for slot ownership; callers serialize writes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/firefly-engineering/browserpool/internal/instance"
)

// ErrNotFound is returned when no slot matches a lookup.
var ErrNotFound = errors.New("slot not found")

// timeLayout is fixed width so that stored timestamps compare correctly
// as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS instances (
	instance_id    TEXT PRIMARY KEY,
	port           INTEGER NOT NULL UNIQUE,
	status         TEXT NOT NULL DEFAULT 'idle',
	mode           TEXT,
	pid            INTEGER,
	tunnel_pid     INTEGER,
	agent_id       TEXT,
	allocated_at   TEXT,
	expires_at     TEXT,
	last_heartbeat TEXT
)`

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_instances_agent ON instances(agent_id)",
	"CREATE INDEX IF NOT EXISTS idx_instances_status_expires ON instances(status, expires_at)",
}

const columns = `instance_id, port, status, mode, pid, tunnel_pid, agent_id, allocated_at, expires_at, last_heartbeat`

// Store is the persistent instance table.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Path is the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the table and indexes if absent.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// EnsureSlots inserts an idle row for every port without one. Existing
// rows are left untouched. It returns the number of rows created.
func (s *Store) EnsureSlots(ctx context.Context, ports []int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	created := 0
	for _, p := range ports {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO instances (instance_id, port, status) VALUES (?, ?, ?)`,
			instance.ID(p), p, instance.StatusIdle)
		if err != nil {
			return 0, fmt.Errorf("failed to create slot %d: %w", p, err)
		}
		n, _ := res.RowsAffected()
		created += int(n)
	}
	return created, tx.Commit()
}

// RemoveOutside deletes rows whose port is outside [from, to], left
// behind by an earlier range configuration. It returns the removed ids.
func (s *Store) RemoveOutside(ctx context.Context, from, to int) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT instance_id FROM instances WHERE port < ? OR port > ? ORDER BY port`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale slots: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read stale slot: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stale slots: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE port < ? OR port > ?`, from, to); err != nil {
		return nil, fmt.Errorf("failed to remove stale slots: %w", err)
	}
	return ids, tx.Commit()
}

// Upsert writes the whole row for slot.
func (s *Store) Upsert(ctx context.Context, slot instance.Slot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			port = excluded.port,
			status = excluded.status,
			mode = excluded.mode,
			pid = excluded.pid,
			tunnel_pid = excluded.tunnel_pid,
			agent_id = excluded.agent_id,
			allocated_at = excluded.allocated_at,
			expires_at = excluded.expires_at,
			last_heartbeat = excluded.last_heartbeat`,
		slot.InstanceID,
		slot.Port,
		string(slot.Status),
		nullString(string(slot.Mode)),
		nullInt(slot.ProcessID),
		nullInt(slot.TunnelID),
		nullString(slot.AgentID),
		formatTime(slot.AllocatedAt),
		formatTime(slot.ExpiresAt),
		formatTime(slot.LastHeartbeat),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", slot.InstanceID, err)
	}
	return nil
}

// Get returns the slot with the given instance id.
func (s *Store) Get(ctx context.Context, instanceID string) (instance.Slot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM instances WHERE instance_id = ?`, instanceID)
	return scanSlot(row)
}

// List returns every slot ordered by port.
func (s *Store) List(ctx context.Context) ([]instance.Slot, error) {
	return s.query(ctx, `SELECT `+columns+` FROM instances ORDER BY port`)
}

// FindAgentAllocation returns the slot currently allocated to agentID.
func (s *Store) FindAgentAllocation(ctx context.Context, agentID string) (instance.Slot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM instances WHERE agent_id = ? AND status = ? ORDER BY port LIMIT 1`,
		agentID, instance.StatusAllocated)
	return scanSlot(row)
}

// FindIdle returns the idle slot with the lowest port.
func (s *Store) FindIdle(ctx context.Context) (instance.Slot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM instances WHERE status = ? ORDER BY port LIMIT 1`,
		instance.StatusIdle)
	return scanSlot(row)
}

// FindExpired returns allocated slots whose lease ended before now.
func (s *Store) FindExpired(ctx context.Context, now time.Time) ([]instance.Slot, error) {
	return s.query(ctx,
		`SELECT `+columns+` FROM instances WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ? ORDER BY port`,
		instance.StatusAllocated, now.UTC().Format(timeLayout))
}

// UpdateHeartbeat sets last_heartbeat on an allocated slot owned by
// agentID. It reports false when no such slot exists.
func (s *Store) UpdateHeartbeat(ctx context.Context, instanceID, agentID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET last_heartbeat = ? WHERE instance_id = ? AND agent_id = ? AND status = ?`,
		formatTime(now), instanceID, agentID, instance.StatusAllocated)
	if err != nil {
		return false, fmt.Errorf("failed to update heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountByStatus returns the number of slots in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[instance.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM instances GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[instance.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[instance.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]instance.Slot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []instance.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSlot(row scanner) (instance.Slot, error) {
	var (
		slot                              instance.Slot
		status                            string
		mode, agent                       sql.NullString
		pid, tunnel                       sql.NullInt64
		allocatedAt, expiresAt, heartbeat sql.NullString
	)
	err := row.Scan(&slot.InstanceID, &slot.Port, &status, &mode, &pid, &tunnel, &agent, &allocatedAt, &expiresAt, &heartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		return instance.Slot{}, ErrNotFound
	}
	if err != nil {
		return instance.Slot{}, fmt.Errorf("failed to read slot: %w", err)
	}

	slot.Status = instance.Status(status)
	if !slot.Status.Valid() {
		return instance.Slot{}, fmt.Errorf("slot %s has unknown status %q", slot.InstanceID, status)
	}
	slot.Mode = instance.Mode(mode.String)
	slot.ProcessID = int(pid.Int64)
	slot.TunnelID = int(tunnel.Int64)
	slot.AgentID = agent.String

	if slot.AllocatedAt, err = parseTime(allocatedAt); err != nil {
		return instance.Slot{}, err
	}
	if slot.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return instance.Slot{}, err
	}
	if slot.LastHeartbeat, err = parseTime(heartbeat); err != nil {
		return instance.Slot{}, err
	}
	return slot, nil
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s.String, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
