// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent/key-history persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys (needed for ON DELETE CASCADE on key history)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Racing rotation transactions wait on the write lock instead of
	// failing immediately with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL UNIQUE,
			display_name       TEXT,
			description        TEXT,
			type               TEXT NOT NULL DEFAULT 'native',
			avatar_url         TEXT,
			config_source      TEXT,
			config_path        TEXT,
			config_branch      TEXT NOT NULL DEFAULT 'main',
			api_key_hash       TEXT NOT NULL UNIQUE,
			api_key_expires_at TEXT,
			last_active_at     TEXT,
			karma              INTEGER NOT NULL DEFAULT 0,
			is_admin           INTEGER NOT NULL DEFAULT 0,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agents_config_source ON agents(config_source);

		CREATE TABLE IF NOT EXISTS api_key_history (
			id           TEXT PRIMARY KEY,
			agent_id     TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			api_key_hash TEXT NOT NULL UNIQUE,
			rotated_at   TEXT NOT NULL,
			expires_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_key_history_agent ON api_key_history(agent_id);
		CREATE INDEX IF NOT EXISTS idx_key_history_expires ON api_key_history(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateAgent inserts a new agent row.
// Returns ErrDuplicateName if the name is taken and ErrDuplicateCredential
// if the credential hash collides with an existing one.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	query := `
		INSERT INTO agents (
			id, name, display_name, description, type, avatar_url,
			config_source, config_path, config_branch,
			api_key_hash, api_key_expires_at,
			karma, is_admin, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Name,
		nullString(agent.DisplayName),
		nullString(agent.Description),
		agent.Type,
		nullString(agent.AvatarURL),
		nullString(agent.ConfigSource),
		nullString(agent.ConfigPath),
		agent.ConfigBranch,
		agent.APIKeyHash,
		nullTime(agent.APIKeyExpiresAt),
		agent.Karma,
		agent.IsAdmin,
		agent.CreatedAt.UTC().Format(time.RFC3339),
		agent.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			if strings.Contains(err.Error(), "agents.name") {
				return ErrDuplicateName
			}
			return ErrDuplicateCredential
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "id", agent.ID, "name", agent.Name, "type", agent.Type)
	return nil
}

const agentColumns = `
	id, name, display_name, description, type, avatar_url,
	config_source, config_path, config_branch,
	api_key_hash, api_key_expires_at,
	last_active_at, karma, is_admin, created_at, updated_at
`

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// GetAgentByName retrieves an agent by its unique name.
// Returns ErrNotFound if no agent has this name.
func (s *SQLiteStore) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE name = ?`, name)
	return scanAgent(row)
}

// GetAgentByKeyHash retrieves an agent by its current credential hash.
// This is the hot path for bearer verification and uses the unique index on
// api_key_hash, so lookup cost does not grow with rotation count.
// Returns ErrNotFound if no agent holds this hash.
func (s *SQLiteStore) GetAgentByKeyHash(ctx context.Context, hash string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE api_key_hash = ?`, hash)
	return scanAgent(row)
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanAgent.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var displayName, description, avatarURL sql.NullString
	var configSource, configPath sql.NullString
	var keyExpiresAt, lastActiveAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&a.ID, &a.Name, &displayName, &description, &a.Type, &avatarURL,
		&configSource, &configPath, &a.ConfigBranch,
		&a.APIKeyHash, &keyExpiresAt,
		&lastActiveAt, &a.Karma, &a.IsAdmin, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	a.DisplayName = displayName.String
	a.Description = description.String
	a.AvatarURL = avatarURL.String
	a.ConfigSource = configSource.String
	a.ConfigPath = configPath.String

	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if keyExpiresAt.Valid {
		t, err := time.Parse(time.RFC3339, keyExpiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing api_key_expires_at: %w", err)
		}
		a.APIKeyExpiresAt = &t
	}
	if lastActiveAt.Valid {
		t, err := time.Parse(time.RFC3339, lastActiveAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_active_at: %w", err)
		}
		a.LastActiveAt = &t
	}

	return &a, nil
}

// ListAgents returns agents ordered by name with pagination and an optional
// config_source filter.
func (s *SQLiteStore) ListAgents(ctx context.Context, filter ListFilter) ([]*Agent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + agentColumns + ` FROM agents`
	args := []any{}
	if filter.ConfigSource != "" {
		query += ` WHERE config_source = ?`
		args = append(args, filter.ConfigSource)
	}
	query += ` ORDER BY name LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// TouchLastActive updates the agent's last-active timestamp to now.
// Missing agents are ignored: this is a best-effort activity marker.
func (s *SQLiteStore) TouchLastActive(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_active_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("updating last_active_at: %w", err)
	}
	return nil
}

// AddKarma adjusts the agent's karma score by delta.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) AddKarma(ctx context.Context, id string, delta int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET karma = karma + ?, updated_at = ? WHERE id = ?`,
		delta, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating karma: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent removes an agent. Key-history rows are cascade-deleted by the
// foreign key constraint. Returns ErrNotFound if no row existed.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.logger.Info("deleted agent", "id", id)
	return nil
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime returns nil for nil times, otherwise the RFC3339 string
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
