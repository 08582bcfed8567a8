// ABOUTME: Credential rotation protocol and key-history ledger operations
// ABOUTME: Atomic rotate with optimistic-concurrency guard, history lookups, expiry sweep

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RotateCredential retires the agent's current credential into the history
// ledger and installs newHash, in one transaction.
//
// The conditional update on (id, api_key_hash) is the optimistic-concurrency
// guard: if expectedOldHash no longer matches the stored hash, another
// rotation won the race and ErrConcurrentModification is returned. Reads are
// never blocked; only racing rotations of the same agent serialize here.
func (s *SQLiteStore) RotateCredential(ctx context.Context, agentID, newHash, expectedOldHash string, graceExpiry time.Time, newKeyExpiry *time.Time) (*Agent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning rotation transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	result, err := tx.ExecContext(ctx,
		`UPDATE agents SET api_key_hash = ?, updated_at = ? WHERE id = ? AND api_key_hash = ?`,
		newHash, now.Format(time.RFC3339), agentID, expectedOldHash)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrDuplicateCredential
		}
		return nil, fmt.Errorf("updating credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing agent from a lost race
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM agents WHERE id = ?`, agentID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("checking agent existence: %w", err)
		}
		return nil, ErrConcurrentModification
	}

	// Retire the old hash with its grace-period expiry. The unique index on
	// api_key_hash keeps retired hashes from ever resolving to another agent.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO api_key_history (id, agent_id, api_key_hash, rotated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), agentID, expectedOldHash,
		now.Format(time.RFC3339), graceExpiry.UTC().Format(time.RFC3339))
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrDuplicateCredential
		}
		return nil, fmt.Errorf("inserting key history entry: %w", err)
	}

	if newKeyExpiry != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE agents SET api_key_expires_at = ? WHERE id = ?`,
			newKeyExpiry.UTC().Format(time.RFC3339), agentID)
		if err != nil {
			return nil, fmt.Errorf("updating key expiry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rotation: %w", err)
	}

	s.logger.Info("rotated credential",
		"agent_id", agentID,
		"grace_expiry", graceExpiry.UTC().Format(time.RFC3339))

	return s.GetAgent(ctx, agentID)
}

// GetHistoryEntryByHash looks up a retired credential hash that is still
// within its grace period at the given instant. Lookup is keyed by the
// unique hash index, not scanned per agent.
// Returns ErrNotFound when the hash is absent or already expired.
func (s *SQLiteStore) GetHistoryEntryByHash(ctx context.Context, hash string, now time.Time) (*KeyHistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, api_key_hash, rotated_at, expires_at
		FROM api_key_history
		WHERE api_key_hash = ? AND expires_at > ?
	`, hash, now.UTC().Format(time.RFC3339))
	return scanHistoryEntry(row)
}

// ListHistory returns all history entries for an agent, newest first,
// including expired ones that have not been swept yet.
func (s *SQLiteStore) ListHistory(ctx context.Context, agentID string) ([]*KeyHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, api_key_hash, rotated_at, expires_at
		FROM api_key_history
		WHERE agent_id = ?
		ORDER BY rotated_at DESC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying key history: %w", err)
	}
	defer rows.Close()

	var entries []*KeyHistoryEntry
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating key history rows: %w", err)
	}
	return entries, nil
}

func scanHistoryEntry(row rowScanner) (*KeyHistoryEntry, error) {
	var e KeyHistoryEntry
	var rotatedAt, expiresAt string

	err := row.Scan(&e.ID, &e.AgentID, &e.APIKeyHash, &rotatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning key history entry: %w", err)
	}

	if e.RotatedAt, err = time.Parse(time.RFC3339, rotatedAt); err != nil {
		return nil, fmt.Errorf("parsing rotated_at: %w", err)
	}
	if e.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	return &e, nil
}

// DeleteExpiredHistory removes history entries whose grace period has passed.
// Expired entries are semantically dead either way; this just reclaims rows.
func (s *SQLiteStore) DeleteExpiredHistory(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM api_key_history WHERE expires_at <= ?`,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired key history: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if count > 0 {
		s.logger.Debug("swept expired key history", "count", count)
	}
	return count, nil
}
