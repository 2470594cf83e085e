package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/varpol/internal/ir"
)

// AppendPolicy journals a registered policy for sessionID.
//
// Implements engine.Journal.
func (s *Store) AppendPolicy(ctx context.Context, sessionID string, rec ir.PolicyRecord) error {
	entry, err := ir.MarshalPolicy(rec.Policy)
	if err != nil {
		return fmt.Errorf("append policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (session_id, seq, id, entry)
		VALUES (?, ?, ?, ?)
	`, sessionID, rec.Seq, rec.ID, entry)
	if err != nil {
		return fmt.Errorf("append policy: %w", err)
	}
	return nil
}

// SaveSession records st as the current session.
//
// Implements engine.Journal.
func (s *Store) SaveSession(ctx context.Context, st ir.SessionState) error {
	if err := saveSession(ctx, s.db, st); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ResetSession discards every journaled policy and records st as the
// current session, atomically.
//
// Implements engine.Journal.
func (s *Store) ResetSession(ctx context.Context, st ir.SessionState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset session: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM policies`); err != nil {
		return fmt.Errorf("reset session: clear policies: %w", err)
	}
	if err := saveSession(ctx, tx, st); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset session: commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveSession(ctx context.Context, db execer, st ir.SessionState) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO session (singleton, id, enabled, locked)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(singleton) DO UPDATE SET
			id = excluded.id,
			enabled = excluded.enabled,
			locked = excluded.locked
	`, st.ID, st.Enabled, st.Locked)
	return err
}

// LoadSession returns the journaled session, or ErrNotFound if none was
// ever saved.
func (s *Store) LoadSession(ctx context.Context) (ir.SessionState, error) {
	var st ir.SessionState
	err := s.db.QueryRowContext(ctx, `
		SELECT id, enabled, locked FROM session WHERE singleton = 1
	`).Scan(&st.ID, &st.Enabled, &st.Locked)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.SessionState{}, fmt.Errorf("load session: %w", ErrNotFound)
	}
	if err != nil {
		return ir.SessionState{}, fmt.Errorf("load session: %w", err)
	}
	return st, nil
}

// LoadPolicies returns the policies journaled for sessionID in
// registration order.
//
// Returns empty slice (not nil) if none exist.
func (s *Store) LoadPolicies(ctx context.Context, sessionID string) ([]ir.PolicyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, entry
		FROM policies
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	defer rows.Close()

	recs := []ir.PolicyRecord{}
	for rows.Next() {
		var (
			rec   ir.PolicyRecord
			entry []byte
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &entry); err != nil {
			return nil, fmt.Errorf("load policies: scan: %w", err)
		}
		p, err := unmarshalEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("load policies: seq %d: %w", rec.Seq, err)
		}
		rec.Policy = p
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return recs, nil
}
