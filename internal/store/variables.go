package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/varpol/internal/ir"
)

// Lookup returns the variable for key and whether it exists.
//
// Implements engine.VariableReader.
func (s *Store) Lookup(ctx context.Context, key ir.VariableKey) (ir.Variable, bool, error) {
	v, err := s.GetVariable(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return ir.Variable{}, false, nil
	}
	if err != nil {
		return ir.Variable{}, false, err
	}
	return v, true, nil
}

// GetVariable returns the variable for key, or ErrNotFound.
func (s *Store) GetVariable(ctx context.Context, key ir.VariableKey) (ir.Variable, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, name, attributes, data, timestamp, signer
		FROM variables
		WHERE namespace = ? AND name = ?
	`, key.Namespace[:], key.Name)

	v, err := scanVariable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Variable{}, fmt.Errorf("get variable %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return ir.Variable{}, fmt.Errorf("get variable %s: %w", key, err)
	}
	return v, nil
}

// PutVariable creates or replaces v. Data must be non-empty; deletion
// goes through DeleteVariable.
func (s *Store) PutVariable(ctx context.Context, v ir.Variable) error {
	if len(v.Data) == 0 {
		return fmt.Errorf("put variable %s: empty data", v.Key())
	}
	ts, err := marshalTimestamp(v.Timestamp)
	if err != nil {
		return fmt.Errorf("put variable %s: %w", v.Key(), err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO variables (namespace, name, attributes, data, timestamp, signer)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, name) DO UPDATE SET
			attributes = excluded.attributes,
			data = excluded.data,
			timestamp = excluded.timestamp,
			signer = excluded.signer
	`,
		v.Namespace[:],
		v.Name,
		int64(v.Attributes),
		v.Data,
		ts,
		v.Signer,
	)
	if err != nil {
		return fmt.Errorf("put variable %s: %w", v.Key(), err)
	}
	return nil
}

// DeleteVariable removes the variable for key. Returns ErrNotFound if it
// does not exist.
func (s *Store) DeleteVariable(ctx context.Context, key ir.VariableKey) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM variables WHERE namespace = ? AND name = ?
	`, key.Namespace[:], key.Name)
	if err != nil {
		return fmt.Errorf("delete variable %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete variable %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("delete variable %s: %w", key, ErrNotFound)
	}
	return nil
}

// ListVariables returns every variable, or only those in ns when ns is
// non-nil, ordered by namespace then name.
//
// Returns empty slice (not nil) if no variables exist.
func (s *Store) ListVariables(ctx context.Context, ns *ir.Namespace) ([]ir.Variable, error) {
	return s.FindVariables(ctx, Filter{Namespace: ns})
}

// FindVariables returns the variables matching f, ordered by namespace
// then name.
//
// Returns empty slice (not nil) if none match.
func (s *Store) FindVariables(ctx context.Context, f Filter) ([]ir.Variable, error) {
	where, args := f.where()
	query := `
		SELECT namespace, name, attributes, data, timestamp, signer
		FROM variables` + where + `
		ORDER BY namespace ASC, name COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer rows.Close()

	vars := []ir.Variable{}
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, fmt.Errorf("list variables: %w", err)
		}
		vars = append(vars, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variables: %w", err)
	}
	return vars, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVariable(row rowScanner) (ir.Variable, error) {
	var (
		nsBytes []byte
		tsBytes []byte
		attrs   int64
		v       ir.Variable
	)
	if err := row.Scan(&nsBytes, &v.Name, &attrs, &v.Data, &tsBytes, &v.Signer); err != nil {
		return ir.Variable{}, err
	}

	ns, err := unmarshalNamespace(nsBytes)
	if err != nil {
		return ir.Variable{}, err
	}
	ts, err := unmarshalTimestamp(tsBytes)
	if err != nil {
		return ir.Variable{}, err
	}
	v.Namespace = ns
	v.Timestamp = ts
	v.Attributes = ir.Attributes(attrs)
	return v, nil
}
