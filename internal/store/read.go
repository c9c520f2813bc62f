package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/geoffreylitt/hypermerge/internal/ir"
	"github.com/geoffreylitt/hypermerge/internal/keys"
)

var (
	// ErrNotFound is returned when a document or key pair is not stored.
	ErrNotFound = errors.New("store: not found")

	// ErrCorrupt is returned when a stored change no longer matches its
	// hash.
	ErrCorrupt = errors.New("store: corrupt change")
)

// HasDoc reports whether the document is registered.
func (s *Store) HasDoc(ctx context.Context, id ir.DocID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents WHERE id = ?
	`, string(id)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has doc: %w", err)
	}
	return count > 0, nil
}

// ListDocs returns every registered document in registration order.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListDocs(ctx context.Context) ([]ir.DocID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM documents ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	defer rows.Close()

	docs := []ir.DocID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list docs: scan: %w", err)
		}
		docs = append(docs, ir.DocID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list docs: iterate: %w", err)
	}
	return docs, nil
}

// ReadChanges returns the document's changes in append order.
// Returns an empty slice (not nil) for an unknown or empty document.
func (s *Store) ReadChanges(ctx context.Context, id ir.DocID) ([]ir.Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, body FROM changes
		WHERE doc_id = ?
		ORDER BY seq ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	defer rows.Close()

	changes := []ir.Change{}
	for rows.Next() {
		var hash, body string
		if err := rows.Scan(&hash, &body); err != nil {
			return nil, fmt.Errorf("read changes: scan: %w", err)
		}
		c, err := unmarshalChange(ir.Hash(hash), body)
		if err != nil {
			return nil, fmt.Errorf("read changes: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read changes: iterate: %w", err)
	}
	return changes, nil
}

// CountChanges returns the length of the document's log.
func (s *Store) CountChanges(ctx context.Context, id ir.DocID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM changes WHERE doc_id = ?
	`, string(id)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count changes: %w", err)
	}
	return n, nil
}

// LoadKeys returns the local writer key pair for a document.
// Returns ErrNotFound if none was saved.
func (s *Store) LoadKeys(ctx context.Context, id ir.DocID) (keys.KeyPair, error) {
	var pub, sec string
	err := s.db.QueryRowContext(ctx, `
		SELECT public_key, secret_key FROM actors WHERE doc_id = ?
	`, string(id)).Scan(&pub, &sec)
	if errors.Is(err, sql.ErrNoRows) {
		return keys.KeyPair{}, fmt.Errorf("load keys %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return keys.KeyPair{}, fmt.Errorf("load keys %s: %w", id, err)
	}
	return keys.KeyPair{PublicKey: keys.PublicID(pub), SecretKey: keys.SecretID(sec)}, nil
}
