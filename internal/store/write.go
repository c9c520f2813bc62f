package store

import (
	"context"
	"fmt"

	"github.com/geoffreylitt/hypermerge/internal/ir"
	"github.com/geoffreylitt/hypermerge/internal/keys"
)

// CreateDoc registers a document. Registering an existing document is a
// no-op.
func (s *Store) CreateDoc(ctx context.Context, id ir.DocID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id) VALUES (?)
		ON CONFLICT(id) DO NOTHING
	`, string(id))
	if err != nil {
		return fmt.Errorf("create doc %s: %w", id, err)
	}
	return nil
}

// AppendChanges appends changes to the document's log in one transaction
// and returns how many were new. Changes already in the log (same hash)
// are skipped. The document is registered if it is not yet known, so a
// replica can persist remote history for a document it never created.
func (s *Store) AppendChanges(ctx context.Context, id ir.DocID, changes []ir.Change) (int, error) {
	if len(changes) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append changes: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id) VALUES (?)
		ON CONFLICT(id) DO NOTHING
	`, string(id)); err != nil {
		return 0, fmt.Errorf("append changes: register doc: %w", err)
	}

	inserted := 0
	for _, c := range changes {
		if c.Hash == "" {
			return 0, fmt.Errorf("append changes: change %s/%d has no hash", c.Actor, c.Seq)
		}
		body, err := marshalChange(c)
		if err != nil {
			return 0, fmt.Errorf("append changes: %w", err)
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO changes (doc_id, hash, actor, actor_seq, body)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(doc_id, hash) DO NOTHING
		`,
			string(id),
			string(c.Hash),
			string(c.Actor),
			c.Seq,
			body,
		)
		if err != nil {
			return 0, fmt.Errorf("append changes: insert %s: %w", c.Hash, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("append changes: rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append changes: commit: %w", err)
	}
	return inserted, nil
}

// SaveKeys records the local writer key pair for a document, replacing any
// earlier one.
func (s *Store) SaveKeys(ctx context.Context, id ir.DocID, kp keys.KeyPair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save keys: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id) VALUES (?)
		ON CONFLICT(id) DO NOTHING
	`, string(id)); err != nil {
		return fmt.Errorf("save keys: register doc: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO actors (doc_id, public_key, secret_key)
		VALUES (?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			public_key = excluded.public_key,
			secret_key = excluded.secret_key
	`, string(id), string(kp.PublicKey), string(kp.SecretKey)); err != nil {
		return fmt.Errorf("save keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save keys: commit: %w", err)
	}
	return nil
}
