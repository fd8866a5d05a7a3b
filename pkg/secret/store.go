package secret

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists encrypted secret envelopes against the secrets table.
type Store struct {
	pool     *pgxpool.Pool
	envelope *Envelope
}

// NewStore wires a Store against pool, encrypting/decrypting through
// envelope transparently at the storage boundary.
func NewStore(pool *pgxpool.Pool, envelope *Envelope) *Store {
	return &Store{pool: pool, envelope: envelope}
}

// Put upserts (userID, name) -> value, encrypting value before it ever
// reaches the database.
func (s *Store) Put(ctx context.Context, userID, name, value string) error {
	sealed, err := s.envelope.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO secrets (id, user_id, name, envelope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (user_id, name) DO UPDATE SET envelope = $4, updated_at = now()
	`, uuid.NewString(), userID, name, []byte(sealed))
	if err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	return nil
}

// Get reads and decrypts (userID, name)'s value, or ("", false, nil) if
// no such secret exists.
func (s *Store) Get(ctx context.Context, userID, name string) (string, bool, error) {
	var sealed []byte
	err := s.pool.QueryRow(ctx,
		`SELECT envelope FROM secrets WHERE user_id = $1 AND name = $2`, userID, name,
	).Scan(&sealed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("load secret: %w", err)
	}

	plain, err := s.envelope.Decrypt(string(sealed))
	if err != nil {
		return "", false, fmt.Errorf("decrypt secret: %w", err)
	}
	return plain, true, nil
}

// Delete removes (userID, name)'s secret, if present.
func (s *Store) Delete(ctx context.Context, userID, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM secrets WHERE user_id = $1 AND name = $2`, userID, name)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}
