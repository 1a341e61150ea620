package callback

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateIdempotencyKey signals the callback was already processed.
var ErrDuplicateIdempotencyKey = errors.New("callback: duplicate idempotency key")

// Repository reserves idempotency keys for administrator callbacks.
type Repository struct{}

// NewRepository builds the idempotency repository.
func NewRepository() *Repository {
	return &Repository{}
}

// InsertIdempotencyKey attempts to reserve the key inside the active
// transaction. A unique violation means the callback is a replay.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("callback: empty idempotency key")
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("callback: insert idempotency key: %w", err)
	}

	return nil
}

// DeleteIdempotencyKey releases a reserved key after a failed commit so the
// administrator's retry can be processed.
func (r *Repository) DeleteIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM idempotency WHERE key = $1`, key); err != nil {
		return fmt.Errorf("callback: delete idempotency key: %w", err)
	}
	return nil
}
