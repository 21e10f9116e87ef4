package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads API consumers. Rights are stored as a jsonb document per
// consumer; this subsystem only reads them.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActiveConventionConsumers returns every consumer holding a convention
// right with at least one webhook subscription.
func (r *Repository) ListActiveConventionConsumers(ctx context.Context) ([]ApiConsumer, error) {
	const listSQL = `
SELECT id, name, key_hash, rights
FROM api_consumers
WHERE rights ? 'convention'
  AND jsonb_array_length(rights -> 'convention' -> 'subscriptions') > 0
`
	rows, err := r.pool.Query(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("consumer: list active: %w", err)
	}
	defer rows.Close()

	var out []ApiConsumer
	for rows.Next() {
		var (
			c      ApiConsumer
			rights []byte
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.KeyHash, &rights); err != nil {
			return nil, fmt.Errorf("consumer: scan: %w", err)
		}
		if err := json.Unmarshal(rights, &c.Rights); err != nil {
			return nil, fmt.Errorf("consumer: unmarshal rights for %s: %w", c.ID, err)
		}
		out = append(out, c)
	}

	return out, rows.Err()
}
