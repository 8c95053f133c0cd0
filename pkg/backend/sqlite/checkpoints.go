package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/surrealdb/surrealmirror/pkg/models"
)

// Checkpoints is the checkpoint table of a namespace.
type Checkpoints struct {
	q     querier
	table string
}

func newCheckpoints(q querier, table string) *Checkpoints {
	return &Checkpoints{q: q, table: table}
}

// in returns a view of c that runs inside tx.
func (c *Checkpoints) in(tx *sql.Tx) *Checkpoints {
	return &Checkpoints{q: tx, table: c.table}
}

func (c *Checkpoints) Save(ctx context.Context, id string, ts models.Timestamp) error {
	_, err := c.q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %[1]q (id, t, i) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET t = excluded.t, i = excluded.i
		WHERE (excluded.t, excluded.i) >= (%[1]q.t, %[1]q.i)
	`, c.table), id, ts.T, ts.I)
	if err != nil {
		return fmt.Errorf("sqlite: save checkpoint %s: %w", id, err)
	}
	return nil
}

func (c *Checkpoints) Get(ctx context.Context, id string) (models.Timestamp, bool, error) {
	var ts models.Timestamp
	err := c.q.QueryRowContext(ctx, fmt.Sprintf(`SELECT t, i FROM %q WHERE id = ?`, c.table), id).Scan(&ts.T, &ts.I)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Timestamp{}, false, nil
	}
	if err != nil {
		return models.Timestamp{}, false, fmt.Errorf("sqlite: get checkpoint %s: %w", id, err)
	}
	return ts, true, nil
}

func (c *Checkpoints) Latest(ctx context.Context) (models.Timestamp, bool, error) {
	var ts models.Timestamp
	err := c.q.QueryRowContext(ctx, fmt.Sprintf(`SELECT t, i FROM %q ORDER BY t DESC, i DESC LIMIT 1`, c.table)).Scan(&ts.T, &ts.I)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Timestamp{}, false, nil
	}
	if err != nil {
		return models.Timestamp{}, false, fmt.Errorf("sqlite: latest checkpoint: %w", err)
	}
	return ts, true, nil
}

func (c *Checkpoints) Since(ctx context.Context, ts models.Timestamp) ([]string, error) {
	rows, err := c.q.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %q WHERE (t, i) > (?, ?) AND id <> ?`, c.table),
		ts.T, ts.I, models.NoopIdentity)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ids since %s: %w", ts, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
