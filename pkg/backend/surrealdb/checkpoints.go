package surrealdb

import (
	"context"
	"fmt"

	surreal "github.com/surrealdb/surrealdb.go"
	sdbmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/surrealdb/surrealmirror/pkg/models"
)

// saveQuery only writes when the stored checkpoint is absent or not newer.
const saveQuery = `
	LET $cur = (SELECT t, i FROM $rid)[0];
	IF $cur = NONE OR $cur.t < $t OR ($cur.t = $t AND $cur.i <= $i) {
		UPSERT $rid CONTENT { t: $t, i: $i };
	};
`

type checkpointRow struct {
	T uint32 `json:"t"`
	I uint32 `json:"i"`
}

func (r checkpointRow) timestamp() models.Timestamp {
	return models.Timestamp{T: r.T, I: r.I}
}

type Checkpoints struct {
	db    *surreal.DB
	table string
}

func (c *Checkpoints) recordID(id string) *sdbmodels.RecordID {
	rid := sdbmodels.NewRecordID(c.table, id)
	return &rid
}

func (c *Checkpoints) Save(ctx context.Context, id string, ts models.Timestamp) error {
	_, err := surreal.Query[any](ctx, c.db, saveQuery, map[string]any{
		"rid": c.recordID(id),
		"t":   ts.T,
		"i":   ts.I,
	})
	if err != nil {
		return fmt.Errorf("surrealdb: save checkpoint %s: %w", id, err)
	}
	return nil
}

func (c *Checkpoints) Get(ctx context.Context, id string) (models.Timestamp, bool, error) {
	res, err := surreal.Query[[]checkpointRow](ctx, c.db, `SELECT t, i FROM $rid`, map[string]any{
		"rid": c.recordID(id),
	})
	if err != nil {
		return models.Timestamp{}, false, fmt.Errorf("surrealdb: get checkpoint %s: %w", id, err)
	}
	rows := first(res)
	if len(rows) == 0 {
		return models.Timestamp{}, false, nil
	}
	return rows[0].timestamp(), true, nil
}

func (c *Checkpoints) Latest(ctx context.Context) (models.Timestamp, bool, error) {
	res, err := surreal.Query[[]checkpointRow](ctx, c.db,
		`SELECT t, i FROM type::table($tb) ORDER BY t DESC, i DESC LIMIT 1`,
		map[string]any{"tb": c.table})
	if err != nil {
		return models.Timestamp{}, false, fmt.Errorf("surrealdb: latest checkpoint: %w", err)
	}
	rows := first(res)
	if len(rows) == 0 {
		return models.Timestamp{}, false, nil
	}
	return rows[0].timestamp(), true, nil
}

func (c *Checkpoints) Since(ctx context.Context, ts models.Timestamp) ([]string, error) {
	res, err := surreal.Query[[]any](ctx, c.db,
		`SELECT VALUE record::id(id) FROM type::table($tb) WHERE (t > $t OR (t = $t AND i > $i)) AND record::id(id) != $noop`,
		map[string]any{"tb": c.table, "t": ts.T, "i": ts.I, "noop": models.NoopIdentity})
	if err != nil {
		return nil, fmt.Errorf("surrealdb: ids since %s: %w", ts, err)
	}

	ids := make([]string, 0)
	for _, v := range first(res) {
		id, err := models.IdentityString(v)
		if err != nil {
			return nil, fmt.Errorf("surrealdb: ids since %s: %w", ts, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
