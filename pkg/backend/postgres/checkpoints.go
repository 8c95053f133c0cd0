package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/surrealdb/surrealmirror/pkg/models"
)

// CheckpointRow is a row of the checkpoint table.
type CheckpointRow struct {
	ID string `gorm:"primaryKey;type:text"`
	T  int64  `gorm:"not null"`
	I  int64  `gorm:"not null"`
}

func (r CheckpointRow) timestamp() models.Timestamp {
	return models.Timestamp{T: uint32(r.T), I: uint32(r.I)}
}

type Checkpoints struct {
	db    *gorm.DB
	table string
}

func (c *Checkpoints) in(tx *gorm.DB) *Checkpoints {
	return &Checkpoints{db: tx, table: c.table}
}

// Save upserts the checkpoint. The conflict branch only fires when the new
// timestamp is not older than the stored one.
func (c *Checkpoints) Save(ctx context.Context, id string, ts models.Timestamp) error {
	row := CheckpointRow{ID: id, T: int64(ts.T), I: int64(ts.I)}
	err := c.db.WithContext(ctx).Table(c.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"t", "i"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: fmt.Sprintf(`(excluded.t, excluded.i) >= (%[1]q.t, %[1]q.i)`, c.table)},
		}},
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("postgres: save checkpoint %s: %w", id, err)
	}
	return nil
}

func (c *Checkpoints) Get(ctx context.Context, id string) (models.Timestamp, bool, error) {
	var row CheckpointRow
	err := c.db.WithContext(ctx).Table(c.table).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Timestamp{}, false, nil
	}
	if err != nil {
		return models.Timestamp{}, false, fmt.Errorf("postgres: get checkpoint %s: %w", id, err)
	}
	return row.timestamp(), true, nil
}

func (c *Checkpoints) Latest(ctx context.Context) (models.Timestamp, bool, error) {
	var row CheckpointRow
	err := c.db.WithContext(ctx).Table(c.table).Order("t DESC, i DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Timestamp{}, false, nil
	}
	if err != nil {
		return models.Timestamp{}, false, fmt.Errorf("postgres: latest checkpoint: %w", err)
	}
	return row.timestamp(), true, nil
}

func (c *Checkpoints) Since(ctx context.Context, ts models.Timestamp) ([]string, error) {
	ids := make([]string, 0)
	err := c.db.WithContext(ctx).Table(c.table).
		Where("(t, i) > (?, ?) AND id <> ?", int64(ts.T), int64(ts.I), models.NoopIdentity).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: ids since %s: %w", ts, err)
	}
	return ids, nil
}
