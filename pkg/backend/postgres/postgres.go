// Package postgres is a full-protocol backend storing documents as jsonb rows
// in PostgreSQL through GORM.
//
// The namespace names the document table; checkpoints live in a sibling
// table with the "_ts" suffix. Every mutation and its checkpoint are written
// in one transaction.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/surrealdb/surrealmirror/internal/codec"
	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/checkpoint"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

const Name = "postgres"

var Registration = backend.Registration{
	Name:        Name,
	Protocol:    models.ProtocolFull,
	Description: "PostgreSQL through GORM; url is a postgres:// DSN, namespace the table name",
	New: func(ctx context.Context, opts backend.Options) (backend.Adapter, error) {
		return Open(ctx, opts)
	},
}

// Document is a row of the document table.
type Document struct {
	ID           string     `gorm:"primaryKey;type:text"`
	Doc          JSONMap    `gorm:"type:jsonb;not null"`
	LastModified *time.Time `gorm:"type:timestamptz"`
}

// JSONMap stores a document as jsonb.
type JSONMap map[string]any

func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (j *JSONMap) Scan(value any) error {
	if value == nil {
		*j = make(map[string]any)
		return nil
	}
	data, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("postgres: cannot scan %T into a document", value)
		}
		data = []byte(s)
	}
	return codec.JSON().Unmarshal(data, (*map[string]any)(j))
}

type Adapter struct {
	db          *gorm.DB
	table       string
	checkpoints *Checkpoints
	log         logger.Logger
}

func Open(ctx context.Context, opts backend.Options) (*Adapter, error) {
	if err := backend.ValidateIdentifier(opts.Namespace); err != nil {
		return nil, err
	}
	if opts.URL == "" {
		return nil, errors.New("postgres: url is empty")
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	db, err := gorm.Open(postgres.Open(opts.URL), &gorm.Config{
		Logger:                 newGormLogger(log),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Adapter{
		db:          db,
		table:       opts.Namespace,
		checkpoints: &Checkpoints{db: db, table: backend.CheckpointName(opts.Namespace)},
		log:         log,
	}, nil
}

// Provision creates both tables and their indexes. It is safe to run
// repeatedly.
func (a *Adapter) Provision(ctx context.Context) error {
	db := a.db.WithContext(ctx)
	if err := db.Table(a.table).AutoMigrate(&Document{}); err != nil {
		return fmt.Errorf("postgres: migrate %s: %w", a.table, err)
	}
	if err := db.Table(a.checkpoints.table).AutoMigrate(&CheckpointRow{}); err != nil {
		return fmt.Errorf("postgres: migrate %s: %w", a.checkpoints.table, err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (last_modified)`, a.table+"_last_modified", a.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (t, i)`, a.checkpoints.table+"_time", a.checkpoints.table),
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("postgres: provision %s: %w", a.table, err)
		}
	}
	a.log.Info("provisioned postgres tables", "table", a.table, "checkpoints", a.checkpoints.table)
	return nil
}

func (a *Adapter) Protocol() models.ProtocolKind {
	return models.ProtocolFull
}

func (a *Adapter) InitialPoint(ctx context.Context) (time.Time, bool, error) {
	var newest sql.NullTime
	err := a.db.WithContext(ctx).Table(a.table).Select("MAX(last_modified)").Row().Scan(&newest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("postgres: initial point: %w", err)
	}
	if !newest.Valid {
		return time.Time{}, false, nil
	}
	return newest.Time.UTC(), true, nil
}

func (a *Adapter) LatestCheckpoint(ctx context.Context) (models.Timestamp, bool, error) {
	return a.checkpoints.Latest(ctx)
}

func (a *Adapter) ApplyUpsert(ctx context.Context, ev *models.ChangeEvent) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := a.write(tx, ev.ID, ev.Document()); err != nil {
			return err
		}
		return a.checkpoints.in(tx).Save(ctx, ev.ID, ev.Timestamp)
	})
}

func (a *Adapter) ApplyUpdate(ctx context.Context, ev *models.ChangeEvent) error {
	u, err := models.ParseUpdate(ev.Payload)
	if err != nil {
		return err
	}
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Document
		err := tx.Table(a.table).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", ev.ID).
			Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("postgres: read %s: %w", ev.ID, err)
		default:
			if err := a.write(tx, ev.ID, models.ApplyUpdate(row.Doc, u)); err != nil {
				return err
			}
		}
		return a.checkpoints.in(tx).Save(ctx, ev.ID, ev.Timestamp)
	})
}

func (a *Adapter) ApplyDelete(ctx context.Context, ev *models.ChangeEvent) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(a.table).Where("id = ?", ev.ID).Delete(&Document{}).Error; err != nil {
			return fmt.Errorf("postgres: delete %s: %w", ev.ID, err)
		}
		return a.checkpoints.in(tx).Save(ctx, ev.ID, ev.Timestamp)
	})
}

func (a *Adapter) ApplyNoop(ctx context.Context, ev *models.ChangeEvent) error {
	return a.checkpoints.Save(ctx, models.NoopIdentity, ev.Timestamp)
}

func (a *Adapter) IDsSince(ctx context.Context, ts models.Timestamp) ([]string, error) {
	return a.checkpoints.Since(ctx, ts)
}

func (a *Adapter) Normalize(ev *models.ChangeEvent) (*models.ChangeEvent, error) {
	return backend.NormalizeDocument(ev)
}

func (a *Adapter) Checkpoints() checkpoint.Store {
	return a.checkpoints
}

func (a *Adapter) Fetch(ctx context.Context, id string) (map[string]any, bool, error) {
	var row Document
	err := a.db.WithContext(ctx).Table(a.table).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.Doc, true, nil
}

func (a *Adapter) Close(context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (a *Adapter) write(tx *gorm.DB, id string, doc map[string]any) error {
	row := Document{ID: id, Doc: doc}
	if v, ok := doc[models.LastModifiedField]; ok && v != nil {
		t, err := models.ParseLastModified(v)
		if err != nil {
			return err
		}
		row.LastModified = &t
	}

	err := tx.Table(a.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"doc", "last_modified"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("postgres: write %s: %w", id, err)
	}
	return nil
}
