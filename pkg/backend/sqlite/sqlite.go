// Package sqlite is a full-protocol backend storing documents as JSON in a
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/surrealdb/surrealmirror/internal/codec"
	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/checkpoint"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

const (
	Name       = "sqlite"
	driverName = "sqlite3"
)

var Registration = backend.Registration{
	Name:        Name,
	Protocol:    models.ProtocolFull,
	Description: "SQLite database; url is a file path or file: URI, namespace is the table name",
	New: func(ctx context.Context, opts backend.Options) (backend.Adapter, error) {
		return Open(ctx, opts)
	},
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Adapter struct {
	db          *sql.DB
	table       string
	checkpoints *Checkpoints
	log         logger.Logger
}

// Open opens the database at opts.URL. Tables are created by Provision.
func Open(ctx context.Context, opts backend.Options) (*Adapter, error) {
	if err := backend.ValidateIdentifier(opts.Namespace); err != nil {
		return nil, err
	}

	dsn := strings.TrimPrefix(opts.URL, "sqlite:")
	if dsn == "" {
		return nil, errors.New("sqlite: url is empty")
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// one connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %q: %w", pragma, err)
		}
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Adapter{
		db:          db,
		table:       opts.Namespace,
		checkpoints: newCheckpoints(db, backend.CheckpointName(opts.Namespace)),
		log:         log,
	}, nil
}

func (a *Adapter) Provision(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id            TEXT PRIMARY KEY,
			doc           TEXT NOT NULL,
			last_modified TEXT
		)`, a.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (last_modified)`, a.table+"_last_modified", a.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id TEXT PRIMARY KEY,
			t  INTEGER NOT NULL,
			i  INTEGER NOT NULL
		)`, a.checkpoints.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (t, i)`, a.checkpoints.table+"_time", a.checkpoints.table),
	}
	for _, stmt := range stmts {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: provision %s: %w", a.table, err)
		}
	}
	a.log.Info("provisioned sqlite tables", "table", a.table, "checkpoints", a.checkpoints.table)
	return nil
}

func (a *Adapter) Protocol() models.ProtocolKind {
	return models.ProtocolFull
}

func (a *Adapter) InitialPoint(ctx context.Context) (time.Time, bool, error) {
	var newest sql.NullString
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(last_modified) FROM %q`, a.table)).Scan(&newest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite: initial point: %w", err)
	}
	if !newest.Valid {
		return time.Time{}, false, nil
	}
	t, err := models.ParseLastModified(newest.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (a *Adapter) LatestCheckpoint(ctx context.Context) (models.Timestamp, bool, error) {
	return a.checkpoints.Latest(ctx)
}

func (a *Adapter) ApplyUpsert(ctx context.Context, ev *models.ChangeEvent) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		if err := a.write(ctx, tx, ev.ID, ev.Document()); err != nil {
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
	return a.inTx(ctx, func(tx *sql.Tx) error {
		doc, ok, err := a.read(ctx, tx, ev.ID)
		if err != nil {
			return err
		}
		if ok {
			if err := a.write(ctx, tx, ev.ID, models.ApplyUpdate(doc, u)); err != nil {
				return err
			}
		}
		return a.checkpoints.in(tx).Save(ctx, ev.ID, ev.Timestamp)
	})
}

func (a *Adapter) ApplyDelete(ctx context.Context, ev *models.ChangeEvent) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, a.table), ev.ID); err != nil {
			return fmt.Errorf("sqlite: delete %s: %w", ev.ID, err)
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
	return a.read(ctx, a.db, id)
}

func (a *Adapter) Close(context.Context) error {
	return a.db.Close()
}

func (a *Adapter) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (a *Adapter) read(ctx context.Context, q querier, id string) (map[string]any, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT doc FROM %q WHERE id = ?`, a.table), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: read %s: %w", id, err)
	}
	var doc map[string]any
	if err := codec.JSON().Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fmt.Errorf("sqlite: decode %s: %w", id, err)
	}
	return doc, true, nil
}

func (a *Adapter) write(ctx context.Context, q querier, id string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sqlite: encode %s: %w", id, err)
	}

	var lastModified sql.NullString
	if v, ok := doc[models.LastModifiedField]; ok && v != nil {
		t, err := models.ParseLastModified(v)
		if err != nil {
			return err
		}
		lastModified = sql.NullString{String: models.FormatLastModified(t), Valid: true}
	}

	_, err = q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %q (id, doc, last_modified) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, last_modified = excluded.last_modified
	`, a.table), id, string(data), lastModified)
	if err != nil {
		return fmt.Errorf("sqlite: write %s: %w", id, err)
	}
	return nil
}
