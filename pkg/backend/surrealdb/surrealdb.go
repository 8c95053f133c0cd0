// Package surrealdb is a full-protocol backend for SurrealDB.
//
// The namespace has the form namespace.database.table. Records are keyed by
// the mirror identity in the table; checkpoints are {t, i} records in the
// "<table>_ts" table. Credentials are taken from the URL user info.
package surrealdb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	surreal "github.com/surrealdb/surrealdb.go"
	sdbmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/checkpoint"
	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

const Name = "surrealdb"

var Registration = backend.Registration{
	Name:        Name,
	Protocol:    models.ProtocolFull,
	Description: "SurrealDB; url is ws(s):// or http(s):// with optional user info, namespace is ns.db.table",
	New: func(ctx context.Context, opts backend.Options) (backend.Adapter, error) {
		return Open(ctx, opts)
	},
}

// target is a parsed namespace.
type target struct {
	Namespace string
	Database  string
	Table     string
}

func parseTarget(namespace string) (target, error) {
	parts := strings.Split(namespace, ".")
	if len(parts) != 3 {
		return target{}, fmt.Errorf("%w: %q must have the form namespace.database.table", constants.ErrInvalidNamespace, namespace)
	}
	for _, p := range parts {
		if err := backend.ValidateIdentifier(p); err != nil {
			return target{}, err
		}
	}
	return target{Namespace: parts[0], Database: parts[1], Table: parts[2]}, nil
}

// splitCredentials removes the user info from endpoint.
func splitCredentials(endpoint string) (string, map[string]any, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("surrealdb: parse url: %w", err)
	}
	if u.User == nil {
		return endpoint, nil, nil
	}
	pass, _ := u.User.Password()
	creds := map[string]any{"user": u.User.Username(), "pass": pass}
	u.User = nil
	return u.String(), creds, nil
}

type Adapter struct {
	db          *surreal.DB
	table       string
	checkpoints *Checkpoints
	log         logger.Logger
}

func Open(ctx context.Context, opts backend.Options) (*Adapter, error) {
	t, err := parseTarget(opts.Namespace)
	if err != nil {
		return nil, err
	}
	if opts.URL == "" {
		return nil, errors.New("surrealdb: url is empty")
	}
	endpoint, creds, err := splitCredentials(opts.URL)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	db, err := surreal.FromEndpointURLString(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("surrealdb: connect: %w", err)
	}
	if creds != nil {
		if _, err := db.SignIn(ctx, creds); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("surrealdb: sign in: %w", err)
		}
	}
	if err := db.Use(ctx, t.Namespace, t.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("surrealdb: use %s/%s: %w", t.Namespace, t.Database, err)
	}

	return &Adapter{
		db:          db,
		table:       t.Table,
		checkpoints: &Checkpoints{db: db, table: backend.CheckpointName(t.Table)},
		log:         log,
	}, nil
}

// Provision defines both tables and the indexes used by initial point and
// ids-since queries.
func (a *Adapter) Provision(ctx context.Context) error {
	stmts := fmt.Sprintf(`
		DEFINE TABLE IF NOT EXISTS %[1]s SCHEMALESS;
		DEFINE INDEX IF NOT EXISTS %[1]s_last_modified ON %[1]s FIELDS _last_modified;
		DEFINE TABLE IF NOT EXISTS %[2]s SCHEMAFULL;
		DEFINE FIELD IF NOT EXISTS t ON %[2]s TYPE int;
		DEFINE FIELD IF NOT EXISTS i ON %[2]s TYPE int;
		DEFINE INDEX IF NOT EXISTS %[2]s_time ON %[2]s FIELDS t, i;
	`, a.table, a.checkpoints.table)
	if _, err := surreal.Query[any](ctx, a.db, stmts, nil); err != nil {
		return fmt.Errorf("surrealdb: provision %s: %w", a.table, err)
	}
	a.log.Info("provisioned surrealdb tables", "table", a.table, "checkpoints", a.checkpoints.table)
	return nil
}

func (a *Adapter) Protocol() models.ProtocolKind {
	return models.ProtocolFull
}

func (a *Adapter) InitialPoint(ctx context.Context) (time.Time, bool, error) {
	type row struct {
		LastModified sdbmodels.CustomDateTime `json:"_last_modified"`
	}
	res, err := surreal.Query[[]row](ctx, a.db,
		`SELECT _last_modified FROM type::table($tb) WHERE type::is::datetime(_last_modified) ORDER BY _last_modified DESC LIMIT 1`,
		map[string]any{"tb": a.table})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("surrealdb: initial point: %w", err)
	}
	rows := first(res)
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return rows[0].LastModified.Time.UTC(), true, nil
}

func (a *Adapter) LatestCheckpoint(ctx context.Context) (models.Timestamp, bool, error) {
	return a.checkpoints.Latest(ctx)
}

func (a *Adapter) ApplyUpsert(ctx context.Context, ev *models.ChangeEvent) error {
	if err := a.write(ctx, ev.Key, ev.Document()); err != nil {
		return fmt.Errorf("surrealdb: upsert %s: %w", ev.ID, err)
	}
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
}

func (a *Adapter) ApplyUpdate(ctx context.Context, ev *models.ChangeEvent) error {
	u, err := models.ParseUpdate(ev.Payload)
	if err != nil {
		return err
	}
	doc, found, err := a.read(ctx, ev.Key)
	if err != nil {
		return fmt.Errorf("surrealdb: read %s: %w", ev.ID, err)
	}
	if found {
		if err := a.write(ctx, ev.Key, toNative(models.ApplyUpdate(doc, u))); err != nil {
			return fmt.Errorf("surrealdb: update %s: %w", ev.ID, err)
		}
	}
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
}

func (a *Adapter) ApplyDelete(ctx context.Context, ev *models.ChangeEvent) error {
	rid := a.recordID(ev.Key)
	if _, err := surreal.Query[any](ctx, a.db, `DELETE $rid`, map[string]any{"rid": &rid}); err != nil {
		return fmt.Errorf("surrealdb: delete %s: %w", ev.ID, err)
	}
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
}

func (a *Adapter) ApplyNoop(ctx context.Context, ev *models.ChangeEvent) error {
	return a.checkpoints.Save(ctx, models.NoopIdentity, ev.Timestamp)
}

func (a *Adapter) IDsSince(ctx context.Context, ts models.Timestamp) ([]string, error) {
	return a.checkpoints.Since(ctx, ts)
}

// Normalize turns the identity into a record key and modification times into
// SurrealDB datetimes. Integers beyond the int64 range are stored as their
// decimal text.
func (a *Adapter) Normalize(ev *models.ChangeEvent) (*models.ChangeEvent, error) {
	out, err := backend.NormalizeDocument(ev)
	if err != nil {
		return nil, err
	}
	out.Key = nativeKey(ev.Key)
	out.Payload = toNative(out.Payload)
	return out, nil
}

func nativeKey(key any) any {
	switch k := key.(type) {
	case float64:
		if k == math.Trunc(k) && math.Abs(k) < 1<<53 {
			return int64(k)
		}
	case uint64, json.Number:
		return nativeValue(k)
	}
	return key
}

// toNative returns a deep copy of doc with time values wrapped for the
// SurrealDB codec.
func toNative(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = nativeValue(v)
	}
	return out
}

func nativeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return toNative(x)
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = nativeValue(val)
		}
		return out
	case time.Time:
		return &sdbmodels.CustomDateTime{Time: x}
	case sdbmodels.CustomDateTime:
		return &x
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return strconv.FormatUint(x, 10)
	case json.Number:
		return x.String()
	default:
		return v
	}
}

// fromNative converts a decoded record into the shapes the relay uses.
// Unsigned CBOR integers come back as int64 when they fit.
func fromNative(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = fromNative(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = fromNative(val)
		}
		return x
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case sdbmodels.CustomDateTime:
		return x.Time.UTC()
	default:
		return v
	}
}

func (a *Adapter) recordID(key any) sdbmodels.RecordID {
	return sdbmodels.NewRecordID(a.table, key)
}

func (a *Adapter) write(ctx context.Context, key any, doc map[string]any) error {
	rid := a.recordID(key)
	_, err := surreal.Query[any](ctx, a.db, `UPSERT $rid CONTENT $doc`, map[string]any{
		"rid": &rid,
		"doc": doc,
	})
	return err
}

func (a *Adapter) read(ctx context.Context, key any) (map[string]any, bool, error) {
	rid := a.recordID(key)
	res, err := surreal.Query[[]map[string]any](ctx, a.db, `SELECT * FROM $rid`, map[string]any{"rid": &rid})
	if err != nil {
		return nil, false, err
	}
	rows := first(res)
	if len(rows) == 0 {
		return nil, false, nil
	}
	doc := rows[0]
	delete(doc, "id")
	fromNative(doc)
	return doc, true, nil
}

func (a *Adapter) Checkpoints() checkpoint.Store {
	return a.checkpoints
}

// Fetch returns the record keyed by id, falling back to the integer key when
// id is numeric.
func (a *Adapter) Fetch(ctx context.Context, id string) (map[string]any, bool, error) {
	doc, ok, err := a.read(ctx, id)
	if err != nil || ok {
		return doc, ok, err
	}
	if n, perr := strconv.ParseInt(id, 10, 64); perr == nil {
		return a.read(ctx, n)
	}
	return nil, false, nil
}

func (a *Adapter) Close(ctx context.Context) error {
	return a.db.Close(ctx)
}

// first returns the result of the first statement of a query.
func first[T any](res *[]surreal.QueryResult[[]T]) []T {
	if res == nil || len(*res) == 0 {
		return nil
	}
	return (*res)[0].Result
}
