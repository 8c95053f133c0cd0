// Package journal is a reduced-protocol backend that appends every upsert to
// a JSON lines file. It suits snapshot consumers that never delete.
//
// The directory named by the URL holds <namespace>.jsonl with one document
// per line and <namespace>_ts.jsonl with one checkpoint per line. Both files
// are replayed on open to rebuild the current state.
package journal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/surrealdb/surrealmirror/internal/codec"
	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/checkpoint"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

const (
	Name = "journal"

	extension  = ".jsonl"
	permission = 0o644
)

var Registration = backend.Registration{
	Name:        Name,
	Protocol:    models.ProtocolReduced,
	Description: "append-only JSON lines files; url is a directory, namespace the file name",
	New: func(ctx context.Context, opts backend.Options) (backend.Adapter, error) {
		return Open(ctx, opts)
	},
}

type docLine struct {
	ID  string           `json:"id"`
	Doc map[string]any   `json:"doc"`
	TS  models.Timestamp `json:"ts"`
}

type checkpointLine struct {
	ID string           `json:"id"`
	TS models.Timestamp `json:"ts"`
}

type Adapter struct {
	backend.Reduced

	dir         string
	docPath     string
	tsPath      string
	log         logger.Logger
	mu          sync.Mutex
	docs        map[string]map[string]any
	checkpoints *checkpoint.Memory
	docFile     *os.File
	tsFile      *os.File
}

// Open replays any existing journal in opts.URL. Files are created on the
// first write, once Provision has created the directory.
func Open(_ context.Context, opts backend.Options) (*Adapter, error) {
	if opts.URL == "" {
		return nil, errors.New("journal: url is empty")
	}
	if err := backend.ValidateIdentifier(opts.Namespace); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	a := &Adapter{
		dir:         opts.URL,
		docPath:     filepath.Join(opts.URL, opts.Namespace+extension),
		tsPath:      filepath.Join(opts.URL, backend.CheckpointName(opts.Namespace)+extension),
		log:         log,
		docs:        make(map[string]map[string]any),
		checkpoints: checkpoint.NewMemory(),
	}
	if err := a.replay(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) Provision(context.Context) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("journal: provision: %w", err)
	}
	a.log.Info("provisioned journal directory", "dir", a.dir)
	return nil
}

func (a *Adapter) replay() error {
	err := readLines(a.docPath, func(line []byte) error {
		var l docLine
		if err := codec.JSON().Unmarshal(line, &l); err != nil {
			return err
		}
		codec.NormalizeNumbers(l.Doc)
		a.docs[l.ID] = l.Doc
		return nil
	})
	if err != nil {
		return fmt.Errorf("journal: replay %s: %w", a.docPath, err)
	}

	ctx := context.Background()
	err = readLines(a.tsPath, func(line []byte) error {
		var l checkpointLine
		if err := codec.JSON().Unmarshal(line, &l); err != nil {
			return err
		}
		return a.checkpoints.Save(ctx, l.ID, l.TS)
	})
	if err != nil {
		return fmt.Errorf("journal: replay %s: %w", a.tsPath, err)
	}
	return nil
}

func readLines(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// InitialPoint returns the newest modification time among the current
// documents. Superseded versions in the journal do not count.
func (a *Adapter) InitialPoint(context.Context) (time.Time, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var newest time.Time
	found := false
	for id, doc := range a.docs {
		v, ok := doc[models.LastModifiedField]
		if !ok || v == nil {
			continue
		}
		t, err := models.ParseLastModified(v)
		if err != nil {
			a.log.Warn("ignoring unparsable modification time", "id", id, "value", v, "error", err)
			continue
		}
		if !found || t.After(newest) {
			newest, found = t, true
		}
	}
	return newest, found, nil
}

func (a *Adapter) LatestCheckpoint(ctx context.Context) (models.Timestamp, bool, error) {
	return a.checkpoints.Latest(ctx)
}

func (a *Adapter) ApplyUpsert(ctx context.Context, ev *models.ChangeEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc := ev.Document()
	if err := a.append(&a.docFile, a.docPath, docLine{ID: ev.ID, Doc: doc, TS: ev.Timestamp}); err != nil {
		return err
	}
	a.docs[ev.ID] = doc
	return a.saveCheckpoint(ctx, ev.ID, ev.Timestamp)
}

func (a *Adapter) ApplyNoop(ctx context.Context, ev *models.ChangeEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saveCheckpoint(ctx, models.NoopIdentity, ev.Timestamp)
}

func (a *Adapter) saveCheckpoint(ctx context.Context, id string, ts models.Timestamp) error {
	if err := a.append(&a.tsFile, a.tsPath, checkpointLine{ID: id, TS: ts}); err != nil {
		return err
	}
	return a.checkpoints.Save(ctx, id, ts)
}

func (a *Adapter) append(f **os.File, path string, v any) error {
	if *f == nil {
		opened, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, permission)
		if err != nil {
			return fmt.Errorf("journal: open %s: %w", path, err)
		}
		*f = opened
	}

	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}
	line = append(line, '\n')
	if _, err := (*f).Write(line); err != nil {
		return fmt.Errorf("journal: write %s: %w", path, err)
	}
	if err := (*f).Sync(); err != nil {
		return fmt.Errorf("journal: sync %s: %w", path, err)
	}
	return nil
}

func (a *Adapter) Normalize(ev *models.ChangeEvent) (*models.ChangeEvent, error) {
	return backend.NormalizeDocument(ev)
}

func (a *Adapter) Checkpoints() checkpoint.Store {
	return a.checkpoints
}

// Fetch returns the latest journaled document for id.
func (a *Adapter) Fetch(_ context.Context, id string) (map[string]any, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	doc, ok := a.docs[id]
	return doc, ok, nil
}

func (a *Adapter) Close(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, f := range []**os.File{&a.docFile, &a.tsFile} {
		if *f != nil {
			errs = append(errs, (*f).Close())
			*f = nil
		}
	}
	return errors.Join(errs...)
}
