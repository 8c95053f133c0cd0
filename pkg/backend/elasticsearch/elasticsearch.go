// Package elasticsearch is a full-protocol backend for Elasticsearch.
//
// The namespace names the primary index. Checkpoints are documents
// {time, inc} in the "<index>_ts" index keyed by identity.
package elasticsearch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/goccy/go-json"

	"github.com/surrealdb/surrealmirror/internal/codec"
	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/checkpoint"
	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/logger"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

const Name = "elasticsearch"

var Registration = backend.Registration{
	Name:        Name,
	Protocol:    models.ProtocolFull,
	Description: "Elasticsearch; url is a comma separated node list, namespace the index name",
	New: func(ctx context.Context, opts backend.Options) (backend.Adapter, error) {
		return Open(ctx, opts)
	},
}

type Adapter struct {
	es          esapi.Transport
	index       string
	checkpoints *Checkpoints
	log         logger.Logger
}

func Open(ctx context.Context, opts backend.Options) (*Adapter, error) {
	if opts.URL == "" {
		return nil, errors.New("elasticsearch: url is empty")
	}
	if opts.Namespace == "" || strings.ToLower(opts.Namespace) != opts.Namespace || strings.ContainsAny(opts.Namespace, ` "*\<|,>/?#:`) {
		return nil, fmt.Errorf("%w: %q is not a valid index name", constants.ErrInvalidNamespace, opts.Namespace)
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(opts.URL, ","),
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: client: %w", err)
	}
	if err := do(ctx, client, esapi.PingRequest{}, nil); err != nil {
		return nil, fmt.Errorf("elasticsearch: ping: %w", err)
	}
	return newAdapter(client, opts), nil
}

func newAdapter(es esapi.Transport, opts backend.Options) *Adapter {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{
		es:          es,
		index:       opts.Namespace,
		checkpoints: &Checkpoints{es: es, index: backend.CheckpointName(opts.Namespace)},
		log:         log,
	}
}

// Provision creates the primary and checkpoint indexes with their mappings
// when they do not exist yet.
func (a *Adapter) Provision(ctx context.Context) error {
	mappings := map[string]map[string]any{
		a.index: {"mappings": map[string]any{"properties": map[string]any{
			models.LastModifiedField: map[string]any{
				"type":   "date",
				"format": "strict_date_optional_time||yyyy-MM-dd'T'HH:mm:ss.SSSSSS",
			},
		}}},
		a.checkpoints.index: {"mappings": map[string]any{"properties": map[string]any{
			"time": map[string]any{"type": "long"},
			"inc":  map[string]any{"type": "long"},
		}}},
	}
	for index, body := range mappings {
		res, err := esapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, a.es)
		if err != nil {
			return fmt.Errorf("elasticsearch: provision %s: %w", index, err)
		}
		res.Body.Close()
		if res.StatusCode == http.StatusOK {
			continue
		}
		req, err := encode(body)
		if err != nil {
			return fmt.Errorf("elasticsearch: provision %s: %w", index, err)
		}
		if err := do(ctx, a.es, esapi.IndicesCreateRequest{Index: index, Body: req}, nil); err != nil {
			return fmt.Errorf("elasticsearch: provision %s: %w", index, err)
		}
		a.log.Info("created elasticsearch index", "index", index)
	}
	return nil
}

func (a *Adapter) Protocol() models.ProtocolKind {
	return models.ProtocolFull
}

func (a *Adapter) InitialPoint(ctx context.Context) (time.Time, bool, error) {
	if err := refresh(ctx, a.es, a.index); err != nil {
		return time.Time{}, false, err
	}

	query, err := encode(map[string]any{
		"_source": []string{models.LastModifiedField},
		"query":   map[string]any{"exists": map[string]any{"field": models.LastModifiedField}},
		"sort": []any{map[string]any{models.LastModifiedField: map[string]any{
			"order": "desc", "unmapped_type": "date",
		}}},
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("elasticsearch: initial point: %w", err)
	}

	size := 1
	var res searchResponse
	err = do(ctx, a.es, esapi.SearchRequest{
		Index: []string{a.index},
		Size:  &size,
		Body:  query,
	}, &res)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("elasticsearch: initial point: %w", err)
	}
	if len(res.Hits.Hits) == 0 {
		return time.Time{}, false, nil
	}
	t, err := models.ParseLastModified(res.Hits.Hits[0].Source[models.LastModifiedField])
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (a *Adapter) LatestCheckpoint(ctx context.Context) (models.Timestamp, bool, error) {
	return a.checkpoints.Latest(ctx)
}

func (a *Adapter) ApplyUpsert(ctx context.Context, ev *models.ChangeEvent) error {
	body, err := encode(ev.Document())
	if err != nil {
		return fmt.Errorf("elasticsearch: index %s: %w", ev.ID, err)
	}
	err = do(ctx, a.es, esapi.IndexRequest{
		Index:      a.index,
		DocumentID: ev.ID,
		Body:       body,
	}, nil)
	if err != nil {
		return fmt.Errorf("elasticsearch: index %s: %w", ev.ID, err)
	}
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
}

// ApplyUpdate reads the current document, merges the update and writes it
// back guarded by the sequence number that was read.
func (a *Adapter) ApplyUpdate(ctx context.Context, ev *models.ChangeEvent) error {
	u, err := models.ParseUpdate(ev.Payload)
	if err != nil {
		return err
	}

	cur, found, err := a.get(ctx, ev.ID)
	if err != nil {
		return err
	}
	if found {
		body, err := encode(models.ApplyUpdate(cur.Source, u))
		if err != nil {
			return fmt.Errorf("elasticsearch: update %s: %w", ev.ID, err)
		}
		seqNo, term := cur.SeqNo, cur.PrimaryTerm
		err = do(ctx, a.es, esapi.IndexRequest{
			Index:         a.index,
			DocumentID:    ev.ID,
			Body:          body,
			IfSeqNo:       &seqNo,
			IfPrimaryTerm: &term,
		}, nil)
		if err != nil {
			return fmt.Errorf("elasticsearch: update %s: %w", ev.ID, err)
		}
	}
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
}

func (a *Adapter) ApplyDelete(ctx context.Context, ev *models.ChangeEvent) error {
	err := do(ctx, a.es, esapi.DeleteRequest{Index: a.index, DocumentID: ev.ID}, nil, http.StatusNotFound)
	if err != nil {
		return fmt.Errorf("elasticsearch: delete %s: %w", ev.ID, err)
	}
	return a.checkpoints.Save(ctx, ev.ID, ev.Timestamp)
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
	doc, found, err := a.get(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	return doc.Source, true, nil
}

func (a *Adapter) get(ctx context.Context, id string) (*getResponse, bool, error) {
	var res getResponse
	err := do(ctx, a.es, esapi.GetRequest{Index: a.index, DocumentID: id}, &res, http.StatusNotFound)
	if err != nil {
		return nil, false, fmt.Errorf("elasticsearch: get %s: %w", id, err)
	}
	if !res.Found {
		return nil, false, nil
	}
	codec.NormalizeNumbers(res.Source)
	return &res, true, nil
}

func (a *Adapter) Close(context.Context) error {
	return nil
}

type getResponse struct {
	Found       bool           `json:"found"`
	SeqNo       int            `json:"_seq_no"`
	PrimaryTerm int            `json:"_primary_term"`
	Source      map[string]any `json:"_source"`
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID     string         `json:"_id"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// request is implemented by every esapi request type.
type request interface {
	Do(ctx context.Context, transport esapi.Transport) (*esapi.Response, error)
}

// do performs req and decodes a successful body into out when it is not nil.
// Statuses listed in allow are treated as success.
func do(ctx context.Context, es esapi.Transport, req request, out any, allow ...int) error {
	res, err := req.Do(ctx, es)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() && !allowed(res.StatusCode, allow) {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("%s: %s", res.Status(), bytes.TrimSpace(body))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := codec.JSON().NewDecoder(res.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func allowed(status int, allow []int) bool {
	for _, s := range allow {
		if s == status {
			return true
		}
	}
	return false
}

func refresh(ctx context.Context, es esapi.Transport, index string) error {
	err := do(ctx, es, esapi.IndicesRefreshRequest{Index: []string{index}}, nil, http.StatusNotFound)
	if err != nil {
		return fmt.Errorf("elasticsearch: refresh %s: %w", index, err)
	}
	return nil
}

func encode(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return bytes.NewReader(data), nil
}
