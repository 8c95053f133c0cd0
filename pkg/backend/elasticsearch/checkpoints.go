package elasticsearch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/surrealdb/surrealmirror/pkg/models"
)

const (
	scrollKeepAlive = time.Minute
	scrollPageSize  = 1000
)

// saveScript replaces the stored checkpoint only when the new one is not
// older, otherwise the update is a noop.
const saveScript = `if (ctx._source.time < params.time || (ctx._source.time == params.time && ctx._source.inc <= params.inc)) {
  ctx._source.time = params.time; ctx._source.inc = params.inc
} else {
  ctx.op = 'noop'
}`

type checkpointDoc struct {
	Time uint32 `json:"time"`
	Inc  uint32 `json:"inc"`
}

func (d checkpointDoc) timestamp() models.Timestamp {
	return models.Timestamp{T: d.Time, I: d.Inc}
}

// Checkpoints is the "_ts" index of a namespace.
type Checkpoints struct {
	es    esapi.Transport
	index string
}

func saveBody(ts models.Timestamp) map[string]any {
	doc := checkpointDoc{Time: ts.T, Inc: ts.I}
	return map[string]any{
		"script": map[string]any{
			"source": saveScript,
			"lang":   "painless",
			"params": doc,
		},
		"upsert": doc,
	}
}

func (c *Checkpoints) Save(ctx context.Context, id string, ts models.Timestamp) error {
	body, err := encode(saveBody(ts))
	if err != nil {
		return fmt.Errorf("elasticsearch: save checkpoint %s: %w", id, err)
	}
	err = do(ctx, c.es, esapi.UpdateRequest{
		Index:      c.index,
		DocumentID: id,
		Body:       body,
	}, nil)
	if err != nil {
		return fmt.Errorf("elasticsearch: save checkpoint %s: %w", id, err)
	}
	return nil
}

func (c *Checkpoints) Get(ctx context.Context, id string) (models.Timestamp, bool, error) {
	var res struct {
		Found  bool          `json:"found"`
		Source checkpointDoc `json:"_source"`
	}
	err := do(ctx, c.es, esapi.GetRequest{Index: c.index, DocumentID: id}, &res, http.StatusNotFound)
	if err != nil {
		return models.Timestamp{}, false, fmt.Errorf("elasticsearch: get checkpoint %s: %w", id, err)
	}
	if !res.Found {
		return models.Timestamp{}, false, nil
	}
	return res.Source.timestamp(), true, nil
}

func (c *Checkpoints) Latest(ctx context.Context) (models.Timestamp, bool, error) {
	if err := refresh(ctx, c.es, c.index); err != nil {
		return models.Timestamp{}, false, err
	}

	query, err := encode(map[string]any{
		"sort": []any{
			map[string]any{"time": map[string]any{"order": "desc", "unmapped_type": "long"}},
			map[string]any{"inc": map[string]any{"order": "desc", "unmapped_type": "long"}},
		},
	})
	if err != nil {
		return models.Timestamp{}, false, fmt.Errorf("elasticsearch: latest checkpoint: %w", err)
	}

	size := 1
	var res struct {
		Hits struct {
			Hits []struct {
				Source checkpointDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	err = do(ctx, c.es, esapi.SearchRequest{
		Index: []string{c.index},
		Size:  &size,
		Body:  query,
	}, &res, http.StatusNotFound)
	if err != nil {
		return models.Timestamp{}, false, fmt.Errorf("elasticsearch: latest checkpoint: %w", err)
	}
	if len(res.Hits.Hits) == 0 {
		return models.Timestamp{}, false, nil
	}
	return res.Hits.Hits[0].Source.timestamp(), true, nil
}

// sinceQuery matches checkpoints strictly after ts, excluding the heartbeat.
func sinceQuery(ts models.Timestamp) map[string]any {
	return map[string]any{
		"_source": false,
		"query": map[string]any{"bool": map[string]any{
			"should": []any{
				map[string]any{"range": map[string]any{"time": map[string]any{"gt": ts.T}}},
				map[string]any{"bool": map[string]any{"filter": []any{
					map[string]any{"term": map[string]any{"time": ts.T}},
					map[string]any{"range": map[string]any{"inc": map[string]any{"gt": ts.I}}},
				}}},
			},
			"minimum_should_match": 1,
			"must_not": []any{
				map[string]any{"ids": map[string]any{"values": []string{models.NoopIdentity}}},
			},
		}},
	}
}

// Since pages through every match with the scroll API.
func (c *Checkpoints) Since(ctx context.Context, ts models.Timestamp) ([]string, error) {
	if err := refresh(ctx, c.es, c.index); err != nil {
		return nil, err
	}

	query, err := encode(sinceQuery(ts))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: ids since %s: %w", ts, err)
	}

	size := scrollPageSize
	var page searchResponse
	err = do(ctx, c.es, esapi.SearchRequest{
		Index:  []string{c.index},
		Size:   &size,
		Scroll: scrollKeepAlive,
		Body:   query,
	}, &page)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: ids since %s: %w", ts, err)
	}

	ids := make([]string, 0)
	for len(page.Hits.Hits) > 0 {
		for _, hit := range page.Hits.Hits {
			ids = append(ids, hit.ID)
		}
		scrollID := page.ScrollID
		page = searchResponse{}
		err := do(ctx, c.es, esapi.ScrollRequest{ScrollID: scrollID, Scroll: scrollKeepAlive}, &page)
		if err != nil {
			return nil, fmt.Errorf("elasticsearch: ids since %s: %w", ts, err)
		}
		if page.ScrollID == "" {
			page.ScrollID = scrollID
		}
	}
	if page.ScrollID != "" {
		_ = do(ctx, c.es, esapi.ClearScrollRequest{ScrollID: []string{page.ScrollID}}, nil, http.StatusNotFound)
	}
	return ids, nil
}
