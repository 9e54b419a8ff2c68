package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/subculture-collective/clipper/models"
	"github.com/subculture-collective/clipper/query"

	es "github.com/opensearch-project/opensearch-go/v2"
	esapi "github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultClipIndex = "clips"

type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score,omitempty"`
	Clip  ClipDoc `json:"clip"`
}

type Results struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Hits  []Hit `json:"hits"`
}

// Searcher runs clip searches written in the query language.
type Searcher interface {
	SearchClips(ctx context.Context, raw string, opts query.Options) (*Results, error)
}

type EsSearchHit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

type EsSearchHits struct {
	Total struct {
		Value    int64
		Relation string
	} `json:"total"`
	MaxScore float64       `json:"max_score"`
	Hits     []EsSearchHit `json:"hits"`
}

type EsSearchResponse struct {
	Took     int          `json:"took"`
	TimedOut bool         `json:"timed_out"`
	Hits     EsSearchHits `json:"hits"`
}

// Index maintains the OpenSearch clip index and searches it.
type Index struct {
	escli     *es.Client
	index     string
	validator *query.Validator
	logger    *slog.Logger
}

var _ Searcher = (*Index)(nil)

func NewIndex(escli *es.Client, index string, logger *slog.Logger) *Index {
	if index == "" {
		index = DefaultClipIndex
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		escli:     escli,
		index:     index,
		validator: newValidator(),
		logger:    logger.With("component", "search", "index", index),
	}
}

var clipIndexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"doc_index_ts":     map[string]any{"type": "date"},
			"id":               map[string]any{"type": "keyword"},
			"twitch_clip_id":   map[string]any{"type": "keyword"},
			"twitch_clip_url":  map[string]any{"type": "keyword", "index": false},
			"title":            map[string]any{"type": "text"},
			"creator_name":     map[string]any{"type": "text", "fields": map[string]any{"raw": map[string]any{"type": "keyword"}}},
			"broadcaster_name": map[string]any{"type": "text", "fields": map[string]any{"raw": map[string]any{"type": "keyword"}}},
			"game_name":        map[string]any{"type": "text", "fields": map[string]any{"raw": map[string]any{"type": "keyword"}}},
			"language":         map[string]any{"type": "keyword"},
			"thumbnail_url":    map[string]any{"type": "keyword", "index": false},
			"duration":         map[string]any{"type": "float"},
			"view_count":       map[string]any{"type": "integer"},
			"vote_score":       map[string]any{"type": "integer"},
			"comment_count":    map[string]any{"type": "integer"},
			"favorite_count":   map[string]any{"type": "integer"},
			"is_featured":      map[string]any{"type": "boolean"},
			"is_nsfw":          map[string]any{"type": "boolean"},
			"trending_score":   map[string]any{"type": "double"},
			"created_at":       map[string]any{"type": "date"},
		},
	},
}

// EnsureIndex creates the clip index with its mapping if it does not exist.
func (idx *Index) EnsureIndex(ctx context.Context) error {
	b, err := json.Marshal(clipIndexMapping)
	if err != nil {
		return err
	}
	req := esapi.IndicesCreateRequest{
		Index: idx.index,
		Body:  bytes.NewReader(b),
	}
	res, err := req.Do(ctx, idx.escli)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.IsError() {
		if res.StatusCode == http.StatusBadRequest && bytes.Contains(body, []byte("resource_already_exists_exception")) {
			return nil
		}
		idx.logger.Warn("opensearch create index error", "status_code", res.StatusCode, "body", string(body))
		return fmt.Errorf("create index error, code=%d", res.StatusCode)
	}
	idx.logger.Info("created search index")
	return nil
}

// IndexClip adds or replaces a clip's document. Removed or hidden clips are
// deleted from the index instead.
func (idx *Index) IndexClip(ctx context.Context, clip *models.Clip) error {
	ctx, span := tracer.Start(ctx, "IndexClip")
	defer span.End()
	span.SetAttributes(attribute.String("clip", clip.ID.String()))

	if !indexable(clip) {
		return idx.DeleteClip(ctx, clip.ID.String())
	}

	log := idx.logger.With("clip", clip.ID, "op", "IndexClip")
	doc := TransformClip(clip)
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	log.Debug("indexing clip")
	req := esapi.IndexRequest{
		Index:      idx.index,
		DocumentID: doc.DocId(),
		Body:       bytes.NewReader(b),
	}
	res, err := req.Do(ctx, idx.escli)
	if err != nil {
		indexErrors.Inc()
		log.Warn("failed to send indexing request", "err", err)
		return fmt.Errorf("failed to send indexing request: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		indexErrors.Inc()
		return fmt.Errorf("failed to read indexing response: %w", err)
	}
	if res.IsError() {
		indexErrors.Inc()
		log.Warn("opensearch indexing error", "status_code", res.StatusCode, "body", string(body))
		return fmt.Errorf("indexing error, code=%d", res.StatusCode)
	}
	clipsIndexed.Inc()
	return nil
}

// DeleteClip removes a clip's document; deleting a missing document is
// not an error.
func (idx *Index) DeleteClip(ctx context.Context, clipID string) error {
	ctx, span := tracer.Start(ctx, "DeleteClip")
	defer span.End()
	span.SetAttributes(attribute.String("clip", clipID))

	req := esapi.DeleteRequest{
		Index:      idx.index,
		DocumentID: clipID,
		Refresh:    "true",
	}
	res, err := req.Do(ctx, idx.escli)
	if err != nil {
		indexErrors.Inc()
		return fmt.Errorf("failed to delete clip: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read delete response: %w", err)
	}
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		indexErrors.Inc()
		idx.logger.Warn("opensearch delete error", "clip", clipID, "status_code", res.StatusCode, "body", string(body))
		return fmt.Errorf("delete error, code=%d", res.StatusCode)
	}
	clipsDeleted.Inc()
	return nil
}

func (idx *Index) translator() *query.OpenSearchTranslator {
	return query.NewOpenSearchTranslator(query.OpenSearchConfig{
		FieldMapping: clipFields,
		StrictFields: true,
		TextFields:   openSearchTextFields,
	})
}

func (idx *Index) SearchClips(ctx context.Context, raw string, opts query.Options) (*Results, error) {
	ctx, span := tracer.Start(ctx, "SearchClips")
	defer span.End()
	start := time.Now()

	node, err := parseQuery(idx.validator, raw, &opts)
	if err != nil {
		searchQueries.WithLabelValues("opensearch", "invalid").Inc()
		return nil, err
	}

	tr := idx.translator()
	var body map[string]any
	if node == nil {
		if opts.SortField == "" {
			opts.SortField = "created"
		}
		body, err = tr.BuildMatchAllQuery(nil, opts)
	} else {
		body, err = tr.BuildSearchQuery(node, opts)
	}
	if err != nil {
		searchQueries.WithLabelValues("opensearch", "invalid").Inc()
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	query.DefaultSafeQueryLimits().Apply(&opts)

	resp, err := doSearch(ctx, idx.escli, idx.index, body)
	searchDuration.WithLabelValues("opensearch").Observe(time.Since(start).Seconds())
	if err != nil {
		searchQueries.WithLabelValues("opensearch", "error").Inc()
		return nil, err
	}
	searchQueries.WithLabelValues("opensearch", "ok").Inc()

	out := &Results{
		Total: resp.Hits.Total.Value,
		Page:  opts.Offset/opts.Limit + 1,
		Limit: opts.Limit,
		Hits:  make([]Hit, 0, len(resp.Hits.Hits)),
	}
	for _, h := range resp.Hits.Hits {
		var doc ClipDoc
		if err := json.Unmarshal(h.Source, &doc); err != nil {
			idx.logger.Warn("skipping undecodable search hit", "id", h.ID, "err", err)
			continue
		}
		out.Hits = append(out.Hits, Hit{ID: h.ID, Score: h.Score, Clip: doc})
	}
	return out, nil
}

func doSearch(ctx context.Context, escli *es.Client, index string, query any) (*EsSearchResponse, error) {
	ctx, span := tracer.Start(ctx, "doSearch")
	defer span.End()
	span.SetAttributes(attribute.String("index", index))

	b, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query: %w", err)
	}
	slog.Debug("sending query", "index", index, "query", string(b))

	res, err := escli.Search(
		escli.Search.WithContext(ctx),
		escli.Search.WithIndex(index),
		escli.Search.WithBody(bytes.NewReader(b)),
	)
	if err != nil {
		return nil, fmt.Errorf("search query error: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, err := io.ReadAll(res.Body)
		if err == nil {
			slog.Warn("search query error", "resp", string(raw), "status_code", res.StatusCode)
		}
		return nil, fmt.Errorf("search query error, code=%d", res.StatusCode)
	}

	var out EsSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &out, nil
}
