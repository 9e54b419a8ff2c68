package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/subculture-collective/clipper/models"

	esapi "github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	DefaultReindexBatchSize = 500
	reindexParallelism      = 4
)

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// Reindex bulk-indexes every visible clip from the database, returning the
// number of documents sent. Batches are sent concurrently.
func (idx *Index) Reindex(ctx context.Context, db *gorm.DB, batchSize int) (int, error) {
	ctx, span := tracer.Start(ctx, "Reindex")
	defer span.End()

	if batchSize <= 0 {
		batchSize = DefaultReindexBatchSize
	}
	log := idx.logger.With("op", "Reindex")

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(reindexParallelism)

	total := 0
	var clips []models.Clip
	res := db.WithContext(ctx).
		Where("is_removed = ? AND is_hidden = ?", false, false).
		FindInBatches(&clips, batchSize, func(tx *gorm.DB, batch int) error {
			// the slice is reused between batches, so encode before handing off
			body, err := bulkBody(idx.index, clips)
			if err != nil {
				return err
			}
			n := len(clips)
			total += n
			eg.Go(func() error {
				if err := idx.sendBulk(ectx, body); err != nil {
					return fmt.Errorf("bulk batch %d: %w", batch, err)
				}
				clipsIndexed.Add(float64(n))
				return nil
			})
			if batch%20 == 0 {
				log.Info("queued reindex batches", "batches", batch, "clips", total)
			}
			return ectx.Err()
		})
	waitErr := eg.Wait()
	if res.Error != nil {
		return total, fmt.Errorf("reading clips: %w", res.Error)
	}
	if waitErr != nil {
		return total, waitErr
	}
	log.Info("finished reindex", "clips", total)
	return total, nil
}

func bulkBody(index string, clips []models.Clip) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range clips {
		doc := TransformClip(&clips[i])
		meta := map[string]any{"index": map[string]any{"_index": index, "_id": doc.DocId()}}
		if err := enc.Encode(meta); err != nil {
			return nil, err
		}
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (idx *Index) sendBulk(ctx context.Context, body []byte) error {
	req := esapi.BulkRequest{
		Index: idx.index,
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, idx.escli)
	if err != nil {
		indexErrors.Inc()
		return fmt.Errorf("failed to send bulk request: %w", err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read bulk response: %w", err)
	}
	if res.IsError() {
		indexErrors.Inc()
		idx.logger.Warn("opensearch bulk error", "status_code", res.StatusCode, "body", string(raw))
		return fmt.Errorf("bulk error, code=%d", res.StatusCode)
	}

	var out bulkResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}
	if !out.Errors {
		return nil
	}
	failed := 0
	for _, item := range out.Items {
		for _, r := range item {
			if r.Error != nil {
				failed++
				idx.logger.Warn("bulk item failed", "id", r.ID, "status", r.Status, "type", r.Error.Type, "reason", r.Error.Reason)
			}
		}
	}
	indexErrors.Add(float64(failed))
	return fmt.Errorf("%d documents failed to index", failed)
}
