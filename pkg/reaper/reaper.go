// Package reaper implements the DuplicateReaper (spec §4.5): identifies
// and removes cross-bucket duplicates, keeping the more-specific bucket.
package reaper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/openaleph/search-core/pkg/esclient"
	"github.com/openaleph/search-core/pkg/metrics"
)

// BucketPair names a (keep, delete) bucket-index pair to reconcile. The
// default, per original_source's cleanup_cross_bucket_duplicates.py, is
// (pages, documents).
type BucketPair struct {
	KeepIndex   string
	DeleteIndex string
}

// Report tallies one reaper run.
type Report struct {
	Found   int
	Deleted int
	Errors  int
}

// Reaper scans KeepIndex for ids and removes any matching id found in
// DeleteIndex.
type Reaper struct {
	Pool      *esclient.ConnectionPool
	BatchSize int
	DryRun    bool
}

func New(pool *esclient.ConnectionPool, batchSize int, dryRun bool) *Reaper {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Reaper{Pool: pool, BatchSize: batchSize, DryRun: dryRun}
}

// Run executes the algorithm from spec §4.5 for one bucket pair,
// optionally scoped to a dataset.
func (r *Reaper) Run(ctx context.Context, pair BucketPair, dataset string) (Report, error) {
	var report Report

	err := r.scanIDs(ctx, pair.KeepIndex, dataset, func(batch []string) error {
		hits, err := r.probeIDs(ctx, pair.DeleteIndex, dataset, batch)
		if err != nil {
			report.Errors += len(batch)
			slog.ErrorContext(ctx, "probe batch failed", "index", pair.DeleteIndex, "error", err)
			return nil // tolerated: a failed batch does not abort the scan.
		}
		report.Found += len(hits)
		if len(hits) == 0 {
			return nil
		}

		if r.DryRun {
			slog.InfoContext(ctx, "dry-run: would delete duplicates", "index", pair.DeleteIndex, "count", len(hits))
			return nil
		}

		deleted, err := r.deleteByIDs(ctx, pair.DeleteIndex, dataset, hits)
		if err != nil {
			report.Errors += len(hits)
			slog.ErrorContext(ctx, "delete_by_query batch failed", "index", pair.DeleteIndex, "error", err)
			return nil
		}
		report.Deleted += deleted
		metrics.ReaperDeletedTotal.WithLabelValues(pair.KeepIndex, pair.DeleteIndex).Add(float64(deleted))
		return nil
	})

	return report, err
}

// scanIDs iterates every document id in index (optionally filtered by
// dataset) via scroll, invoking fn with id batches of at most
// r.BatchSize.
func (r *Reaper) scanIDs(ctx context.Context, index, dataset string, fn func([]string) error) error {
	query := matchQuery(dataset)
	body, _ := json.Marshal(map[string]interface{}{
		"query":   query,
		"_source": false,
		"size":    r.BatchSize,
	})

	res, err := r.Pool.Do(ctx, esclient.RoleSearch, esapi.SearchRequest{
		Index:  []string{index},
		Body:   bytes.NewReader(body),
		Scroll: scrollTimeout,
	})
	if err != nil {
		return err
	}

	scrollID, ids, err := decodeScrollPage(res)
	if err != nil {
		return err
	}
	for len(ids) > 0 {
		if err := fn(ids); err != nil {
			return err
		}
		if scrollID == "" {
			break
		}
		scrollID, ids, err = r.nextScrollPage(ctx, scrollID)
		if err != nil {
			return err
		}
	}
	if scrollID != "" {
		r.clearScroll(ctx, scrollID)
	}
	return nil
}

const scrollTimeout = "2m"

func decodeScrollPage(res *esapi.Response) (string, []string, error) {
	defer res.Body.Close()
	if res.IsError() {
		return "", nil, fmt.Errorf("scan failed: %s", res.String())
	}
	var parsed scrollResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", nil, err
	}
	ids := make([]string, len(parsed.Hits.Hits))
	for i, h := range parsed.Hits.Hits {
		ids[i] = h.ID
	}
	return parsed.ScrollID, ids, nil
}

func (r *Reaper) nextScrollPage(ctx context.Context, scrollID string) (string, []string, error) {
	body, _ := json.Marshal(map[string]interface{}{"scroll": scrollTimeout, "scroll_id": scrollID})
	res, err := r.Pool.Do(ctx, esclient.RoleSearch, esapi.ScrollRequest{Body: bytes.NewReader(body)})
	if err != nil {
		return "", nil, err
	}
	return decodeScrollPage(res)
}

func (r *Reaper) clearScroll(ctx context.Context, scrollID string) {
	body, _ := json.Marshal(map[string]interface{}{"scroll_id": []string{scrollID}})
	res, err := r.Pool.Do(ctx, esclient.RoleSearch, esapi.ClearScrollRequest{Body: bytes.NewReader(body)})
	if err != nil {
		return
	}
	res.Body.Close()
}

type scrollResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

// probeIDs finds which of candidateIDs exist in index.
func (r *Reaper) probeIDs(ctx context.Context, index, dataset string, candidateIDs []string) ([]string, error) {
	filters := []map[string]interface{}{
		{"ids": map[string]interface{}{"values": candidateIDs}},
	}
	if dataset != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"dataset": dataset}})
	}
	body, _ := json.Marshal(map[string]interface{}{
		"query":   map[string]interface{}{"bool": map[string]interface{}{"filter": filters}},
		"_source": false,
		"size":    len(candidateIDs),
	})

	res, err := r.Pool.Do(ctx, esclient.RoleSearch, esapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("probe failed: %s", res.String())
	}

	var parsed scrollResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	ids := make([]string, len(parsed.Hits.Hits))
	for i, h := range parsed.Hits.Hits {
		ids[i] = h.ID
	}
	return ids, nil
}

// deleteByIDs issues delete_by_query with conflicts=proceed over the
// given ids (+ optional dataset filter), waiting synchronously.
func (r *Reaper) deleteByIDs(ctx context.Context, index, dataset string, ids []string) (int, error) {
	filters := []map[string]interface{}{
		{"ids": map[string]interface{}{"values": ids}},
	}
	if dataset != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"dataset": dataset}})
	}
	body, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"bool": map[string]interface{}{"filter": filters}},
	})

	res, err := r.Pool.Do(ctx, esclient.RoleIngest, esapi.DeleteByQueryRequest{
		Index:              []string{index},
		Body:               bytes.NewReader(body),
		Conflicts:          "proceed",
		WaitForCompletion:  esapiBoolPtr(true),
	})
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("delete_by_query failed: %s", res.String())
	}

	var parsed struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	return parsed.Deleted, nil
}

func esapiBoolPtr(b bool) *bool { return &b }

func matchQuery(dataset string) map[string]interface{} {
	if dataset == "" {
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": []map[string]interface{}{
				{"term": map[string]interface{}{"dataset": dataset}},
			},
		},
	}
}
