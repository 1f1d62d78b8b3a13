// Package ingest implements the Ingester (spec §4.4): a chunked,
// bounded-concurrency bulk indexing pipeline with retry, routing, and
// refresh-interval toggling for bulk mode.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"golang.org/x/sync/errgroup"

	"github.com/openaleph/search-core/pkg/esclient"
	"github.com/openaleph/search-core/pkg/metrics"
	"github.com/openaleph/search-core/pkg/model"
	"github.com/openaleph/search-core/pkg/transform"
)

// Options configures one Ingester run.
type Options struct {
	ChunkSize      int
	MaxChunkBytes  int64
	MaxConcurrency int
	MaxRetries     int
	Sync           bool // maps to refresh=true
	// ForceRefresh overrides Sync, for the global test-mode flag.
	ForceRefresh bool
	// MaxLoggedFailures bounds per-batch detailed failure logging.
	MaxLoggedFailures int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize == 0 {
		o.ChunkSize = 1000
	}
	if o.MaxChunkBytes == 0 {
		o.MaxChunkBytes = 10 * 1024 * 1024
	}
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = 8
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.MaxLoggedFailures == 0 {
		o.MaxLoggedFailures = 10
	}
	return o
}

// Report summarizes a completed (or aborted) ingest run, per §4.4's
// completion-log contract.
type Report struct {
	Success  int64
	Failed   int64
	Duration time.Duration
}

func (r Report) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Success) / r.Duration.Seconds()
}

// Ingester drives bulk ingest of a stream of transform.Action values.
type Ingester struct {
	Pool *esclient.ConnectionPool
	Opts Options
}

func New(pool *esclient.ConnectionPool, opts Options) *Ingester {
	return &Ingester{Pool: pool, Opts: opts.withDefaults()}
}

// Run consumes actions from the given channel, chunking them and driving
// a bounded worker pool of chunk-processors. It returns once every
// submitted chunk has been attempted exactly once, or ctx is canceled.
// Per-chunk failures are tolerated and counted; they do not abort the
// stream (spec §5: "the only global guarantee is that every submitted
// chunk has been attempted").
func (ig *Ingester) Run(ctx context.Context, actions <-chan *transform.Action) (Report, error) {
	start := time.Now()
	var success, failed int64

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, ig.Opts.MaxConcurrency)

	chunks := ig.chunk(gctx, actions)

	for chunk := range chunks {
		chunk := chunk
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			s, f := ig.processChunk(gctx, chunk)
			atomic.AddInt64(&success, s)
			atomic.AddInt64(&failed, f)
			return nil
		})
	}

	err := g.Wait()
	report := Report{Success: success, Failed: failed, Duration: time.Since(start)}
	slog.InfoContext(ctx, "ingest run complete",
		"success", report.Success, "failed", report.Failed,
		"duration", report.Duration, "throughput_per_sec", report.Throughput())
	return report, err
}

// chunk batches the action stream by count and approximate byte size.
func (ig *Ingester) chunk(ctx context.Context, actions <-chan *transform.Action) <-chan []*transform.Action {
	out := make(chan []*transform.Action)
	go func() {
		defer close(out)
		var batch []*transform.Action
		var size int64

		flush := func() {
			if len(batch) == 0 {
				return
			}
			select {
			case out <- batch:
			case <-ctx.Done():
			}
			batch = nil
			size = 0
		}

		for {
			select {
			case <-ctx.Done():
				return
			case a, ok := <-actions:
				if !ok {
					flush()
					return
				}
				batch = append(batch, a)
				size += estimateSize(a)
				if len(batch) >= ig.Opts.ChunkSize || size >= ig.Opts.MaxChunkBytes {
					flush()
				}
			}
		}
	}()
	return out
}

func estimateSize(a *transform.Action) int64 {
	if a.Document == nil {
		return 64
	}
	b, _ := json.Marshal(a.Document)
	return int64(len(b)) + 64
}

// processChunk submits one bulk request, with exponential-backoff retry
// on transient errors, and tallies per-item outcomes.
func (ig *Ingester) processChunk(ctx context.Context, chunk []*transform.Action) (success, failed int64) {
	start := time.Now()
	defer func() {
		dataset := "unknown"
		if len(chunk) > 0 {
			dataset = chunk[0].Routing
		}
		metrics.IngestChunkDuration.WithLabelValues(dataset).Observe(time.Since(start).Seconds())
	}()

	var body bytes.Buffer
	for _, a := range chunk {
		meta := map[string]interface{}{
			"_id":      a.ID,
			"_index":   a.Index,
			"_routing": a.Routing,
		}
		op := "index"
		if a.Delete {
			op = "delete"
		}
		metaLine, _ := json.Marshal(map[string]interface{}{op: meta})
		body.Write(metaLine)
		body.WriteByte('\n')
		if !a.Delete {
			docLine, _ := json.Marshal(a.Document)
			body.Write(docLine)
			body.WriteByte('\n')
		}
	}

	refresh := "false"
	if ig.Opts.ForceRefresh || ig.Opts.Sync {
		refresh = "true"
	}

	var resp *bulkResponse
	err := esclient.WithRetry(ctx, ig.Opts.MaxRetries, func() error {
		r, err := ig.submitBulk(ctx, body.Bytes(), refresh)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "bulk request failed after retries", "size", len(chunk), "error", err)
		for i, a := range chunk {
			if i >= ig.Opts.MaxLoggedFailures {
				break
			}
			slog.ErrorContext(ctx, "failing item (bulk-level failure)", "id", a.ID, "index", a.Index)
		}
		return 0, int64(len(chunk))
	}

	logged := 0
	for i, item := range resp.Items {
		result := firstOp(item)
		if result == nil {
			continue
		}
		dataset := "unknown"
		if i < len(chunk) {
			dataset = chunk[i].Routing
		}
		if result.Status >= 200 && result.Status < 300 {
			success++
			metrics.IngestDocumentsTotal.WithLabelValues(dataset).Inc()
			continue
		}
		if result.Status == 404 && i < len(chunk) && chunk[i].Delete {
			continue // already gone, tolerated per §7.
		}
		failed++
		metrics.IngestErrorsTotal.WithLabelValues(dataset, result.Error.Type).Inc()
		if logged < ig.Opts.MaxLoggedFailures {
			slog.ErrorContext(ctx, "per-item bulk failure", "id", result.ID, "status", result.Status, "error", result.Error.Reason)
			logged++
		}
	}
	return success, failed
}

func (ig *Ingester) submitBulk(ctx context.Context, body []byte, refresh string) (*bulkResponse, error) {
	res, err := ig.Pool.Do(ctx, esclient.RoleIngest, esapi.BulkRequest{
		Body:    bytes.NewReader(body),
		Refresh: refresh,
	})
	if err != nil {
		return nil, model.NewErrBackend(true, "bulk transport error: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		return nil, model.NewErrBackend(true, "bulk backend error: %s", res.Status())
	}
	if res.IsError() {
		return nil, model.NewErrBackend(false, "bulk rejected: %s", res.String())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	return &parsed, nil
}

type bulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]bulkResponseItem `json:"items"`
}

type bulkResponseItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func firstOp(item map[string]bulkResponseItem) *bulkResponseItem {
	for _, v := range item {
		v := v
		return &v
	}
	return nil
}
