// Command searchctl is the administrative CLI for the search core (spec
// §6): upgrading/resetting index mappings, bulk-loading entities from a
// newline-delimited JSON feed, reaping cross-bucket duplicates, and
// printing backend/version diagnostics.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/openaleph/search-core/pkg/config"
	"github.com/openaleph/search-core/pkg/esclient"
	"github.com/openaleph/search-core/pkg/ingest"
	"github.com/openaleph/search-core/pkg/ioc"
	"github.com/openaleph/search-core/pkg/mapping"
	"github.com/openaleph/search-core/pkg/model"
	"github.com/openaleph/search-core/pkg/namegraph"
	"github.com/openaleph/search-core/pkg/reaper"
	"github.com/openaleph/search-core/pkg/schemaregistry"
	"github.com/openaleph/search-core/pkg/topology"
	"github.com/openaleph/search-core/pkg/transform"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	schemaPath := flag.String("schema", "", "path to the JSON schema catalog")
	cmd := os.Args[1]
	args := os.Args[2:]

	cfg := config.Load()
	ioc.Default().WithConfig(cfg).WithConnectionPool()
	ctx := context.Background()

	switch cmd {
	case "version":
		runVersion(ctx, cfg)
	case "upgrade":
		flag.CommandLine.Parse(args)
		runUpgrade(ctx, cfg, requireSchema(schemaPath))
	case "reset":
		flag.CommandLine.Parse(args)
		runReset(ctx, cfg, requireSchema(schemaPath))
	case "index-entities":
		fs := flag.NewFlagSet("index-entities", flag.ExitOnError)
		dataset := fs.String("d", "", "dataset name")
		input := fs.String("i", "", "input NDJSON file (default: stdin)")
		schemaFlag := fs.String("schema", "", "path to the JSON schema catalog")
		fs.Parse(args)
		runIndexEntities(ctx, cfg, *schemaFlag, *dataset, *input)
	case "reap-duplicates":
		fs := flag.NewFlagSet("reap-duplicates", flag.ExitOnError)
		dataset := fs.String("d", "", "restrict to one dataset (default: all)")
		dryRun := fs.Bool("dry-run", false, "report without deleting")
		keep := fs.String("keep", string(model.BucketPages), "bucket to keep duplicates in")
		del := fs.String("delete", string(model.BucketDocuments), "bucket to delete duplicates from")
		fs.Parse(args)
		runReapDuplicates(ctx, cfg, *dataset, *dryRun, *keep, *del)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `searchctl <command> [flags]

commands:
  upgrade           reconcile index mappings/settings against the schema catalog
  reset             drop and recreate every bucket index
  index-entities    bulk-load entities from an NDJSON feed
  reap-duplicates   delete cross-bucket duplicate documents
  version           print backend connectivity and version info`)
}

func requireSchema(p *string) string {
	if *p == "" {
		fmt.Fprintln(os.Stderr, "searchctl: -schema is required")
		os.Exit(2)
	}
	return *p
}

// newPool resolves the process-wide ConnectionPool singleton registered
// in main via ioc.Default().WithConnectionPool().
func newPool() *esclient.ConnectionPool {
	var pool *esclient.ConnectionPool
	if err := ioc.Default().Resolve(&pool); err != nil {
		slog.Error("failed to resolve ConnectionPool from container", "error", err)
		os.Exit(1)
	}
	return pool
}

func newTopology(cfg config.Config, registry model.Registry) *topology.Topology {
	return topology.New(registry, cfg.IndexPrefix, cfg.IndexWriteVersion, cfg.IndexReadVersions)
}

func runVersion(ctx context.Context, cfg config.Config) {
	pool := newPool()
	if err := pool.Ping(ctx); err != nil {
		slog.ErrorContext(ctx, "backend unreachable", "error", err)
		os.Exit(1)
	}
	fmt.Printf("backend reachable: %v\nindex prefix: %s\nwrite version: %s\nread versions: %v\n",
		true, cfg.IndexPrefix, cfg.IndexWriteVersion, cfg.IndexReadVersions)
}

func runUpgrade(ctx context.Context, cfg config.Config, schemaPath string) {
	registry := loadRegistry(schemaPath)
	pool := newPool()
	builder := mapping.New(registry)
	settings := builder.Settings(cfg.IndexShards, cfg.IndexReplicas, cfg.IndexRefreshInterval)

	for _, bucket := range []model.Bucket{model.BucketThings, model.BucketIntervals, model.BucketDocuments, model.BucketPages} {
		schemata := schemataInBucket(registry, bucket)
		pending := builder.BucketMapping(bucket, schemata)
		index := newTopology(cfg, registry).BucketIndex(bucket, cfg.IndexWriteVersion)
		if err := mapping.Apply(ctx, pool, index, settings, pending); err != nil {
			slog.ErrorContext(ctx, "upgrade failed", "index", index, "error", err)
			os.Exit(1)
		}
		fmt.Printf("upgraded %s\n", index)
	}
}

func runReset(ctx context.Context, cfg config.Config, schemaPath string) {
	registry := loadRegistry(schemaPath)
	pool := newPool()
	topo := newTopology(cfg, registry)

	for _, bucket := range []model.Bucket{model.BucketThings, model.BucketIntervals, model.BucketDocuments, model.BucketPages} {
		index := topo.BucketIndex(bucket, cfg.IndexWriteVersion)
		res, err := pool.Do(ctx, esclient.RoleIngest, esapi.IndicesDeleteRequest{
			Index:             []string{index},
			IgnoreUnavailable: esapiBoolPtr(true),
		})
		if err != nil {
			slog.ErrorContext(ctx, "reset: delete failed", "index", index, "error", err)
			os.Exit(1)
		}
		res.Body.Close()
		fmt.Printf("dropped %s\n", index)
	}
	runUpgrade(ctx, cfg, schemaPath)
}

func runIndexEntities(ctx context.Context, cfg config.Config, schemaPath, dataset, inputPath string) {
	if dataset == "" {
		fmt.Fprintln(os.Stderr, "searchctl index-entities: -d is required")
		os.Exit(2)
	}
	registry := loadRegistry(schemaPath)
	pool := newPool()
	topo := newTopology(cfg, registry)
	transformer := transform.New(registry, topo, namegraph.New())
	if cfg.NamespaceIDs && cfg.NamespaceSecret != "" {
		transformer.Namespace = transform.NewNamespaceHasher(cfg.NamespaceSecret)
		transformer.IndexNamespace = dataset
	}

	in := os.Stdin
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			slog.ErrorContext(ctx, "cannot open input", "path", inputPath, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	actions := make(chan *transform.Action)
	go func() {
		defer close(actions)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var e model.Entity
			if err := json.Unmarshal(line, &e); err != nil {
				slog.ErrorContext(ctx, "skipping malformed entity line", "error", err)
				continue
			}
			action, err := transformer.Transform(ctx, dataset, e)
			if err != nil {
				slog.WarnContext(ctx, "skipping entity", "id", e.ID, "error", err)
				continue
			}
			select {
			case actions <- action:
			case <-ctx.Done():
				return
			}
		}
	}()

	ingester := ingest.New(pool, ingest.Options{
		ChunkSize:      cfg.IndexerChunkSize,
		MaxChunkBytes:  cfg.IndexerMaxChunkBytes,
		MaxConcurrency: cfg.IndexerConcurrency,
		ForceRefresh:   cfg.Testing,
	})
	report, err := ingester.Run(ctx, actions)
	if err != nil {
		slog.ErrorContext(ctx, "ingest run error", "error", err)
		os.Exit(1)
	}
	fmt.Printf("indexed %d, failed %d, in %s (%.1f docs/sec)\n",
		report.Success, report.Failed, report.Duration, report.Throughput())
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func runReapDuplicates(ctx context.Context, cfg config.Config, dataset string, dryRun bool, keep, del string) {
	pool := newPool()
	r := reaper.New(pool, cfg.DeleteByQueryBatch, dryRun)
	pair := reaper.BucketPair{
		KeepIndex:   fmt.Sprintf("%s-entity-%s-%s", cfg.IndexPrefix, keep, cfg.IndexWriteVersion),
		DeleteIndex: fmt.Sprintf("%s-entity-%s-%s", cfg.IndexPrefix, del, cfg.IndexWriteVersion),
	}
	report, err := r.Run(ctx, pair, dataset)
	if err != nil {
		slog.ErrorContext(ctx, "reap run error", "error", err)
		os.Exit(1)
	}
	fmt.Printf("found %d duplicate candidates, deleted %d, errors %d\n", report.Found, report.Deleted, report.Errors)
	if report.Errors > 0 {
		os.Exit(1)
	}
}

func loadRegistry(path string) *schemaregistry.Registry {
	registry, err := schemaregistry.Load(path)
	if err != nil {
		slog.Error("failed to load schema catalog", "path", path, "error", err)
		os.Exit(1)
	}
	return registry
}

func schemataInBucket(registry model.Registry, bucket model.Bucket) []model.Schema {
	var out []model.Schema
	for _, s := range registry.Schemata() {
		if s.Abstract() {
			continue
		}
		if topology.SchemaBucket(s) == bucket {
			out = append(out, s)
		}
	}
	return out
}

func esapiBoolPtr(b bool) *bool { return &b }
