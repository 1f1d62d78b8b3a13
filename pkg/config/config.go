// Package config loads the core's environment-prefixed configuration,
// the way the teacher repo's pkg/infra/ioc/environment.go builds its
// common.Config from os.Getenv, with an optional .env file via godotenv
// for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "SEARCH_"

// Config is the fully-resolved runtime configuration, covering every key
// named in the external interfaces section: backend endpoints, indexer
// tuning, index topology defaults, xref scroll parameters, and the
// global test/auth-mode flags.
type Config struct {
	SearchURLs []string
	IngestURLs []string
	Username   string
	Password   string

	RequestTimeout time.Duration
	MaxRetries     int
	RetryOnTimeout bool

	IndexerConcurrency    int
	IndexerChunkSize      int
	IndexerMaxChunkBytes  int64

	IndexShards          int
	IndexReplicas        int
	IndexRefreshInterval string
	IndexPrefix          string
	IndexWriteVersion    string
	IndexReadVersions    []string
	ExpandClauseLimit    int
	DeleteByQueryBatch   int
	NamespaceIDs         bool
	NamespaceSecret      string

	XrefScrollSize    int
	XrefScrollTimeout time.Duration

	Testing    bool
	Debug      bool
	SearchAuth bool
}

// Load reads a .env file if present (ignored if absent, exactly like the
// teacher's WithEnvFile) and then materializes Config from the
// environment, applying defaults for anything unset.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		SearchURLs:     splitList(getenv("SEARCH_URLS", "http://localhost:9200")),
		IngestURLs:     splitList(getenv("INGEST_URLS", getenv("SEARCH_URLS", "http://localhost:9200"))),
		Username:       os.Getenv(envPrefix + "USERNAME"),
		Password:       os.Getenv(envPrefix + "PASSWORD"),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:     getInt("MAX_RETRIES", 3),
		RetryOnTimeout: getBool("RETRY_ON_TIMEOUT", true),

		IndexerConcurrency:   getInt("INDEXER_CONCURRENCY", 8),
		IndexerChunkSize:     getInt("INDEXER_CHUNK_SIZE", 1000),
		IndexerMaxChunkBytes: int64(getInt("INDEXER_MAX_CHUNK_BYTES", 10*1024*1024)),

		IndexShards:          getInt("INDEX_SHARDS", 3),
		IndexReplicas:        getInt("INDEX_REPLICAS", 1),
		IndexRefreshInterval: getenv("INDEX_REFRESH_INTERVAL", "5s"),
		IndexPrefix:          getenv("INDEX_PREFIX", "openaleph"),
		IndexWriteVersion:    getenv("INDEX_WRITE", "v1"),
		IndexReadVersions:    splitList(getenv("INDEX_READ", "")),
		ExpandClauseLimit:    getInt("INDEX_EXPAND_CLAUSE_LIMIT", 1024),
		DeleteByQueryBatch:   getInt("INDEX_DELETE_BY_QUERY_BATCHSIZE", 1000),
		NamespaceIDs:         getBool("INDEX_NAMESPACE_IDS", false),
		NamespaceSecret:      os.Getenv(envPrefix + "NAMESPACE_SECRET"),

		XrefScrollSize:    getInt("XREF_SCROLL_SIZE", 1000),
		XrefScrollTimeout: getDuration("XREF_SCROLL_TIMEOUT", 2*time.Minute),

		Testing:    getBool("TESTING", false),
		Debug:      getBool("DEBUG", false),
		SearchAuth: getBool("SEARCH_AUTH", false),
	}

	if cfg.Testing {
		// Test-mode turns off periodic refresh; writes become visible
		// through the per-request refresh the Ingester applies when
		// ForceRefresh is set (main passes cfg.Testing).
		cfg.IndexRefreshInterval = "-1"
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
