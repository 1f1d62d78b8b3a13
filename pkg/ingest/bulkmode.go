package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/openaleph/search-core/pkg/esclient"
)

// restoreSettings are the settings bulk mode overrides, captured so they
// can be put back verbatim on exit.
type restoreSettings struct {
	RefreshInterval     string
	TranslogDurability  string
	NumberOfReplicas    string
}

// BulkMode temporarily relaxes refresh/translog/replica settings across a
// set of indexes for faster bulk loads, guaranteeing restoration of the
// prior settings on every exit path — including a panic or context
// cancellation inside fn (spec §4.4, tested by scenario 6 in §8).
func BulkMode(ctx context.Context, pool *esclient.ConnectionPool, indexes []string, fn func(context.Context) error) (err error) {
	if perr := pool.Ping(ctx); perr != nil {
		return fmt.Errorf("backend not reachable before entering bulk mode: %w", perr)
	}

	prior := make(map[string]restoreSettings, len(indexes))
	defer func() {
		// Restore even when ctx was cancelled; indexes whose bulk settings
		// were never read are not in prior and are left untouched.
		rctx := context.WithoutCancel(ctx)
		for idx, s := range prior {
			if rerr := restore(rctx, pool, idx, s); rerr != nil {
				slog.ErrorContext(rctx, "failed to restore settings after bulk mode", "index", idx, "error", rerr)
			}
		}
	}()

	for _, idx := range indexes {
		s, gerr := getSettings(ctx, pool, idx)
		if gerr != nil {
			return fmt.Errorf("read settings for %s before entering bulk mode: %w", idx, gerr)
		}
		prior[idx] = s
		if perr := putBulkSettings(ctx, pool, idx); perr != nil {
			return fmt.Errorf("enter bulk mode for %s: %w", idx, perr)
		}
	}

	return fn(ctx)
}

func getSettings(ctx context.Context, pool *esclient.ConnectionPool, index string) (restoreSettings, error) {
	res, err := pool.Do(ctx, esclient.RoleSearch, esapi.IndicesGetSettingsRequest{Index: []string{index}})
	if err != nil {
		return restoreSettings{}, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return restoreSettings{}, fmt.Errorf("get settings %s: %s", index, res.String())
	}

	var full map[string]struct {
		Settings struct {
			Index struct {
				RefreshInterval  string `json:"refresh_interval"`
				NumberOfReplicas string `json:"number_of_replicas"`
				Translog         struct {
					Durability string `json:"durability"`
				} `json:"translog"`
			} `json:"index"`
		} `json:"settings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&full); err != nil {
		return restoreSettings{}, err
	}
	entry := full[index]
	return restoreSettings{
		RefreshInterval:    firstNonEmpty(entry.Settings.Index.RefreshInterval, "1s"),
		TranslogDurability: firstNonEmpty(entry.Settings.Index.Translog.Durability, "request"),
		NumberOfReplicas:   firstNonEmpty(entry.Settings.Index.NumberOfReplicas, "1"),
	}, nil
}

func putBulkSettings(ctx context.Context, pool *esclient.ConnectionPool, index string) error {
	return applySettings(ctx, pool, index, map[string]interface{}{
		"index": map[string]interface{}{
			"refresh_interval": "300s",
			"number_of_replicas": 0,
			"translog": map[string]interface{}{
				"durability":    "async",
				"sync_interval": "30s",
			},
		},
	})
}

func restore(ctx context.Context, pool *esclient.ConnectionPool, index string, s restoreSettings) error {
	return applySettings(ctx, pool, index, map[string]interface{}{
		"index": map[string]interface{}{
			"refresh_interval":    s.RefreshInterval,
			"number_of_replicas":  s.NumberOfReplicas,
			"translog": map[string]interface{}{
				"durability": s.TranslogDurability,
			},
		},
	})
}

func applySettings(ctx context.Context, pool *esclient.ConnectionPool, index string, settings map[string]interface{}) error {
	body, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	res, err := pool.Do(ctx, esclient.RoleIngest, esapi.IndicesPutSettingsRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("put settings %s: %s", index, res.String())
	}
	return nil
}

func firstNonEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
