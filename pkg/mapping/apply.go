package mapping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/openaleph/search-core/pkg/esclient"
)

// Apply reconciles the live mapping/settings of an index with the
// pending ones, creating the index if it does not exist, or performing a
// merge-safe close/put-settings/put-mapping/reopen cycle only when real
// drift is detected (spec §4.1, §8 idempotence property).
func Apply(ctx context.Context, pool *esclient.ConnectionPool, index string, settings, pendingMapping map[string]interface{}) error {
	exists, err := indexExists(ctx, pool, index)
	if err != nil {
		return err
	}
	if !exists {
		return createIndex(ctx, pool, index, settings, pendingMapping)
	}

	live, err := currentMapping(ctx, pool, index)
	if err != nil {
		return err
	}

	if !Changed(live, pendingMapping) {
		slog.InfoContext(ctx, "mapping already up to date, no close/reopen needed", "index", index)
		return nil
	}

	merged := Merge(live, pendingMapping)

	if err := closeIndex(ctx, pool, index); err != nil {
		return err
	}
	defer func() {
		if err := openIndex(ctx, pool, index); err != nil {
			slog.ErrorContext(ctx, "failed to reopen index after mapping update", "index", index, "error", err)
		}
	}()

	if err := putSettings(ctx, pool, index, settings); err != nil {
		return err
	}
	return putMapping(ctx, pool, index, merged)
}

func indexExists(ctx context.Context, pool *esclient.ConnectionPool, index string) (bool, error) {
	res, err := pool.Do(ctx, esclient.RoleIngest, esapi.IndicesExistsRequest{Index: []string{index}})
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

func createIndex(ctx context.Context, pool *esclient.ConnectionPool, index string, settings, mappingBody map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"settings": settings,
		"mappings": mappingBody,
	})
	if err != nil {
		return err
	}
	res, err := pool.Do(ctx, esclient.RoleIngest, esapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(body),
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", index, res.String())
	}
	slog.InfoContext(ctx, "created index", "index", index)
	return nil
}

func currentMapping(ctx context.Context, pool *esclient.ConnectionPool, index string) (map[string]interface{}, error) {
	res, err := pool.Do(ctx, esclient.RoleSearch, esapi.IndicesGetMappingRequest{Index: []string{index}})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("get mapping %s: %s", index, res.String())
	}

	var full map[string]struct {
		Mappings map[string]interface{} `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&full); err != nil {
		return nil, err
	}
	entry, ok := full[index]
	if !ok {
		return map[string]interface{}{}, nil
	}
	return entry.Mappings, nil
}

func closeIndex(ctx context.Context, pool *esclient.ConnectionPool, index string) error {
	res, err := pool.Do(ctx, esclient.RoleIngest, esapi.IndicesCloseRequest{Index: []string{index}})
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("close index %s: %s", index, res.String())
	}
	return nil
}

func openIndex(ctx context.Context, pool *esclient.ConnectionPool, index string) error {
	res, err := pool.Do(ctx, esclient.RoleIngest, esapi.IndicesOpenRequest{Index: []string{index}})
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("open index %s: %s", index, res.String())
	}
	return nil
}

func putSettings(ctx context.Context, pool *esclient.ConnectionPool, index string, settings map[string]interface{}) error {
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

func putMapping(ctx context.Context, pool *esclient.ConnectionPool, index string, mappingBody map[string]interface{}) error {
	body, err := json.Marshal(mappingBody)
	if err != nil {
		return err
	}
	res, err := pool.Do(ctx, esclient.RoleIngest, esapi.IndicesPutMappingRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("put mapping %s: %s", index, res.String())
	}
	return nil
}
