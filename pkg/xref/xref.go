// Package xref implements the XrefStore (spec §4.9): idempotent storage
// and retrieval of cross-reference match pairs, keyed by a stable hash
// of (entity_id, dataset, match_id) so re-matching the same pair is a
// no-op write rather than a duplicate record.
package xref

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/openaleph/search-core/pkg/esclient"
	"github.com/openaleph/search-core/pkg/model"
)

// Match is one candidate pair surfaced by the Matcher and accepted for
// storage, along with the score/method that produced it.
type Match struct {
	EntityID     string
	Dataset      string
	MatchID      string
	MatchDataset string
	Schema       string
	Score        float64
	Method       string
	CreatedAt    time.Time
}

// record is the document shape written to the xref index.
type record struct {
	EntityID     string    `json:"entity_id"`
	Dataset      string    `json:"dataset"`
	MatchID      string    `json:"match_id"`
	MatchDataset string    `json:"match_dataset"`
	Schema       string    `json:"schema"`
	Score        float64   `json:"score"`
	Method       string    `json:"method"`
	CreatedAt    time.Time `json:"created_at"`
}

// Key returns the stable id a match pair is stored under: a sha1 of
// (entity_id, dataset, match_id), independent of field order and of
// score/method, so reprocessing the same pair overwrites rather than
// duplicates.
func Key(entityID, dataset, matchID string) string {
	h := sha1.New()
	h.Write([]byte(entityID))
	h.Write([]byte{0})
	h.Write([]byte(dataset))
	h.Write([]byte{0})
	h.Write([]byte(matchID))
	return hex.EncodeToString(h.Sum(nil))
}

// Store persists and retrieves match-pair records in the single xref
// index.
type Store struct {
	Pool       *esclient.ConnectionPool
	Index      string
	ScrollSize int
}

func New(pool *esclient.ConnectionPool, index string, scrollSize int) *Store {
	if scrollSize <= 0 {
		scrollSize = 500
	}
	return &Store{Pool: pool, Index: index, ScrollSize: scrollSize}
}

// WriteMatches bulk-writes match pairs idempotently, keyed by Key(...).
// A pair already stored under the same key is overwritten in place
// rather than duplicated.
func (s *Store) WriteMatches(ctx context.Context, matches []Match) error {
	if len(matches) == 0 {
		return nil
	}

	var body bytes.Buffer
	for _, m := range matches {
		id := Key(m.EntityID, m.Dataset, m.MatchID)
		meta, _ := json.Marshal(map[string]interface{}{
			"index": map[string]interface{}{"_id": id, "_index": s.Index},
		})
		body.Write(meta)
		body.WriteByte('\n')

		doc, _ := json.Marshal(record{
			EntityID:     m.EntityID,
			Dataset:      m.Dataset,
			MatchID:      m.MatchID,
			MatchDataset: m.MatchDataset,
			Schema:       m.Schema,
			Score:        m.Score,
			Method:       m.Method,
			CreatedAt:    m.CreatedAt,
		})
		body.Write(doc)
		body.WriteByte('\n')
	}

	res, err := s.Pool.Do(ctx, esclient.RoleIngest, esapi.BulkRequest{
		Body:    bytes.NewReader(body.Bytes()),
		Refresh: "false",
	})
	if err != nil {
		return model.NewErrBackend(true, "xref bulk write: %v", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return model.NewErrBackend(res.StatusCode >= 500, "xref bulk write rejected: %s", res.String())
	}
	return nil
}

// IterMatches scans the xref index for one dataset's outgoing matches
// (or every dataset the given auth context can see, if dataset is
// empty), invoking fn per page of records. It authorizes on
// match_dataset the way the XrefQuery class does (spec §4.7).
func (s *Store) IterMatches(ctx context.Context, dataset string, auth *model.SearchAuth, fn func([]Match) error) error {
	query := s.authorizedQuery(dataset, auth)
	body, _ := json.Marshal(map[string]interface{}{
		"query": query,
		"size":  s.ScrollSize,
		"sort":  []string{"_doc"},
	})

	res, err := s.Pool.Do(ctx, esclient.RoleSearch, esapi.SearchRequest{
		Index:  []string{s.Index},
		Body:   bytes.NewReader(body),
		Scroll: "2m",
	})
	if err != nil {
		return err
	}

	scrollID, page, err := decodeXrefPage(res)
	if err != nil {
		return err
	}
	for len(page) > 0 {
		if err := fn(page); err != nil {
			return err
		}
		if scrollID == "" {
			break
		}
		scrollID, page, err = s.nextPage(ctx, scrollID)
		if err != nil {
			return err
		}
	}
	if scrollID != "" {
		s.clearScroll(ctx, scrollID)
	}
	return nil
}

func (s *Store) authorizedQuery(dataset string, auth *model.SearchAuth) map[string]interface{} {
	var filters []map[string]interface{}
	if dataset != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"dataset": dataset}})
	}
	if auth == nil || !auth.IsAdmin {
		var datasets []interface{}
		if auth != nil {
			for _, d := range auth.Datasets {
				datasets = append(datasets, d)
			}
		}
		filters = append(filters, map[string]interface{}{"terms": map[string]interface{}{"match_dataset": datasets}})
	}
	if len(filters) == 0 {
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}
	return map[string]interface{}{"bool": map[string]interface{}{"filter": filters}}
}

func (s *Store) nextPage(ctx context.Context, scrollID string) (string, []Match, error) {
	body, _ := json.Marshal(map[string]interface{}{"scroll": "2m", "scroll_id": scrollID})
	res, err := s.Pool.Do(ctx, esclient.RoleSearch, esapi.ScrollRequest{Body: bytes.NewReader(body)})
	if err != nil {
		return "", nil, err
	}
	return decodeXrefPage(res)
}

func (s *Store) clearScroll(ctx context.Context, scrollID string) {
	body, _ := json.Marshal(map[string]interface{}{"scroll_id": []string{scrollID}})
	res, err := s.Pool.Do(ctx, esclient.RoleSearch, esapi.ClearScrollRequest{Body: bytes.NewReader(body)})
	if err != nil {
		return
	}
	res.Body.Close()
}

func decodeXrefPage(res *esapi.Response) (string, []Match, error) {
	defer res.Body.Close()
	if res.IsError() {
		return "", nil, fmt.Errorf("xref scan failed: %s", res.String())
	}
	var parsed struct {
		ScrollID string `json:"_scroll_id"`
		Hits     struct {
			Hits []struct {
				Source record `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", nil, err
	}
	matches := make([]Match, len(parsed.Hits.Hits))
	for i, h := range parsed.Hits.Hits {
		r := h.Source
		matches[i] = Match{
			EntityID:     r.EntityID,
			Dataset:      r.Dataset,
			MatchID:      r.MatchID,
			MatchDataset: r.MatchDataset,
			Schema:       r.Schema,
			Score:        r.Score,
			Method:       r.Method,
			CreatedAt:    r.CreatedAt,
		}
	}
	return parsed.ScrollID, matches, nil
}

// DeleteDataset removes every match pair where dataset or match_dataset
// equals the given dataset, via delete_by_query with conflicts=proceed.
func (s *Store) DeleteDataset(ctx context.Context, dataset string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []map[string]interface{}{
					{"term": map[string]interface{}{"dataset": dataset}},
					{"term": map[string]interface{}{"match_dataset": dataset}},
				},
				"minimum_should_match": 1,
			},
		},
	})
	return s.deleteByQuery(ctx, body)
}

// DeleteEntity removes every match pair referencing the given entity id,
// on either side of the pair.
func (s *Store) DeleteEntity(ctx context.Context, entityID string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []map[string]interface{}{
					{"term": map[string]interface{}{"entity_id": entityID}},
					{"term": map[string]interface{}{"match_id": entityID}},
				},
				"minimum_should_match": 1,
			},
		},
	})
	return s.deleteByQuery(ctx, body)
}

func (s *Store) deleteByQuery(ctx context.Context, body []byte) error {
	conflicts := "proceed"
	res, err := s.Pool.Do(ctx, esclient.RoleIngest, esapi.DeleteByQueryRequest{
		Index:     []string{s.Index},
		Body:      bytes.NewReader(body),
		Conflicts: conflicts,
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("xref delete_by_query failed: %s", res.String())
	}
	return nil
}
