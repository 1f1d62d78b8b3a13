package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang/geo/s2"

	"github.com/openaleph/search-core/pkg/model"
	"github.com/openaleph/search-core/pkg/topology"
)

// Body is the compiled backend request: the JSON-shaped query plus the
// resolved target index and any source-filtering instructions.
type Body struct {
	Index  string
	Source map[string]interface{}
}

// Compiler assembles backend query bodies from a parsed Request plus a
// Policy, per spec §4.7.
type Compiler struct {
	Topology *topology.Topology
}

func NewCompiler(topo *topology.Topology) *Compiler {
	return &Compiler{Topology: topo}
}

// CompileEntities builds the default entities-query body.
func (c *Compiler) CompileEntities(req *Request, policy Policy, schemaFilter []string, expand bool) (*Body, error) {
	index, err := c.resolveIndex(req, schemaFilter, expand)
	if err != nil {
		return nil, err
	}

	boolQuery := c.baseBool(req, policy)
	c.injectAuth(boolQuery, req, policy)

	body := map[string]interface{}{
		"query": wrapFunctionScore(map[string]interface{}{"bool": boolQuery}, policy.FunctionScore),
	}
	c.applyPaging(body, req)
	c.applySort(body, req, policy)
	c.applySource(body, req, policy)
	c.applyFacets(body, req, boolQuery)
	c.applyHighlight(body, req, policy)

	return &Body{Index: index, Source: body}, nil
}

// CompileMatch builds MatchQuery: the blocking should-union sits in
// filter context (does not affect score, narrows the candidate set),
// the scoring should-union sits in query context (ranks what survives
// blocking), restricted to matchable schemata, excluding the given ids.
// A nil blockingShould means the caller already determined there is no
// blocking signal; the compiler then returns a match_none body.
func (c *Compiler) CompileMatch(req *Request, policy Policy, matchableSchemata []string, blockingShould, scoringShould []map[string]interface{}, excludeIDs []string) (*Body, error) {
	index, err := c.resolveIndex(req, matchableSchemata, false)
	if err != nil {
		return nil, err
	}

	if len(blockingShould) == 0 {
		body := map[string]interface{}{
			"query": map[string]interface{}{"match_none": map[string]interface{}{}},
			"from":  0,
			"size":  0,
		}
		return &Body{Index: index, Source: body}, nil
	}

	boolQuery := c.baseBool(req, policy)
	c.injectAuth(boolQuery, req, policy)
	boolQuery["filter"] = append(toSlice(boolQuery["filter"]), map[string]interface{}{
		"bool": map[string]interface{}{
			"should":               blockingShould,
			"minimum_should_match": 1,
		},
	})
	boolQuery["filter"] = append(toSlice(boolQuery["filter"]), map[string]interface{}{
		"terms": map[string]interface{}{"schema": toAny(matchableSchemata)},
	})
	if len(scoringShould) > 0 {
		boolQuery["should"] = append(toSlice(boolQuery["should"]), scoringShould...)
		boolQuery["minimum_should_match"] = 1
	}
	if len(excludeIDs) > 0 {
		boolQuery["must_not"] = append(toSlice(boolQuery["must_not"]), map[string]interface{}{
			"ids": map[string]interface{}{"values": excludeIDs},
		})
	}

	body := map[string]interface{}{"query": map[string]interface{}{"bool": boolQuery}}
	c.applyPaging(body, req)
	c.applySource(body, req, policy)

	return &Body{Index: index, Source: body}, nil
}

// CompileGeoDistance builds GeoDistanceQuery: requires a source lat/lon,
// excludes the source id, requires geo_point presence, sorts by
// distance.
func (c *Compiler) CompileGeoDistance(req *Request, policy Policy, schemaFilter []string, lat, lon float64, excludeID string) (*Body, error) {
	if !s2.LatLngFromDegrees(lat, lon).IsValid() {
		return nil, model.NewErrValidation("invalid geo coordinates (%g, %g)", lat, lon)
	}

	index, err := c.resolveIndex(req, schemaFilter, false)
	if err != nil {
		return nil, err
	}

	boolQuery := c.baseBool(req, policy)
	c.injectAuth(boolQuery, req, policy)
	boolQuery["must"] = append(toSlice(boolQuery["must"]), map[string]interface{}{
		"exists": map[string]interface{}{"field": "geo_point"},
	})
	if excludeID != "" {
		boolQuery["must_not"] = append(toSlice(boolQuery["must_not"]), map[string]interface{}{
			"ids": map[string]interface{}{"values": []string{excludeID}},
		})
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort": []map[string]interface{}{
			{
				"_geo_distance": map[string]interface{}{
					"geo_point":     map[string]interface{}{"lat": lat, "lon": lon},
					"order":         "asc",
					"unit":          "km",
					"distance_type": "plane",
					"mode":          "min",
				},
			},
		},
	}
	c.applyPaging(body, req)
	c.applySource(body, req, policy)

	return &Body{Index: index, Source: body}, nil
}

// CompileXref builds XrefQuery: authorizes on match_dataset, default
// sort score desc, and applies the score>0.5 cutoff unless sorting by
// random or doubt.
func (c *Compiler) CompileXref(req *Request, policy Policy, xrefIndex string) (*Body, error) {
	boolQuery := c.baseBool(req, policy)
	c.injectAuth(boolQuery, req, policy)

	sortByRandomOrDoubt := false
	for _, s := range req.Sorts {
		if s.Field == "random" || s.Field == "doubt" {
			sortByRandomOrDoubt = true
		}
	}
	if !sortByRandomOrDoubt {
		boolQuery["filter"] = append(toSlice(boolQuery["filter"]), map[string]interface{}{
			"range": map[string]interface{}{"score": map[string]interface{}{"gt": 0.5}},
		})
	}

	body := map[string]interface{}{"query": map[string]interface{}{"bool": boolQuery}}
	c.applyPaging(body, req)

	sorts := req.Sorts
	if len(sorts) == 0 {
		sorts = policy.SortDefault
	}
	sortClauses := make([]map[string]interface{}, 0, len(sorts))
	for _, s := range sorts {
		order := "asc"
		if !s.Ascending {
			order = "desc"
		}
		sortClauses = append(sortClauses, map[string]interface{}{s.Field: map[string]interface{}{"order": order}})
	}
	body["sort"] = sortClauses

	return &Body{Index: xrefIndex, Source: body}, nil
}

// CompileMLT builds MoreLikeThisQuery against content and name^2,
// restricted to document/page buckets, excluding the source id and
// child Page documents.
func (c *Compiler) CompileMLT(req *Request, policy Policy, sourceID string, minDocFreq, minTermFreq, maxQueryTerms int, minimumShouldMatch string) (*Body, error) {
	index, err := c.Topology.EntitiesReadIndex([]string{"Document", "Pages"}, true)
	if err != nil {
		return nil, err
	}

	mlt := map[string]interface{}{
		"fields": []string{"content", "name^2"},
		"like":   []map[string]interface{}{{"_id": sourceID}},
	}
	if minDocFreq > 0 {
		mlt["min_doc_freq"] = minDocFreq
	}
	if minTermFreq > 0 {
		mlt["min_term_freq"] = minTermFreq
	}
	if maxQueryTerms > 0 {
		mlt["max_query_terms"] = maxQueryTerms
	}
	if minimumShouldMatch != "" {
		mlt["minimum_should_match"] = minimumShouldMatch
	}

	boolQuery := map[string]interface{}{
		"must": []map[string]interface{}{{"more_like_this": mlt}},
		"must_not": []map[string]interface{}{
			{"ids": map[string]interface{}{"values": []string{sourceID}}},
			{"term": map[string]interface{}{"schema": "Page"}},
		},
	}
	c.injectAuth(boolQuery, req, policy)

	body := map[string]interface{}{"query": map[string]interface{}{"bool": boolQuery}}
	c.applyPaging(body, req)
	c.applySource(body, req, policy)

	return &Body{Index: index, Source: body}, nil
}

// --- shared helpers -------------------------------------------------

func (c *Compiler) resolveIndex(req *Request, schemaFilter []string, expand bool) (string, error) {
	schemata := schemaFilter
	for _, f := range req.Filters {
		if f.Exclude {
			continue
		}
		switch f.Field {
		case "schema":
			schemata = f.Values
			expand = false
		case "schemata":
			schemata = f.Values
			expand = true
		}
	}
	return c.Topology.EntitiesReadIndex(schemata, expand)
}

// baseBool builds the bool skeleton plus text/prefix subquery and
// filter/post-filter placement (everything except auth injection).
func (c *Compiler) baseBool(req *Request, policy Policy) map[string]interface{} {
	boolQuery := map[string]interface{}{}
	must := []map[string]interface{}{}

	switch {
	case req.Text == "" && req.Prefix == "":
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	case req.Text != "":
		must = append(must, map[string]interface{}{
			"query_string": map[string]interface{}{
				"query":                req.Text,
				"fields":               policy.TextFields,
				"default_operator":     "AND",
				"lenient":              true,
				"minimum_should_match": "66%",
			},
		})
	}
	if req.Prefix != "" {
		field := policy.PrefixField
		if field == "" {
			field = "name_parts"
		}
		must = append(must, map[string]interface{}{
			"prefix": map[string]interface{}{field: req.Prefix},
		})
	}

	if req.Synonyms && isNameQuery(req) {
		should := synonymShould(req.Text)
		if len(should) > 0 {
			boolQuery["should"] = should
			boolQuery["minimum_should_match"] = 0
		}
	}

	boolQuery["must"] = must

	facetFields := map[string]bool{}
	for _, f := range req.Facets {
		facetFields[f.Field] = true
	}

	var filters, postFilters, mustNot []map[string]interface{}
	for _, f := range req.Filters {
		clause := filterClause(f)
		switch {
		case f.Exclude:
			mustNot = append(mustNot, clause)
		case facetFields[f.Field]:
			postFilters = append(postFilters, clause)
		default:
			filters = append(filters, clause)
		}
	}
	for _, rf := range req.RangeFilters {
		filters = append(filters, rangeClause(rf))
	}

	boolQuery["filter"] = filters
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}
	if len(postFilters) > 0 {
		// spec keeps post-filters out of the scoring/facet-affecting
		// bool and applies them as the request's top-level post_filter;
		// the caller (applyFacets) wires req["post_filter"] once facets
		// are attached, so stash them on a side channel here.
		boolQuery["__post_filter__"] = postFilters
	}

	return boolQuery
}

func filterClause(f Filter) map[string]interface{} {
	if f.Field == "_id" {
		return map[string]interface{}{"ids": map[string]interface{}{"values": f.Values}}
	}
	if len(f.Values) == 1 {
		return map[string]interface{}{"term": map[string]interface{}{f.Field: f.Values[0]}}
	}
	return map[string]interface{}{"terms": map[string]interface{}{f.Field: toAny(f.Values)}}
}

func rangeClause(rf RangeFilter) map[string]interface{} {
	return map[string]interface{}{
		"range": map[string]interface{}{
			rf.Field: map[string]interface{}{string(rf.Op): rf.Value},
		},
	}
}

func (c *Compiler) injectAuth(boolQuery map[string]interface{}, req *Request, policy Policy) {
	if req.Auth != nil && req.Auth.IsAdmin {
		return
	}
	authzField := policy.AuthzField
	if authzField == "" {
		authzField = "dataset"
	}

	var datasets []string
	if req.Auth != nil {
		datasets = req.Auth.Datasets
	}

	var clause map[string]interface{}
	if len(datasets) == 0 {
		clause = map[string]interface{}{"match_none": map[string]interface{}{}}
	} else {
		clause = map[string]interface{}{"terms": map[string]interface{}{authzField: toAny(datasets)}}
	}
	boolQuery["filter"] = append(toSlice(boolQuery["filter"]), clause)
}

func (c *Compiler) applyPaging(body map[string]interface{}, req *Request) {
	body["from"] = req.Offset
	body["size"] = req.Limit
}

func (c *Compiler) applySort(body map[string]interface{}, req *Request, policy Policy) {
	sorts := req.Sorts
	if len(sorts) == 0 {
		sorts = policy.SortDefault
	}
	clauses := make([]interface{}, 0, len(sorts)+1)
	for _, s := range sorts {
		order := "asc"
		if !s.Ascending {
			order = "desc"
		}
		if strings.HasPrefix(s.Field, "numeric.") {
			clauses = append(clauses, map[string]interface{}{
				s.Field: map[string]interface{}{
					"order":         order,
					"missing":       "_last",
					"unmapped_type": "double",
					"mode":          "min",
				},
			})
			continue
		}
		clauses = append(clauses, map[string]interface{}{s.Field: map[string]interface{}{"order": order}})
	}
	clauses = append(clauses, "_score")
	body["sort"] = clauses
}

func (c *Compiler) applySource(body map[string]interface{}, req *Request, policy Policy) {
	includes := append([]string{}, policy.SourceIncludes...)
	if req.Dehydrate {
		filtered := includes[:0]
		for _, inc := range includes {
			if inc != "properties.*" && inc != "text" {
				filtered = append(filtered, inc)
			}
		}
		includes = filtered
		includes = append(includes, req.IncludeFields...)
	}
	sort.Strings(includes)
	body["_source"] = map[string]interface{}{"includes": includes}
}

func (c *Compiler) applyFacets(body map[string]interface{}, req *Request, boolQuery map[string]interface{}) {
	postFilters, _ := boolQuery["__post_filter__"].([]map[string]interface{})
	delete(boolQuery, "__post_filter__")
	if len(postFilters) > 0 {
		body["post_filter"] = map[string]interface{}{"bool": map[string]interface{}{"filter": postFilters}}
	}

	if len(req.Facets) == 0 {
		return
	}
	aggs := map[string]interface{}{}
	for _, f := range req.Facets {
		aggName := f.Field
		switch {
		case f.Interval != "":
			aggs[aggName] = map[string]interface{}{
				"date_histogram": map[string]interface{}{
					"field":            fmt.Sprintf("%s.values", f.Field),
					"calendar_interval": f.Interval,
				},
			}
		case f.Significant:
			aggs[aggName] = map[string]interface{}{
				"significant_terms": map[string]interface{}{
					"field": fmt.Sprintf("%s.values", f.Field),
					"background_filter": map[string]interface{}{"bool": boolQuery},
				},
			}
		default:
			terms := map[string]interface{}{
				"field": fmt.Sprintf("%s.values", f.Field),
				"size":  f.Size,
			}
			agg := map[string]interface{}{"terms": terms}
			if f.Total {
				agg = map[string]interface{}{
					"terms": terms,
					"aggs": map[string]interface{}{
						"total": map[string]interface{}{"cardinality": map[string]interface{}{"field": fmt.Sprintf("%s.values", f.Field)}},
					},
				}
			}
			aggs[aggName] = agg
		}
	}
	body["aggs"] = aggs
}

func (c *Compiler) applyHighlight(body map[string]interface{}, req *Request, policy Policy) {
	if !req.Highlight {
		return
	}
	fields := map[string]interface{}{
		"text": map[string]interface{}{
			"type":               "plain",
			"fragment_size":      150,
			"number_of_fragments": 1,
		},
		"content": map[string]interface{}{
			"type":                "plain",
			"fragment_size":       400,
			"number_of_fragments": 3,
		},
		"translation": map[string]interface{}{
			"type":                "plain",
			"fragment_size":       400,
			"number_of_fragments": 3,
		},
		"names": map[string]interface{}{
			"type":                "plain",
			"number_of_fragments": 3,
			"pre_tags":            []string{""},
			"post_tags":           []string{""},
		},
	}
	body["highlight"] = map[string]interface{}{
		"require_field_match": false,
		"fields":              fields,
	}
}

func wrapFunctionScore(query map[string]interface{}, enabled bool) map[string]interface{} {
	if !enabled {
		return query
	}
	return map[string]interface{}{
		"function_score": map[string]interface{}{
			"query": query,
			"functions": []map[string]interface{}{
				{
					"field_value_factor": map[string]interface{}{
						"field":    "num_values",
						"factor":   0.5,
						"modifier": "sqrt",
					},
				},
			},
			"boost_mode": "sum",
		},
	}
}

func isNameQuery(req *Request) bool {
	for _, f := range req.Filters {
		if f.Field == "name_keys" || f.Field == "names" {
			return true
		}
	}
	return req.Text != ""
}

// synonymShould expands a query string into a should clause against
// name_symbols (exact term equality) and a sliding-window n-gram
// concatenation of sorted query tokens against name_keys (spec §4.7).
func synonymShould(text string) []map[string]interface{} {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return nil
	}
	sorted := append([]string{}, tokens...)
	sort.Strings(sorted)

	var should []map[string]interface{}
	should = append(should, map[string]interface{}{
		"term": map[string]interface{}{"name_symbols": strings.Join(sorted, "-")},
	})

	for window := 2; window <= len(sorted); window++ {
		for i := 0; i+window <= len(sorted); i++ {
			gram := strings.Join(sorted[i:i+window], "-")
			should = append(should, map[string]interface{}{
				"term": map[string]interface{}{"name_keys": gram},
			})
		}
	}
	return should
}

func toSlice(v interface{}) []map[string]interface{} {
	if v == nil {
		return nil
	}
	s, _ := v.([]map[string]interface{})
	return s
}

func toAny(v []string) []interface{} {
	out := make([]interface{}, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}
