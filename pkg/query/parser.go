// Package query implements the QueryParser and QueryCompiler (spec
// §4.6, §4.7): turning a flat (key,value) parameter list into a typed
// request, then compiling that request into a backend query body.
package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/openaleph/search-core/pkg/model"
)

const MaxPage = 9999

// RangeOp is one of the range-filter operators.
type RangeOp string

const (
	OpGT  RangeOp = "gt"
	OpGTE RangeOp = "gte"
	OpLT  RangeOp = "lt"
	OpLTE RangeOp = "lte"
)

type Filter struct {
	Field    string
	Values   []string
	Exclude  bool
}

type RangeFilter struct {
	Field string
	Op    RangeOp
	Value string
}

type FacetSpec struct {
	Field       string
	Size        int
	Total       bool
	Interval    string // facet_interval, e.g. "year"/"month"/"day"
	Significant bool
}

type Sort struct {
	Field     string
	Ascending bool
}

// Request is the QueryParser's output: a typed, validated representation
// of the incoming parameter list.
type Request struct {
	Text   string
	Prefix string

	Filters      []Filter
	RangeFilters []RangeFilter
	Facets       []FacetSpec
	Sorts        []Sort

	Offset int
	Limit  int

	Highlight     bool
	Dehydrate     bool
	IncludeFields []string
	Synonyms      bool

	MLTMinDocFreq          int
	MLTMinimumShouldMatch  string
	MLTMinTermFreq         int
	MLTMaxQueryTerms       int

	Auth *model.SearchAuth

	// RoutingKey is the unique dataset filter value when exactly one
	// dataset filter was given, else empty.
	RoutingKey string
}

// SkipFilters is the per-query-class set of filter fields the parser
// drops before compilation (spec §4.6: "filters whose field is listed in
// a given query class's SKIP_FILTERS are dropped").
type SkipFilters map[string]bool

// Parse consumes an ordered (key,value) pair list. auth is nil unless the
// caller resolved one; authRequired mirrors the global search_auth flag.
func Parse(pairs [][2]string, skip SkipFilters, auth *model.SearchAuth, authRequired bool) (*Request, error) {
	req := &Request{Limit: 20}
	filterSets := map[string][]string{}
	excludeSets := map[string][]string{}
	rangeOps := map[string]map[RangeOp]string{}
	facets := map[string]*FacetSpec{}

	facetOrder := []string{}

	for _, kv := range pairs {
		key, val := kv[0], kv[1]

		switch {
		case key == "q":
			req.Text = val
		case key == "prefix":
			req.Prefix = val
		case key == "offset":
			req.Offset = atoiOr(val, 0)
		case key == "limit":
			req.Limit = atoiOr(val, 20)
		case key == "highlight":
			req.Highlight = isTruthy(val)
		case key == "dehydrate":
			req.Dehydrate = isTruthy(val)
		case key == "include_fields":
			req.IncludeFields = append(req.IncludeFields, val)
		case key == "synonyms":
			req.Synonyms = isTruthy(val)
		case key == "sort":
			req.Sorts = append(req.Sorts, parseSort(val))
		case key == "facet":
			if facets[val] == nil {
				facets[val] = &FacetSpec{Field: val, Size: 20}
				facetOrder = append(facetOrder, val)
			}
		case key == "mlt_min_doc_freq":
			req.MLTMinDocFreq = atoiOr(val, 0)
		case key == "mlt_minimum_should_match":
			req.MLTMinimumShouldMatch = val
		case key == "mlt_min_term_freq":
			req.MLTMinTermFreq = atoiOr(val, 0)
		case key == "mlt_max_query_terms":
			req.MLTMaxQueryTerms = atoiOr(val, 0)
		case strings.HasPrefix(key, "facet_size:"):
			f := facetField(facets, &facetOrder, key, "facet_size:")
			f.Size = atoiOr(val, 20)
		case strings.HasPrefix(key, "facet_total:"):
			f := facetField(facets, &facetOrder, key, "facet_total:")
			f.Total = isTruthy(val)
		case strings.HasPrefix(key, "facet_interval:"):
			f := facetField(facets, &facetOrder, key, "facet_interval:")
			f.Interval = val
		case strings.HasPrefix(key, "facet_significant:"):
			f := facetField(facets, &facetOrder, key, "facet_significant:")
			f.Significant = isTruthy(val)
		case strings.HasPrefix(key, "exclude:"):
			field := strings.TrimPrefix(key, "exclude:")
			excludeSets[field] = append(excludeSets[field], val)
		case strings.HasPrefix(key, "filter:"):
			rest := strings.TrimPrefix(key, "filter:")
			if op, field, ok := splitRangeOp(rest); ok {
				if rangeOps[field] == nil {
					rangeOps[field] = map[RangeOp]string{}
				}
				rangeOps[field][op] = val
			} else {
				field := rewriteFilterField(rest)
				filterSets[field] = append(filterSets[field], val)
			}
		}
	}

	for field, values := range filterSets {
		if skip[field] {
			continue
		}
		req.Filters = append(req.Filters, Filter{Field: field, Values: dedupe(values)})
	}
	for field, values := range excludeSets {
		if skip[field] {
			continue
		}
		req.Filters = append(req.Filters, Filter{Field: field, Values: dedupe(values), Exclude: true})
	}
	sort.Slice(req.Filters, func(i, j int) bool { return req.Filters[i].Field < req.Filters[j].Field })

	for field, ops := range rangeOps {
		for _, op := range []RangeOp{OpGT, OpGTE, OpLT, OpLTE} {
			if v, ok := ops[op]; ok {
				req.RangeFilters = append(req.RangeFilters, RangeFilter{Field: field, Op: op, Value: v})
			}
		}
	}
	sort.Slice(req.RangeFilters, func(i, j int) bool { return req.RangeFilters[i].Field < req.RangeFilters[j].Field })

	for _, field := range facetOrder {
		req.Facets = append(req.Facets, *facets[field])
	}

	if req.Offset+req.Limit > MaxPage {
		return nil, model.NewErrUsage("offset+limit (%d) exceeds MAX_PAGE (%d)", req.Offset+req.Limit, MaxPage)
	}

	if authRequired && auth == nil {
		return nil, model.NewErrAuth("search_auth is enabled but no auth context was supplied")
	}
	req.Auth = auth

	// routing_key is the unique dataset when exactly one dataset filter
	// value is present across all "dataset" filters, else null.
	for _, f := range req.Filters {
		if f.Field == "dataset" && !f.Exclude && len(f.Values) == 1 {
			req.RoutingKey = f.Values[0]
		}
	}

	return req, nil
}

func facetField(facets map[string]*FacetSpec, order *[]string, key, prefix string) *FacetSpec {
	field := strings.TrimPrefix(key, prefix)
	f, ok := facets[field]
	if !ok {
		f = &FacetSpec{Field: field, Size: 20}
		facets[field] = f
		*order = append(*order, field)
	}
	return f
}

// rewriteFilterField maps a handful of public filter field names onto
// the document field that actually carries them. "names" targets the
// per-name sort+concat fingerprint (name_keys), the field an equality
// filter should match against, rather than the tokenized name_parts
// field used for free-text scoring.
func rewriteFilterField(field string) string {
	switch field {
	case "_id", "id":
		return "_id"
	case "names":
		return "name_keys"
	default:
		return field
	}
}

func splitRangeOp(rest string) (RangeOp, string, bool) {
	for _, op := range []RangeOp{OpGT, OpGTE, OpLT, OpLTE} {
		prefix := string(op) + ":"
		if strings.HasPrefix(rest, prefix) {
			return op, strings.TrimPrefix(rest, prefix), true
		}
	}
	return "", "", false
}

func parseSort(val string) Sort {
	parts := strings.SplitN(val, ":", 2)
	s := Sort{Field: parts[0], Ascending: true}
	if len(parts) == 2 && strings.EqualFold(parts[1], "desc") {
		s.Ascending = false
	}
	return s
}

func atoiOr(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func isTruthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func dedupe(v []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(v))
	for _, s := range v {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
