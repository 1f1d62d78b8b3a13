// Package match implements the Matcher (spec §4.8): a two-phase blocking
// query followed by a scoring query over the candidates blocking
// surfaces, restricted to the source entity's matchable schemata.
package match

import (
	"context"

	"github.com/openaleph/search-core/pkg/model"
	"github.com/openaleph/search-core/pkg/query"
	"github.com/openaleph/search-core/pkg/topology"
	"github.com/openaleph/search-core/pkg/transform"
)

// strongIDGroups are the group fields blocking searches for an exact
// identifier/contact overlap, per spec §4.8.
var strongIDGroups = []string{"identifiers", "emails", "phones", "checksums"}

// Matcher compiles candidate-matching queries for a source entity's
// already-transformed document.
type Matcher struct {
	Topology *topology.Topology
	Compiler *query.Compiler
}

func New(topo *topology.Topology, compiler *query.Compiler) *Matcher {
	return &Matcher{Topology: topo, Compiler: compiler}
}

// Candidates compiles the MatchQuery body for a source entity: a
// filter-context blocking should-union over name_keys, name_phonetic,
// name_symbols, and strong-id groups, narrowed to schema.MatchableSchemata(),
// excluding the source id itself, then ranked by a query-context scoring
// should-union. An entity with no blocking signal (no names, no strong
// ids) or a non-matchable schema compiles to match_none, per spec §4.8's
// short-circuit.
func (m *Matcher) Candidates(ctx context.Context, req *query.Request, schema model.Schema, source *transform.Document, sourceID string) (*query.Body, error) {
	policy := query.MatchPolicy()
	matchable := schema.MatchableSchemata()

	if len(matchable) == 0 {
		return m.Compiler.CompileMatch(req, policy, matchable, nil, nil, nil)
	}

	blocking := blockingShould(source)
	if len(blocking) == 0 {
		return m.Compiler.CompileMatch(req, policy, matchable, nil, nil, nil)
	}

	scoring := scoringShould(source)
	return m.Compiler.CompileMatch(req, policy, matchable, blocking, scoring, []string{sourceID})
}

// blockingShould builds the filter-context candidate-narrowing clauses:
// any shared name_key, name_phonetic code, name_symbol, or strong-id
// group value is enough to enter the candidate set.
func blockingShould(doc *transform.Document) []map[string]interface{} {
	var should []map[string]interface{}

	should = append(should, termsClauses("name_keys", doc.NameKeys)...)
	should = append(should, termsClauses("name_phonetic", doc.NamePhonetic)...)
	should = append(should, termsClauses("name_symbols", doc.NameSymbols)...)
	for _, group := range strongIDGroups {
		should = append(should, termsClauses(group, doc.Groups[group])...)
	}

	return should
}

// scoringShould builds the query-context ranking clauses: boosted match
// clauses so entities sharing more and stronger signals rank higher.
func scoringShould(doc *transform.Document) []map[string]interface{} {
	var should []map[string]interface{}

	if len(doc.Names) > 0 {
		should = append(should, map[string]interface{}{
			"terms": map[string]interface{}{"name_keys": toAny(doc.NameKeys), "boost": 3},
		})
	}
	if len(doc.NamePhonetic) > 0 {
		should = append(should, map[string]interface{}{
			"terms": map[string]interface{}{"name_phonetic": toAny(doc.NamePhonetic), "boost": 1},
		})
	}
	for _, group := range strongIDGroups {
		values := doc.Groups[group]
		if len(values) == 0 {
			continue
		}
		should = append(should, map[string]interface{}{
			"terms": map[string]interface{}{group: toAny(values), "boost": 5},
		})
	}
	for _, g := range []string{"countries", "addresses"} {
		values := doc.Groups[g]
		if len(values) == 0 {
			continue
		}
		should = append(should, map[string]interface{}{
			"terms": map[string]interface{}{g: toAny(values), "boost": 0.5},
		})
	}

	return should
}

func termsClauses(field string, values []string) []map[string]interface{} {
	if len(values) == 0 {
		return nil
	}
	return []map[string]interface{}{
		{"terms": map[string]interface{}{field: toAny(values)}},
	}
}

func toAny(v []string) []interface{} {
	out := make([]interface{}, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}
