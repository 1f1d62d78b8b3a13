package query

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/search-core/pkg/model"
	"github.com/openaleph/search-core/pkg/topology"
)

type fakeSchema struct {
	name     string
	abstract bool
	names    []string
}

func (s *fakeSchema) Name() string                          { return s.name }
func (s *fakeSchema) Abstract() bool                         { return s.abstract }
func (s *fakeSchema) Names() []string                        { return s.names }
func (s *fakeSchema) Descendants() []string                  { return nil }
func (s *fakeSchema) Properties() map[string]model.Property  { return nil }
func (s *fakeSchema) CaptionProperties() []string             { return nil }
func (s *fakeSchema) MatchableSchemata() []string             { return nil }

func (s *fakeSchema) IsA(name string) bool {
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

type fakeRegistry struct {
	schemata map[string]*fakeSchema
}

func (r *fakeRegistry) Schema(name string) (model.Schema, error) {
	s, ok := r.schemata[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return s, nil
}

func (r *fakeRegistry) Schemata() map[string]model.Schema {
	out := make(map[string]model.Schema, len(r.schemata))
	for k, v := range r.schemata {
		out[k] = v
	}
	return out
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{schemata: map[string]*fakeSchema{
		"Thing":    {name: "Thing", names: []string{"Thing"}},
		"Person":   {name: "Person", names: []string{"Person", "LegalEntity", "Thing"}},
		"Document": {name: "Document", names: []string{"Document", "Thing"}},
		"Pages":    {name: "Pages", names: []string{"Pages", "Document", "Thing"}},
	}}
}

func newTestCompiler() *Compiler {
	topo := topology.New(newFakeRegistry(), "test", "v1", nil)
	return NewCompiler(topo)
}

func TestCompileEntitiesMatchAllWithoutQuery(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse(nil, nil, &model.SearchAuth{IsAdmin: true}, false)
	require.NoError(t, err)

	body, err := c.CompileEntities(req, EntitiesPolicy(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, "test-entity-things-*", body.Index)

	fs := body.Source["query"].(map[string]interface{})["function_score"].(map[string]interface{})
	inner := fs["query"].(map[string]interface{})["bool"].(map[string]interface{})
	must := inner["must"].([]map[string]interface{})
	require.Len(t, must, 1)
	assert.Contains(t, must[0], "match_all")
}

func TestCompileEntitiesAuthMatchNoneWithoutDatasets(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse(nil, nil, &model.SearchAuth{}, true)
	require.NoError(t, err)

	body, err := c.CompileEntities(req, EntitiesPolicy(), nil, false)
	require.NoError(t, err)
	fs := body.Source["query"].(map[string]interface{})["function_score"].(map[string]interface{})
	inner := fs["query"].(map[string]interface{})["bool"].(map[string]interface{})
	filters := inner["filter"].([]map[string]interface{})
	var sawMatchNone bool
	for _, f := range filters {
		if _, ok := f["match_none"]; ok {
			sawMatchNone = true
		}
	}
	assert.True(t, sawMatchNone)
}

func TestCompileEntitiesAdminSkipsAuthFilter(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse(nil, nil, &model.SearchAuth{IsAdmin: true}, true)
	require.NoError(t, err)

	body, err := c.CompileEntities(req, EntitiesPolicy(), nil, false)
	require.NoError(t, err)
	fs := body.Source["query"].(map[string]interface{})["function_score"].(map[string]interface{})
	inner := fs["query"].(map[string]interface{})["bool"].(map[string]interface{})
	assert.Empty(t, inner["filter"])
}

func TestCompileEntitiesPostFilterSeparatedFromFacetFilter(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse([][2]string{
		{"facet", "schema"},
		{"filter:schema", "Person"},
	}, nil, &model.SearchAuth{IsAdmin: true}, false)
	require.NoError(t, err)

	body, err := c.CompileEntities(req, EntitiesPolicy(), nil, false)
	require.NoError(t, err)
	assert.Contains(t, body.Source, "post_filter")
	fs := body.Source["query"].(map[string]interface{})["function_score"].(map[string]interface{})
	inner := fs["query"].(map[string]interface{})["bool"].(map[string]interface{})
	assert.Empty(t, inner["filter"])
}

func TestCompileEntitiesSchemaFilterOverridesIndex(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse([][2]string{{"filter:schema", "Document"}}, nil, &model.SearchAuth{IsAdmin: true}, false)
	require.NoError(t, err)

	body, err := c.CompileEntities(req, EntitiesPolicy(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, "test-entity-documents-*", body.Index)
}

func TestCompileMatchShortCircuitsOnNoBlockingSignal(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse(nil, nil, &model.SearchAuth{IsAdmin: true}, false)
	require.NoError(t, err)

	body, err := c.CompileMatch(req, MatchPolicy(), []string{"Person"}, nil, nil, nil)
	require.NoError(t, err)
	q := body.Source["query"].(map[string]interface{})
	assert.Contains(t, q, "match_none")
	assert.Equal(t, 0, body.Source["size"])
}

func TestCompileMatchBlockingIsFilterContext(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse(nil, nil, &model.SearchAuth{IsAdmin: true}, false)
	require.NoError(t, err)

	blocking := []map[string]interface{}{{"terms": map[string]interface{}{"name_keys": []interface{}{"putin-vladimir"}}}}
	scoring := []map[string]interface{}{{"terms": map[string]interface{}{"name_keys": []interface{}{"putin-vladimir"}, "boost": 3}}}
	body, err := c.CompileMatch(req, MatchPolicy(), []string{"Person"}, blocking, scoring, []string{"src-id"})
	require.NoError(t, err)

	inner := body.Source["query"].(map[string]interface{})["bool"].(map[string]interface{})
	filters := inner["filter"].([]map[string]interface{})
	var sawBlockingFilter bool
	for _, f := range filters {
		if b, ok := f["bool"].(map[string]interface{}); ok {
			if _, ok := b["should"]; ok {
				sawBlockingFilter = true
			}
		}
	}
	assert.True(t, sawBlockingFilter)

	var sawSchemaFilter bool
	for _, f := range filters {
		if terms, ok := f["terms"].(map[string]interface{}); ok {
			if schemata, ok := terms["schema"]; ok {
				assert.Equal(t, []interface{}{"Person"}, schemata)
				sawSchemaFilter = true
			}
		}
	}
	assert.True(t, sawSchemaFilter, "expected a schema terms filter restricting candidates to matchable schemata")

	assert.NotEmpty(t, inner["should"])
	mustNot := inner["must_not"].([]map[string]interface{})
	require.Len(t, mustNot, 1)
	assert.Equal(t, []string{"src-id"}, mustNot[0]["ids"].(map[string]interface{})["values"])
}

func TestCompileGeoDistanceSortsByDistance(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse(nil, nil, &model.SearchAuth{IsAdmin: true}, false)
	require.NoError(t, err)

	body, err := c.CompileGeoDistance(req, GeoDistancePolicy(), nil, 1.0, 2.0, "src-id")
	require.NoError(t, err)
	sorts := body.Source["sort"].([]map[string]interface{})
	require.Len(t, sorts, 1)
	assert.Contains(t, sorts[0], "_geo_distance")
}

func TestCompileGeoDistanceRejectsInvalidCoordinates(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse(nil, nil, &model.SearchAuth{IsAdmin: true}, false)
	require.NoError(t, err)

	_, err = c.CompileGeoDistance(req, GeoDistancePolicy(), nil, 200.0, 2.0, "src-id")
	assert.True(t, model.IsValidationError(err))
}

func TestCompileXrefAppliesScoreCutoffByDefault(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse(nil, nil, &model.SearchAuth{IsAdmin: true}, false)
	require.NoError(t, err)

	body, err := c.CompileXref(req, XrefPolicy(), "test-xref-v1")
	require.NoError(t, err)
	inner := body.Source["query"].(map[string]interface{})["bool"].(map[string]interface{})
	filters := inner["filter"].([]map[string]interface{})
	var sawCutoff bool
	for _, f := range filters {
		if r, ok := f["range"].(map[string]interface{}); ok {
			if _, ok := r["score"]; ok {
				sawCutoff = true
			}
		}
	}
	assert.True(t, sawCutoff)
}

func TestCompileXrefSkipsCutoffWhenSortingByDoubt(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse([][2]string{{"sort", "doubt"}}, nil, &model.SearchAuth{IsAdmin: true}, false)
	require.NoError(t, err)

	body, err := c.CompileXref(req, XrefPolicy(), "test-xref-v1")
	require.NoError(t, err)
	inner := body.Source["query"].(map[string]interface{})["bool"].(map[string]interface{})
	filters := inner["filter"].([]map[string]interface{})
	for _, f := range filters {
		if r, ok := f["range"].(map[string]interface{}); ok {
			_, hasScore := r["score"]
			assert.False(t, hasScore)
		}
	}
}

func TestCompileMLTExcludesSourceAndPages(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse(nil, nil, &model.SearchAuth{IsAdmin: true}, false)
	require.NoError(t, err)

	body, err := c.CompileMLT(req, MLTPolicy(), "src-id", 0, 0, 0, "")
	require.NoError(t, err)
	inner := body.Source["query"].(map[string]interface{})["bool"].(map[string]interface{})
	mustNot := inner["must_not"].([]map[string]interface{})
	require.Len(t, mustNot, 2)
}

func TestApplySortNumericFieldUsesUnmappedType(t *testing.T) {
	c := newTestCompiler()
	req, err := Parse([][2]string{{"sort", "numeric.amount:desc"}}, nil, &model.SearchAuth{IsAdmin: true}, false)
	require.NoError(t, err)

	body, err := c.CompileEntities(req, EntitiesPolicy(), nil, false)
	require.NoError(t, err)
	sorts := body.Source["sort"].([]interface{})
	first := sorts[0].(map[string]interface{})["numeric.amount"].(map[string]interface{})
	assert.Equal(t, "double", first["unmapped_type"])
}

func TestSynonymShouldGeneratesNGrams(t *testing.T) {
	should := synonymShould("Vladimir Putin")
	assert.NotEmpty(t, should)
}

func TestSynonymShouldEmptyForBlankText(t *testing.T) {
	assert.Empty(t, synonymShould(""))
}

func TestIsNameQueryDetectsRewrittenNamesFilter(t *testing.T) {
	req := &Request{Filters: []Filter{{Field: "name_keys", Values: []string{"putin-vladimir"}}}}
	assert.True(t, isNameQuery(req))
}

func TestIsNameQueryFalseForUnrelatedFilter(t *testing.T) {
	req := &Request{Filters: []Filter{{Field: "schema", Values: []string{"Person"}}}}
	assert.False(t, isNameQuery(req))
}
