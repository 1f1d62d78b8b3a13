package topology

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/search-core/pkg/model"
)

type fakeSchema struct {
	name        string
	abstract    bool
	names       []string
	descendants []string
}

func (s *fakeSchema) Name() string     { return s.name }
func (s *fakeSchema) Abstract() bool   { return s.abstract }
func (s *fakeSchema) Names() []string  { return s.names }
func (s *fakeSchema) Descendants() []string {
	return s.descendants
}
func (s *fakeSchema) Properties() map[string]model.Property { return nil }
func (s *fakeSchema) CaptionProperties() []string            { return nil }
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
		"Person":   {name: "Person", names: []string{"Person", "LegalEntity", "Thing"}, descendants: nil},
		"Document": {name: "Document", names: []string{"Document", "Thing"}},
		"Page":     {name: "Page", names: []string{"Page", "Thing"}},
		"Interval": {name: "Interval", names: []string{"Interval", "Thing"}},
		"Event":    {name: "Event", names: []string{"Event", "Interval", "Thing"}},
		"Folder":   {name: "Folder", abstract: true, names: []string{"Folder", "Thing"}},
	}}
}

func TestSchemaBucket(t *testing.T) {
	reg := newFakeRegistry()
	cases := map[string]model.Bucket{
		"Thing":    model.BucketThings,
		"Person":   model.BucketThings,
		"Document": model.BucketDocuments,
		"Page":     model.BucketPages,
		"Interval": model.BucketIntervals,
		"Event":    model.BucketIntervals,
	}
	for name, want := range cases {
		s, err := reg.Schema(name)
		require.NoError(t, err)
		assert.Equal(t, want, SchemaBucket(s), name)
	}
}

func TestBucketIndex(t *testing.T) {
	topo := New(newFakeRegistry(), "openaleph", "v1", nil)
	assert.Equal(t, "openaleph-entity-things-v1", topo.BucketIndex(model.BucketThings, "v1"))
}

func TestXrefIndex(t *testing.T) {
	topo := New(newFakeRegistry(), "openaleph", "v1", nil)
	assert.Equal(t, "openaleph-xref-v1", topo.XrefIndex())
}

func TestSchemaIndexRejectsAbstract(t *testing.T) {
	topo := New(newFakeRegistry(), "openaleph", "v1", nil)
	_, err := topo.SchemaIndex("Folder")
	assert.Error(t, err)
}

func TestSchemaIndexConcrete(t *testing.T) {
	topo := New(newFakeRegistry(), "openaleph", "v1", nil)
	index, err := topo.SchemaIndex("Document")
	require.NoError(t, err)
	assert.Equal(t, "openaleph-entity-documents-v1", index)
}

func TestEntitiesReadIndexWildcardWithoutReadVersions(t *testing.T) {
	topo := New(newFakeRegistry(), "openaleph", "v1", nil)
	pattern, err := topo.EntitiesReadIndex([]string{"Document"}, false)
	require.NoError(t, err)
	assert.Equal(t, "openaleph-entity-documents-*", pattern)
}

func TestEntitiesReadIndexExplicitVersions(t *testing.T) {
	topo := New(newFakeRegistry(), "openaleph", "v2", []string{"v1", "v2"})
	pattern, err := topo.EntitiesReadIndex([]string{"Document"}, false)
	require.NoError(t, err)
	assert.Equal(t, "openaleph-entity-documents-v1,openaleph-entity-documents-v2", pattern)
}

func TestEntitiesReadIndexDefaultsToThing(t *testing.T) {
	topo := New(newFakeRegistry(), "openaleph", "v1", nil)
	pattern, err := topo.EntitiesReadIndex(nil, false)
	require.NoError(t, err)
	assert.Equal(t, "openaleph-entity-things-*", pattern)
}

func TestEntitiesReadIndexDeterministicOrdering(t *testing.T) {
	topo := New(newFakeRegistry(), "openaleph", "v1", nil)
	a, err := topo.EntitiesReadIndex([]string{"Document", "Page", "Interval"}, false)
	require.NoError(t, err)
	b, err := topo.EntitiesReadIndex([]string{"Interval", "Page", "Document"}, false)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
