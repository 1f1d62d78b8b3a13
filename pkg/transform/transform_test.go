package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/search-core/pkg/model"
	"github.com/openaleph/search-core/pkg/namegraph"
	"github.com/openaleph/search-core/pkg/schemaregistry"
	"github.com/openaleph/search-core/pkg/topology"
)

func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	registry, err := schemaregistry.FromDefs(map[string]schemaregistry.SchemaDef{
		"Thing":       {Abstract: true},
		"Folder":      {Extends: []string{"Thing"}, Abstract: true},
		"LegalEntity": {Extends: []string{"Thing"}, Abstract: true},
		"Person": {
			Extends:   []string{"Thing"},
			Matchable: true,
			Caption:   []string{"name"},
			Properties: map[string]string{
				"name":      "name",
				"email":     "email",
				"birthDate": "date",
			},
		},
		"Organization": {
			Extends:   []string{"LegalEntity"},
			Matchable: true,
			Caption:   []string{"name"},
			Properties: map[string]string{
				"name": "name",
			},
		},
		"Address": {
			Extends:   []string{"Thing"},
			Matchable: true,
			Caption:   []string{"full"},
			Properties: map[string]string{
				"full":      "name",
				"latitude":  "number",
				"longitude": "number",
			},
		},
	})
	require.NoError(t, err)

	topo := topology.New(registry, "test", "v1", nil)
	tr := New(registry, topo, namegraph.New())
	tr.Clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return tr
}

func TestTransformRejectsDefaultDataset(t *testing.T) {
	tr := newTestTransformer(t)
	_, err := tr.Transform(context.Background(), "default", model.Entity{Schema: "Person"})
	assert.Error(t, err)
}

func TestTransformRejectsAbstractSchema(t *testing.T) {
	tr := newTestTransformer(t)
	_, err := tr.Transform(context.Background(), "ds", model.Entity{Schema: "Folder"})
	assert.Error(t, err)
}

func TestTransformRejectsUnknownSchema(t *testing.T) {
	tr := newTestTransformer(t)
	_, err := tr.Transform(context.Background(), "ds", model.Entity{Schema: "Ghost"})
	assert.Error(t, err)
}

func TestTransformBasicEntity(t *testing.T) {
	tr := newTestTransformer(t)
	e := model.Entity{
		ID:     "person-1",
		Schema: "Person",
		Properties: map[string][]string{
			"name":  {"Vladimir Putin"},
			"email": {"vvp@example.com"},
		},
	}
	action, err := tr.Transform(context.Background(), "mydataset", e)
	require.NoError(t, err)

	assert.Equal(t, "person-1", action.ID)
	assert.Equal(t, "test-entity-things-v1", action.Index)
	assert.Equal(t, "mydataset", action.Routing)

	doc := action.Document
	assert.Equal(t, "Person", doc.Schema)
	assert.Equal(t, "mydataset", doc.Dataset)
	assert.Equal(t, "Vladimir Putin", doc.Caption)
	assert.Contains(t, doc.Groups["emails"], "vvp@example.com")
	assert.NotEmpty(t, doc.NameKeys)
	assert.NotEmpty(t, doc.NamePhonetic)
}

func TestTransformNumericCast(t *testing.T) {
	tr := newTestTransformer(t)
	e := model.Entity{
		ID:     "person-2",
		Schema: "Person",
		Properties: map[string][]string{
			"name":      {"Jane Doe"},
			"birthDate": {"1980-05-01"},
		},
	}
	action, err := tr.Transform(context.Background(), "mydataset", e)
	require.NoError(t, err)
	assert.NotEmpty(t, action.Document.Numeric["birthDate"])
}

func TestTransformIgnoresUnknownProperties(t *testing.T) {
	tr := newTestTransformer(t)
	e := model.Entity{
		ID:     "person-3",
		Schema: "Person",
		Properties: map[string][]string{
			"name":    {"Jane Doe"},
			"unknown": {"should be dropped"},
		},
	}
	action, err := tr.Transform(context.Background(), "mydataset", e)
	require.NoError(t, err)
	_, ok := action.Document.Properties["unknown"]
	assert.False(t, ok)
}

func TestTransformDefaultsTimestampsWhenContextEmpty(t *testing.T) {
	tr := newTestTransformer(t)
	e := model.Entity{ID: "p4", Schema: "Person", Properties: map[string][]string{"name": {"X"}}}
	action, err := tr.Transform(context.Background(), "ds", e)
	require.NoError(t, err)
	assert.False(t, action.Document.CreatedAt.IsZero())
	assert.False(t, action.Document.UpdatedAt.IsZero())
}

func TestTransformNamespaceHashesID(t *testing.T) {
	tr := newTestTransformer(t)
	tr.Namespace = NewNamespaceHasher("secret")
	tr.IndexNamespace = "mydataset"
	e := model.Entity{ID: "person-1", Schema: "Person", Properties: map[string][]string{"name": {"X"}}}
	action, err := tr.Transform(context.Background(), "mydataset", e)
	require.NoError(t, err)
	assert.NotEqual(t, "person-1", action.ID)
}

func TestTransformGeneratesIDWhenMissing(t *testing.T) {
	tr := newTestTransformer(t)
	e := model.Entity{Schema: "Person", Properties: map[string][]string{"name": {"No ID"}}}
	action, err := tr.Transform(context.Background(), "ds", e)
	require.NoError(t, err)
	assert.NotEmpty(t, action.ID)
}

func TestTransformGeoPointSkipsInvalidCoordinates(t *testing.T) {
	tr := newTestTransformer(t)
	e := model.Entity{
		ID:     "addr-1",
		Schema: "Address",
		Properties: map[string][]string{
			"full":      {"Somewhere"},
			"latitude":  {"51.5", "200"},
			"longitude": {"-0.1"},
		},
	}
	action, err := tr.Transform(context.Background(), "ds", e)
	require.NoError(t, err)
	require.Len(t, action.Document.GeoPoint, 1)
	assert.Equal(t, 51.5, action.Document.GeoPoint[0].Lat)
}

func TestTransformLegalEntityUsesGenericSymbols(t *testing.T) {
	tr := newTestTransformer(t)
	e := model.Entity{
		ID:     "org-1",
		Schema: "Organization",
		Properties: map[string][]string{
			"name": {"Acme Corp"},
		},
	}
	action, err := tr.Transform(context.Background(), "ds", e)
	require.NoError(t, err)
	require.NotEmpty(t, action.Document.NameSymbols)
	for _, s := range action.Document.NameSymbols {
		assert.Contains(t, s, "entity:")
	}
}

func TestDocumentMarshalJSONFlattensGroups(t *testing.T) {
	doc := Document{
		Schema: "Person",
		Groups: map[string][]string{"emails": {"a@example.com", "a@example.com"}},
	}
	raw, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"emails":["a@example.com"]`)
}
