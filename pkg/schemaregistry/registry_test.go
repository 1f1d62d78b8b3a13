package schemaregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureCatalog() catalog {
	return catalog{
		"Thing": {Abstract: true},
		"LegalEntity": {
			Extends:  []string{"Thing"},
			Abstract: true,
		},
		"Person": {
			Extends:   []string{"LegalEntity"},
			Matchable: true,
			Caption:   []string{"name"},
			Properties: map[string]string{
				"name":  "name",
				"email": "email",
			},
		},
		"Company": {
			Extends:   []string{"LegalEntity"},
			Matchable: true,
			Caption:   []string{"name"},
			Properties: map[string]string{
				"name": "name",
			},
		},
		"Organization": {
			Extends:   []string{"LegalEntity"},
			Matchable: true,
		},
		"Document": {
			Extends: []string{"Thing"},
		},
	}
}

func TestFromCatalogAncestors(t *testing.T) {
	reg, err := FromCatalog(fixtureCatalog())
	require.NoError(t, err)

	person, err := reg.Schema("Person")
	require.NoError(t, err)
	assert.Equal(t, []string{"Person", "LegalEntity", "Thing"}, person.Names())
	assert.True(t, person.IsA("Thing"))
	assert.True(t, person.IsA("LegalEntity"))
	assert.False(t, person.IsA("Company"))
	assert.False(t, person.Abstract())

	thing, err := reg.Schema("Thing")
	require.NoError(t, err)
	assert.True(t, thing.Abstract())
}

func TestFromCatalogDescendants(t *testing.T) {
	reg, err := FromCatalog(fixtureCatalog())
	require.NoError(t, err)

	thing, err := reg.Schema("Thing")
	require.NoError(t, err)
	assert.Equal(t, []string{"Company", "Document", "LegalEntity", "Organization", "Person"}, thing.Descendants())

	legalEntity, err := reg.Schema("LegalEntity")
	require.NoError(t, err)
	assert.Equal(t, []string{"Company", "Organization", "Person"}, legalEntity.Descendants())

	person, err := reg.Schema("Person")
	require.NoError(t, err)
	assert.Empty(t, person.Descendants())
}

func TestFromCatalogMatchableSchemata(t *testing.T) {
	reg, err := FromCatalog(fixtureCatalog())
	require.NoError(t, err)

	person, err := reg.Schema("Person")
	require.NoError(t, err)
	assert.Equal(t, []string{"Person"}, person.MatchableSchemata())

	document, err := reg.Schema("Document")
	require.NoError(t, err)
	assert.Empty(t, document.MatchableSchemata())
}

func TestFromCatalogProperties(t *testing.T) {
	reg, err := FromCatalog(fixtureCatalog())
	require.NoError(t, err)

	person, err := reg.Schema("Person")
	require.NoError(t, err)
	props := person.Properties()
	require.Contains(t, props, "email")
	assert.Equal(t, "email", string(props["email"].Type))
	assert.Equal(t, []string{"name"}, person.CaptionProperties())
}

func TestFromCatalogUnknownSchema(t *testing.T) {
	_, err := FromCatalog(fixtureCatalog())
	require.NoError(t, err)

	reg, err := FromCatalog(fixtureCatalog())
	require.NoError(t, err)
	_, err = reg.Schema("Nonexistent")
	assert.Error(t, err)
}

func TestFromCatalogCycleDetected(t *testing.T) {
	cat := catalog{
		"A": {Extends: []string{"B"}},
		"B": {Extends: []string{"A"}},
	}
	_, err := FromCatalog(cat)
	assert.Error(t, err)
}

func TestFromCatalogUnknownParent(t *testing.T) {
	cat := catalog{
		"A": {Extends: []string{"Ghost"}},
	}
	_, err := FromCatalog(cat)
	assert.Error(t, err)
}

func TestFromCatalogMultipleInheritanceDeduped(t *testing.T) {
	cat := catalog{
		"Thing": {Abstract: true},
		"Named": {Extends: []string{"Thing"}, Abstract: true},
		"Dated": {Extends: []string{"Thing"}, Abstract: true},
		"Event": {Extends: []string{"Named", "Dated"}},
	}
	reg, err := FromCatalog(cat)
	require.NoError(t, err)

	event, err := reg.Schema("Event")
	require.NoError(t, err)
	assert.Equal(t, []string{"Event", "Named", "Thing", "Dated"}, event.Names())
}

func TestSchemataReturnsEverything(t *testing.T) {
	reg, err := FromCatalog(fixtureCatalog())
	require.NoError(t, err)
	assert.Len(t, reg.Schemata(), len(fixtureCatalog()))
}
