package namegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagEntityNameIsGenericAndDeterministic(t *testing.T) {
	d := New()
	a := d.TagEntityName("Acme Corp")
	b := d.TagEntityName("Corp Acme")
	requireNonEmpty(t, a)
	assert.Equal(t, a, b)
	assert.Contains(t, a[0], "entity:")
}

func TestTagEntityNameEmptyForBlankInput(t *testing.T) {
	d := New()
	assert.Empty(t, d.TagEntityName(""))
}

func TestTagPersonNameAndTagOrgNameUseDistinctPrefixes(t *testing.T) {
	d := New()
	person := d.TagPersonName("Jane Doe")
	org := d.TagOrgName("Jane Doe")
	requireNonEmpty(t, person)
	requireNonEmpty(t, org)
	assert.Contains(t, person[0], "person:")
	assert.Contains(t, org[0], "org:")
}

func requireNonEmpty(t *testing.T, v []string) {
	t.Helper()
	if len(v) == 0 {
		t.Fatalf("expected non-empty symbol slice")
	}
}
