package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaleph/search-core/pkg/model"
)

func TestParseBasicTextAndPaging(t *testing.T) {
	req, err := Parse([][2]string{
		{"q", "vladimir putin"},
		{"offset", "10"},
		{"limit", "50"},
	}, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "vladimir putin", req.Text)
	assert.Equal(t, 10, req.Offset)
	assert.Equal(t, 50, req.Limit)
}

func TestParseDefaultsLimitTo20(t *testing.T) {
	req, err := Parse(nil, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 20, req.Limit)
}

func TestParseFiltersSortedAndDeduped(t *testing.T) {
	req, err := Parse([][2]string{
		{"filter:schema", "Person"},
		{"filter:schema", "Person"},
		{"filter:dataset", "icij"},
	}, nil, nil, false)
	require.NoError(t, err)
	require.Len(t, req.Filters, 2)
	assert.Equal(t, "dataset", req.Filters[0].Field)
	assert.Equal(t, "schema", req.Filters[1].Field)
	assert.Equal(t, []string{"Person"}, req.Filters[1].Values)
}

func TestParseExcludeFilter(t *testing.T) {
	req, err := Parse([][2]string{{"exclude:schema", "Person"}}, nil, nil, false)
	require.NoError(t, err)
	require.Len(t, req.Filters, 1)
	assert.True(t, req.Filters[0].Exclude)
}

func TestParseSkipFiltersDropsField(t *testing.T) {
	req, err := Parse([][2]string{{"filter:dataset", "icij"}}, SkipFilters{"dataset": true}, nil, false)
	require.NoError(t, err)
	assert.Empty(t, req.Filters)
}

func TestParseRangeFilters(t *testing.T) {
	req, err := Parse([][2]string{
		{"filter:gte:properties.amount", "100"},
		{"filter:lt:properties.amount", "200"},
	}, nil, nil, false)
	require.NoError(t, err)
	require.Len(t, req.RangeFilters, 2)
	assert.Equal(t, OpGTE, req.RangeFilters[0].Op)
	assert.Equal(t, OpLT, req.RangeFilters[1].Op)
}

func TestParseRewritesIDAndNamesFilterFields(t *testing.T) {
	req, err := Parse([][2]string{
		{"filter:id", "abc"},
		{"filter:names", "putin"},
	}, nil, nil, false)
	require.NoError(t, err)
	fields := map[string]bool{}
	for _, f := range req.Filters {
		fields[f.Field] = true
	}
	assert.True(t, fields["_id"])
	assert.True(t, fields["name_keys"])
}

func TestParseFacetSpecModifiers(t *testing.T) {
	req, err := Parse([][2]string{
		{"facet", "schema"},
		{"facet_size:schema", "5"},
		{"facet_total:schema", "true"},
	}, nil, nil, false)
	require.NoError(t, err)
	require.Len(t, req.Facets, 1)
	assert.Equal(t, "schema", req.Facets[0].Field)
	assert.Equal(t, 5, req.Facets[0].Size)
	assert.True(t, req.Facets[0].Total)
}

func TestParseFacetModifierBeforeFacetKeyword(t *testing.T) {
	req, err := Parse([][2]string{
		{"facet_size:schema", "5"},
		{"facet", "schema"},
	}, nil, nil, false)
	require.NoError(t, err)
	require.Len(t, req.Facets, 1)
	assert.Equal(t, 5, req.Facets[0].Size)
}

func TestParseSortDescending(t *testing.T) {
	req, err := Parse([][2]string{{"sort", "updated_at:desc"}}, nil, nil, false)
	require.NoError(t, err)
	require.Len(t, req.Sorts, 1)
	assert.False(t, req.Sorts[0].Ascending)
}

func TestParseMaxPageExceeded(t *testing.T) {
	_, err := Parse([][2]string{{"offset", "9990"}, {"limit", "20"}}, nil, nil, false)
	assert.Error(t, err)
}

func TestParseAuthRequiredButMissing(t *testing.T) {
	_, err := Parse(nil, nil, nil, true)
	assert.Error(t, err)
}

func TestParseAuthRequiredAndSupplied(t *testing.T) {
	auth := &model.SearchAuth{IsAdmin: true}
	req, err := Parse(nil, nil, auth, true)
	require.NoError(t, err)
	assert.Same(t, auth, req.Auth)
}

func TestParseRoutingKeySingleDataset(t *testing.T) {
	req, err := Parse([][2]string{{"filter:dataset", "icij"}}, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "icij", req.RoutingKey)
}

func TestParseRoutingKeyEmptyWhenMultipleDatasets(t *testing.T) {
	req, err := Parse([][2]string{
		{"filter:dataset", "icij"},
		{"filter:dataset", "offshoreleaks"},
	}, nil, nil, false)
	require.NoError(t, err)
	assert.Empty(t, req.RoutingKey)
}

func TestParseRoutingKeyEmptyWhenDatasetExcluded(t *testing.T) {
	req, err := Parse([][2]string{{"exclude:dataset", "icij"}}, nil, nil, false)
	require.NoError(t, err)
	assert.Empty(t, req.RoutingKey)
}
