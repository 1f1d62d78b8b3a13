package query

// Class is a sum type over the five query kinds the compiler dispatches
// on (spec §9: "a sum type over query-kind, plus a policy record per
// variant, with a single compiler dispatching on the variant").
type Class string

const (
	ClassEntities Class = "entities"
	ClassMatch    Class = "match"
	ClassGeo      Class = "geo_distance"
	ClassXref     Class = "xref"
	ClassMLT      Class = "more_like_this"
)

// Policy is the narrow set of variation points spec §9 names for each
// query class. EntitiesQuery's values are the baseline every other class
// starts from and overrides selectively.
type Policy struct {
	Class Class

	TextFields    []string
	PrefixField   string
	HighlightFields []string
	SkipFilters   SkipFilters
	SourceIncludes []string
	AuthzField    string
	SortDefault   []Sort

	// FunctionScore enables the num_values field_value_factor wrap
	// (entities only).
	FunctionScore bool
}

// EntitiesPolicy is the default policy: general entity search.
func EntitiesPolicy() Policy {
	return Policy{
		Class:          ClassEntities,
		TextFields:     []string{"text", "names^3", "name_parts^2"},
		PrefixField:    "name_parts",
		HighlightFields: []string{"text", "content", "names"},
		SkipFilters:    SkipFilters{},
		SourceIncludes: []string{"schema", "schemata", "dataset", "caption", "properties.*", "created_at", "updated_at"},
		AuthzField:     "dataset",
		SortDefault:    []Sort{{Field: "_score", Ascending: false}},
		FunctionScore:  true,
	}
}

// MatchPolicy narrows get_index to the source entity's matchable
// schemata and turns off function-score (the blocking/scoring query
// already ranks candidates).
func MatchPolicy() Policy {
	p := EntitiesPolicy()
	p.Class = ClassMatch
	p.FunctionScore = false
	return p
}

// GeoDistancePolicy sorts by distance from a source point instead of
// relevance.
func GeoDistancePolicy() Policy {
	p := EntitiesPolicy()
	p.Class = ClassGeo
	p.FunctionScore = false
	p.SortDefault = nil // compiler supplies the _geo_distance sort
	return p
}

// XrefPolicy authorizes on match_dataset rather than dataset, and sorts
// by score by default.
func XrefPolicy() Policy {
	return Policy{
		Class:          ClassXref,
		TextFields:     nil,
		SkipFilters:    SkipFilters{},
		SourceIncludes: nil,
		AuthzField:     "match_dataset",
		SortDefault:    []Sort{{Field: "score", Ascending: false}},
		FunctionScore:  false,
	}
}

// MLTPolicy restricts to document/page buckets and never wraps in
// function_score.
func MLTPolicy() Policy {
	p := EntitiesPolicy()
	p.Class = ClassMLT
	p.FunctionScore = false
	return p
}
