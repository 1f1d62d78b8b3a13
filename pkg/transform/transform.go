// Package transform implements the EntityTransformer (spec §4.2):
// denormalizing a single entity into the backend document shape the
// Ingester bulk-indexes.
package transform

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/s2"
	"github.com/google/uuid"

	"github.com/openaleph/search-core/pkg/model"
	"github.com/openaleph/search-core/pkg/namegraph"
	"github.com/openaleph/search-core/pkg/topology"
)

const translationMarker = "__translation__ "

// Document is the denormalized projection written to the backend,
// matching spec §3's "Document (stored)" shape.
type Document struct {
	Schema       string              `json:"schema"`
	Schemata     []string            `json:"schemata"`
	Dataset      string              `json:"dataset"`
	Caption      string              `json:"caption"`
	Properties   map[string][]string `json:"properties"`
	Names        []string            `json:"names,omitempty"`
	NameKeys     []string            `json:"name_keys,omitempty"`
	NameParts    []string            `json:"name_parts,omitempty"`
	NamePhonetic []string            `json:"name_phonetic,omitempty"`
	NameSymbols  []string            `json:"name_symbols,omitempty"`
	Groups       map[string][]string `json:"-"` // flattened into top-level group fields at marshal time
	Numeric      map[string][]float64 `json:"numeric,omitempty"`
	GeoPoint     []GeoPoint          `json:"geo_point,omitempty"`
	NumValues    int                 `json:"num_values"`
	RoleID       string              `json:"role_id,omitempty"`
	ProfileID    string              `json:"profile_id,omitempty"`
	Mutable      bool                `json:"mutable"`
	Origin       []string            `json:"origin,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	IndexVersion string              `json:"index_version"`
	IndexedAt    time.Time           `json:"indexed_at"`
	Text         string              `json:"text,omitempty"`
	Content      string              `json:"content,omitempty"`
	Translation  string              `json:"translation,omitempty"`
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// MarshalJSON flattens Groups (countries, emails, dates, ...) as
// top-level sibling fields alongside the struct's declared fields, the
// way copy_to fans values into shared group fields at the document
// level, not a nested sub-object.
func (d Document) MarshalJSON() ([]byte, error) {
	type alias Document
	base, err := json.Marshal(alias(d))
	if err != nil {
		return nil, err
	}
	if len(d.Groups) == 0 {
		return base, nil
	}

	var merged map[string]interface{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for field, values := range d.Groups {
		merged[field] = dedupe(values)
	}
	return json.Marshal(merged)
}

// Action is the backend-shaped bulk action the Ingester consumes.
type Action struct {
	ID       string
	Index    string
	Routing  string
	Delete   bool
	Document *Document
}

// Transformer denormalizes entities into indexable Actions.
type Transformer struct {
	Registry  model.Registry
	Topology  *topology.Topology
	Analyzer  namegraph.Analyzer
	Namespace *NamespaceHasher
	// IndexNamespace scopes the HMAC (e.g. the deployment name); empty
	// disables namespacing regardless of NamespaceHasher.
	IndexNamespace string
	Clock          func() time.Time
}

func New(registry model.Registry, topo *topology.Topology, analyzer namegraph.Analyzer) *Transformer {
	return &Transformer{
		Registry: registry,
		Topology: topo,
		Analyzer: analyzer,
		Clock:    time.Now,
	}
}

// Transform implements spec §4.2's ten steps. It returns a skip error
// (model.ErrAbstractSchema or model.ErrValidation) rather than a
// document when the entity cannot be written; the caller (the
// index-entities producer in cmd/searchctl) logs and continues the stream
// rather than aborting.
func (t *Transformer) Transform(ctx context.Context, dataset string, e model.Entity) (*Action, error) {
	// Step 1: validate dataset.
	if dataset == "" || dataset == "default" {
		return nil, model.NewErrValidation("invalid dataset %q", dataset)
	}

	schema, err := t.Registry.Schema(e.Schema)
	if err != nil {
		return nil, model.NewErrValidation("unknown schema %q: %v", e.Schema, err)
	}
	if schema.Abstract() {
		return nil, model.NewErrAbstractSchema(e.Schema)
	}

	bucket := topology.SchemaBucket(schema)
	index := t.Topology.BucketIndex(bucket, t.Topology.WriteVersion)

	// Step 2: materialize full property dict including group projections.
	props := make(map[string][]string, len(e.Properties))
	groups := map[string][]string{}
	for name, values := range e.Properties {
		if name == "indexText" {
			continue // moved to text/content/translation in step 5
		}
		pd, ok := schema.Properties()[name]
		if !ok {
			continue
		}
		props[name] = values
		if gf, isGroup := model.GroupField(pd.Type); isGroup {
			groups[gf] = append(groups[gf], values...)
		}
	}

	names := captionNames(schema, props)

	// Step 3: name_symbols.
	symbols := t.nameSymbols(schema, names)

	// Step 4: name_keys / name_parts / name_phonetic.
	nameKeys := t.Analyzer.NameKeys(names)
	var nameParts []string
	var phonetics []string
	for _, n := range names {
		parts := t.Analyzer.NameParts(n)
		nameParts = append(nameParts, parts...)
		for _, p := range parts {
			code := t.Analyzer.Phonetic(p)
			if len(code) >= namegraph.MinPhoneticLength {
				phonetics = append(phonetics, code)
			}
		}
	}
	nameParts = dedupe(nameParts)
	phonetics = dedupe(phonetics)
	nameKeys = dedupe(nameKeys)
	symbols = dedupe(symbols)

	// Step 5: indexText routing.
	var text, content, translation strings.Builder
	for _, v := range e.Properties["indexText"] {
		if strings.HasPrefix(v, translationMarker) {
			appendFragment(&translation, strings.TrimPrefix(v, translationMarker))
			continue
		}
		if bucket == model.BucketPages {
			appendFragment(&content, v)
		} else {
			appendFragment(&text, v)
		}
	}

	// Step 6: numeric casts.
	numeric := map[string][]float64{}
	for name, values := range props {
		pd := schema.Properties()[name]
		if !model.IsNumeric(pd.Type) {
			continue
		}
		for _, v := range values {
			if n, ok := parseNumeric(pd.Type, v); ok {
				numeric[name] = append(numeric[name], n)
			}
		}
	}

	// Step 7: geo_point Cartesian product.
	var geo []GeoPoint
	lats := props["latitude"]
	lons := props["longitude"]
	if len(lats) > 0 && len(lons) > 0 {
		for _, lonStr := range lons {
			lon, err := strconv.ParseFloat(lonStr, 64)
			if err != nil {
				continue
			}
			for _, latStr := range lats {
				lat, err := strconv.ParseFloat(latStr, 64)
				if err != nil {
					continue
				}
				if !s2.LatLngFromDegrees(lat, lon).IsValid() {
					continue
				}
				geo = append(geo, GeoPoint{Lat: lat, Lon: lon})
			}
		}
	}

	// Step 8.
	numValues := 0
	for _, v := range props {
		numValues += len(v)
	}

	// Step 9: caption / schemata / timestamps.
	caption := ""
	if len(names) > 0 {
		caption = names[0]
	}
	created, updated := timestampBounds(e.Context)

	id := e.ID
	if id == "" {
		// entities arriving without an id (synthesized fragments, ad-hoc
		// fixtures) get one minted here rather than failing the write.
		id = uuid.New().String()
	}
	// Step 10: optional namespace transform.
	if t.Namespace != nil && t.IndexNamespace != "" {
		id = t.Namespace.Apply(ctx, id, t.IndexNamespace)
	}

	doc := &Document{
		Schema:       schema.Name(),
		Schemata:     schema.Names(),
		Dataset:      dataset,
		Caption:      caption,
		Properties:   props,
		Names:        names,
		NameKeys:     nameKeys,
		NameParts:    dedupe(nameParts),
		NamePhonetic: phonetics,
		NameSymbols:  symbols,
		Groups:       groups,
		Numeric:      numeric,
		GeoPoint:     geo,
		NumValues:    numValues,
		RoleID:       first(e.Context.RoleID),
		ProfileID:    first(e.Context.ProfileID),
		Mutable:      false,
		Origin:       e.Context.Origin,
		Tags:         e.Context.Tags,
		CreatedAt:    created,
		UpdatedAt:    updated,
		IndexVersion: t.Topology.WriteVersion,
		IndexedAt:    t.Clock(),
		Text:         text.String(),
		Content:      content.String(),
		Translation:  translation.String(),
	}

	return &Action{ID: id, Index: index, Routing: dataset, Document: doc}, nil
}

func captionNames(schema model.Schema, props map[string][]string) []string {
	var names []string
	for _, cp := range schema.CaptionProperties() {
		names = append(names, props[cp]...)
	}
	if len(names) == 0 {
		names = props["name"]
	}
	return dedupe(names)
}

// nameSymbols derives the name_symbols group (spec §4.2 step 3).
// LegalEntity schemas (Person, Organization, Company, ...) get the
// generic entity-level tagger; anything else falls back to a union of
// the person and org taggers, since there is no more specific signal to
// dispatch on.
func (t *Transformer) nameSymbols(schema model.Schema, names []string) []string {
	var symbols []string
	if schema.IsA("LegalEntity") {
		for _, n := range names {
			symbols = append(symbols, t.Analyzer.TagEntityName(n)...)
		}
		return dedupe(symbols)
	}
	for _, n := range names {
		symbols = append(symbols, t.Analyzer.TagPersonName(n)...)
		symbols = append(symbols, t.Analyzer.TagOrgName(n)...)
	}
	return dedupe(symbols)
}

func parseNumeric(t model.PropertyType, v string) (float64, bool) {
	if t == model.TypeDate {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "2006-01"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return float64(ts.Unix()), true
			}
		}
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func timestampBounds(c model.EntityContext) (created, updated time.Time) {
	all := append(append([]time.Time{}, c.CreatedAt...), c.UpdatedAt...)
	if len(all) == 0 {
		now := time.Now().UTC()
		return now, now
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })
	created = all[0]
	updated = all[len(all)-1]
	return created, updated
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func dedupe(v []string) []string {
	if len(v) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(v))
	out := make([]string, 0, len(v))
	for _, s := range v {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func appendFragment(b *strings.Builder, v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(v)
}
