// Package schemaregistry is a concrete, JSON-catalog-backed
// implementation of model.Registry: the adapter this module needs to
// actually run the CLI and the test suite, since model.Registry itself
// is declared as an external collaborator's consumed interface (spec
// §6) rather than something the core constructs.
package schemaregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/openaleph/search-core/pkg/model"
)

// schemaDef is the on-disk shape of one catalog entry.
type schemaDef struct {
	Extends    []string          `json:"extends"`
	Abstract   bool              `json:"abstract"`
	Matchable  bool              `json:"matchable"`
	Caption    []string          `json:"caption"`
	Properties map[string]string `json:"properties"`
}

type catalog map[string]schemaDef

// schema is the resolved, closed-over view of one catalog entry.
type schema struct {
	name        string
	def         schemaDef
	ancestors   []string // closest-first, includes self
	descendants []string
	properties  map[string]model.Property
	matchable   []string
}

func (s *schema) Name() string                          { return s.name }
func (s *schema) Abstract() bool                         { return s.def.Abstract }
func (s *schema) Names() []string                        { return s.ancestors }
func (s *schema) Descendants() []string                  { return s.descendants }
func (s *schema) Properties() map[string]model.Property  { return s.properties }
func (s *schema) CaptionProperties() []string            { return s.def.Caption }
func (s *schema) MatchableSchemata() []string             { return s.matchable }

func (s *schema) IsA(name string) bool {
	for _, a := range s.ancestors {
		if a == name {
			return true
		}
	}
	return false
}

// Registry resolves schema names against a loaded catalog.
type Registry struct {
	schemata map[string]*schema
}

func (r *Registry) Schema(name string) (model.Schema, error) {
	s, ok := r.schemata[name]
	if !ok {
		return nil, fmt.Errorf("schemaregistry: unknown schema %q", name)
	}
	return s, nil
}

func (r *Registry) Schemata() map[string]model.Schema {
	out := make(map[string]model.Schema, len(r.schemata))
	for name, s := range r.schemata {
		out[name] = s
	}
	return out
}

// Load reads a JSON schema catalog from path and resolves the full
// ancestor/descendant/matchable graph.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schemaregistry: read %s: %w", path, err)
	}
	var cat catalog
	if err := json.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("schemaregistry: parse %s: %w", path, err)
	}
	return FromCatalog(cat)
}

// SchemaDef is the exported mirror of schemaDef, letting other packages'
// tests build a registry fixture without a catalog file on disk.
type SchemaDef struct {
	Extends    []string
	Abstract   bool
	Matchable  bool
	Caption    []string
	Properties map[string]string
}

// FromDefs resolves an in-memory catalog built from exported SchemaDef
// values, for use by other packages' tests.
func FromDefs(defs map[string]SchemaDef) (*Registry, error) {
	cat := make(catalog, len(defs))
	for name, d := range defs {
		cat[name] = schemaDef{
			Extends:    d.Extends,
			Abstract:   d.Abstract,
			Matchable:  d.Matchable,
			Caption:    d.Caption,
			Properties: d.Properties,
		}
	}
	return FromCatalog(cat)
}

// FromCatalog resolves an in-memory catalog, exported so tests can build
// fixtures without touching the filesystem.
func FromCatalog(cat map[string]schemaDef) (*Registry, error) {
	schemata := make(map[string]*schema, len(cat))
	for name, def := range cat {
		props := make(map[string]model.Property, len(def.Properties))
		for pname, ptype := range def.Properties {
			props[pname] = model.Property{Name: pname, Type: model.PropertyType(ptype)}
		}
		schemata[name] = &schema{name: name, def: def, properties: props}
	}

	for name, s := range schemata {
		ancestors, err := resolveAncestors(cat, name, map[string]bool{})
		if err != nil {
			return nil, err
		}
		s.ancestors = ancestors
	}

	descendants := map[string][]string{}
	for name, s := range schemata {
		for _, a := range s.ancestors[1:] {
			descendants[a] = append(descendants[a], name)
		}
	}
	for name, s := range schemata {
		d := dedupeSorted(descendants[name])
		s.descendants = d
	}

	for name, s := range schemata {
		matchableAncestors := map[string]bool{}
		for _, a := range s.ancestors {
			if as, ok := schemata[a]; ok && as.def.Matchable {
				matchableAncestors[a] = true
			}
		}
		if len(matchableAncestors) == 0 {
			continue
		}
		var matches []string
		for otherName, other := range schemata {
			for _, a := range other.ancestors {
				if matchableAncestors[a] {
					matches = append(matches, otherName)
					break
				}
			}
		}
		s.matchable = dedupeSorted(matches)
	}

	return &Registry{schemata: schemata}, nil
}

// resolveAncestors walks the extends graph depth-first, returning self
// followed by each parent's chain in declaration order, with duplicates
// from multiple inheritance removed.
func resolveAncestors(cat catalog, name string, visiting map[string]bool) ([]string, error) {
	if visiting[name] {
		return nil, fmt.Errorf("schemaregistry: cycle detected at %q", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	def, ok := cat[name]
	if !ok {
		return nil, fmt.Errorf("schemaregistry: %q extends unknown schema", name)
	}

	seen := map[string]bool{name: true}
	ancestors := []string{name}
	for _, parent := range def.Extends {
		parentChain, err := resolveAncestors(cat, parent, visiting)
		if err != nil {
			return nil, err
		}
		for _, a := range parentChain {
			if !seen[a] {
				seen[a] = true
				ancestors = append(ancestors, a)
			}
		}
	}
	return ancestors, nil
}

func dedupeSorted(v []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(v))
	for _, s := range v {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
