// Package mapping implements the MappingBuilder (spec §4.1): a pure,
// deterministic synthesis of per-bucket index mappings and shared
// analysis settings from the external schema registry.
package mapping

import (
	"sort"

	"github.com/openaleph/search-core/pkg/model"
)

// WeakLengthNormSimilarity is the custom similarity used for the names
// field so long names aren't penalized relative to short ones.
const WeakLengthNormSimilarity = "weak_length_norm"

var baseGroupFields = []string{
	"countries", "emails", "phones", "urls", "ips",
	"identifiers", "checksums", "addresses", "mimetypes", "languages",
}

// Builder synthesizes mappings for a given schema registry.
type Builder struct {
	Registry model.Registry
}

func New(registry model.Registry) *Builder {
	return &Builder{Registry: registry}
}

// Settings returns the shared index analysis settings: char filters,
// normalizers, analyzers, and the custom similarity, common to every
// bucket's index.
func (b *Builder) Settings(shards, replicas int, refreshInterval string) map[string]interface{} {
	return map[string]interface{}{
		"number_of_shards":   shards,
		"number_of_replicas": replicas,
		"refresh_interval":   refreshInterval,
		"analysis": map[string]interface{}{
			"char_filter": map[string]interface{}{
				"punctuation": map[string]interface{}{
					"type":        "pattern_replace",
					"pattern":     `[\p{Punct}]+`,
					"replacement": " ",
				},
				"whitespace_squash": map[string]interface{}{
					"type":        "pattern_replace",
					"pattern":     `\s+`,
					"replacement": " ",
				},
			},
			"normalizer": map[string]interface{}{
				"kw-normalizer": map[string]interface{}{
					"type":        "custom",
					"char_filter": []string{"punctuation", "whitespace_squash"},
					"filter":      []string{"lowercase", "trim"},
				},
				"name-kw-normalizer": map[string]interface{}{
					"type":        "custom",
					"char_filter": []string{"punctuation", "whitespace_squash"},
					"filter":      []string{"lowercase", "trim"},
				},
			},
			"analyzer": map[string]interface{}{
				"icu-default": map[string]interface{}{
					"type":      "custom",
					"tokenizer": "icu_tokenizer",
					"filter":    []string{"icu_folding", "lowercase"},
				},
				"strip-html": map[string]interface{}{
					"type":        "custom",
					"tokenizer":   "standard",
					"char_filter": []string{"html_strip", "whitespace_squash"},
					"filter":      []string{"lowercase"},
				},
				"whitespace-squash": map[string]interface{}{
					"type":        "custom",
					"tokenizer":   "standard",
					"char_filter": []string{"whitespace_squash"},
					"filter":      []string{"lowercase"},
				},
			},
			"similarity": map[string]interface{}{
				WeakLengthNormSimilarity: map[string]interface{}{
					"type":   "DFR",
					"basic_model": "g",
					"after_effect": "l",
					"normalization": "h2",
					"normalization.h2.c": 1.0,
				},
			},
		},
	}
}

// BucketMapping emits the mapping for one bucket, covering every schema
// classified into it.
func (b *Builder) BucketMapping(bucket model.Bucket, schemataInBucket []model.Schema) map[string]interface{} {
	excludes := append([]string{"text"}, baseGroupFields...)
	excludes = append(excludes, "content", "names", "name_keys", "name_parts", "name_phonetic", "name_symbols")

	props := map[string]interface{}{
		"dataset":  map[string]interface{}{"type": "keyword"},
		"schema":   map[string]interface{}{"type": "keyword"},
		"schemata": map[string]interface{}{"type": "keyword"},
		"caption":  map[string]interface{}{"type": "keyword", "copy_to": "name"},
		"name":     map[string]interface{}{"type": "keyword"},
		"names": map[string]interface{}{
			"type":       "keyword",
			"copy_to":    "text",
			"similarity": WeakLengthNormSimilarity,
		},
		"name_keys":     map[string]interface{}{"type": "keyword"},
		"name_parts":    map[string]interface{}{"type": "keyword", "copy_to": "text"},
		"name_symbols":  map[string]interface{}{"type": "keyword"},
		"name_phonetic": map[string]interface{}{"type": "keyword"},
		"geo_point":     map[string]interface{}{"type": "geo_point"},
		"text": map[string]interface{}{
			"type":           "text",
			"analyzer":       "whitespace-squash",
			"term_vector":    "with_positions_offsets",
			"index_phrases":  true,
		},
		"content":     map[string]interface{}{"type": "text", "analyzer": "strip-html"},
		"translation": map[string]interface{}{"type": "text", "analyzer": "icu-default"},
		"role_id":     map[string]interface{}{"type": "keyword"},
		"profile_id":  map[string]interface{}{"type": "keyword"},
		"origin":      map[string]interface{}{"type": "keyword"},
		"tags":        map[string]interface{}{"type": "keyword"},
		"created_at":  map[string]interface{}{"type": "date"},
		"updated_at":  map[string]interface{}{"type": "date"},
		"num_values":  map[string]interface{}{"type": "integer"},
		"index_version": map[string]interface{}{"type": "keyword", "index": false},
		"indexed_at":    map[string]interface{}{"type": "date", "index": false},
	}

	if bucket == model.BucketPages {
		props["content"] = map[string]interface{}{
			"type":     "text",
			"analyzer": "strip-html",
			"store":    true,
		}
	}

	for _, g := range baseGroupFields {
		props[g] = map[string]interface{}{"type": "keyword"}
	}
	props["dates"] = map[string]interface{}{
		"type":   "date",
		"format": "yyyy-MM-dd'T'HH:mm:ss||yyyy-MM-dd||yyyy-MM||yyyy",
	}

	propertyDefs, numericNames := b.propertyBlock(schemataInBucket)
	for name, def := range propertyDefs {
		props["properties."+name] = def
	}

	numeric := map[string]interface{}{}
	for name := range numericNames {
		numeric[name] = map[string]interface{}{"type": "double"}
	}
	props["numeric"] = map[string]interface{}{"properties": numeric}

	return map[string]interface{}{
		"date_detection": false,
		"dynamic":        false,
		"_source": map[string]interface{}{
			"excludes": excludes,
		},
		"properties": props,
	}
}

// propertyDef is accumulated per property name across every schema in
// the bucket, so that disagreeing schemas resolve to the documented
// union-of-copy_to / keyword-on-type-conflict rules.
type propertyDef struct {
	propType model.PropertyType
	copyTo   map[string]bool
	seen     bool
}

func (b *Builder) propertyBlock(schemata []model.Schema) (map[string]interface{}, map[string]bool) {
	acc := map[string]*propertyDef{}
	numericNames := map[string]bool{}

	for _, s := range schemata {
		captionSet := map[string]bool{}
		for _, c := range s.CaptionProperties() {
			captionSet[c] = true
		}
		for name, p := range s.Properties() {
			d, ok := acc[name]
			if !ok {
				d = &propertyDef{propType: p.Type, copyTo: map[string]bool{}}
				acc[name] = d
			} else if d.propType != p.Type {
				d.propType = model.TypeString // type conflict -> keyword
			}
			d.copyTo["text"] = true
			if gf, isGroup := model.GroupField(p.Type); isGroup {
				d.copyTo[gf] = true
			}
			if captionSet[name] {
				d.copyTo["name"] = true
			}
			if model.IsNumeric(p.Type) {
				numericNames[name] = true
			}
		}
	}

	out := make(map[string]interface{}, len(acc))
	for name, d := range acc {
		def := map[string]interface{}{}
		switch d.propType {
		case model.TypeText, model.TypeHTML, model.TypeJSON:
			def["type"] = "text"
			def["index"] = false
		case model.TypeDate:
			def["type"] = "date"
			def["format"] = "yyyy-MM-dd'T'HH:mm:ss||yyyy-MM-dd||yyyy-MM||yyyy"
		default:
			def["type"] = "keyword"
		}
		copyTo := make([]string, 0, len(d.copyTo))
		for t := range d.copyTo {
			copyTo = append(copyTo, t)
		}
		if len(copyTo) > 0 {
			sort.Strings(copyTo)
			def["copy_to"] = copyTo
		}
		out[name] = def
	}
	return out, numericNames
}
