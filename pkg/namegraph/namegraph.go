// Package namegraph defines the name-analysis interface the core
// consumes (spec §6) and provides one concrete implementation built on
// github.com/antzucaro/matchr's phonetic codecs.
package namegraph

import (
	"sort"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Analyzer is the external name-analysis library's consumed surface.
type Analyzer interface {
	NameParts(name string) []string
	NameKeys(names []string) []string
	Phonetic(token string) string
	TagPersonName(name string) []string
	TagOrgName(name string) []string
	TagEntityName(name string) []string
}

// MinPhoneticLength is the minimum phonetic-code length a token must
// clear before it is indexed under name_phonetic, avoiding stopword
// explosion from short/common codes (spec §4.2 step 4).
const MinPhoneticLength = 3

// DoubleMetaphone is the default Analyzer, using Double Metaphone codes
// from matchr for phonetic matching.
type DoubleMetaphone struct{}

func New() *DoubleMetaphone { return &DoubleMetaphone{} }

// NameParts tokenizes a name on whitespace and punctuation, lower-cased.
func (DoubleMetaphone) NameParts(name string) []string {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			parts = append(parts, f)
		}
	}
	return parts
}

// NameKeys computes a deterministic sort+concat fingerprint per name:
// tokens are lower-cased, deduplicated, sorted, and joined, so that
// "Vladimir Putin" and "Putin Vladimir" collapse to the same key.
func (d DoubleMetaphone) NameKeys(names []string) []string {
	keys := make([]string, 0, len(names))
	for _, name := range names {
		parts := d.NameParts(name)
		if len(parts) == 0 {
			continue
		}
		seen := map[string]bool{}
		unique := make([]string, 0, len(parts))
		for _, p := range parts {
			if !seen[p] {
				seen[p] = true
				unique = append(unique, p)
			}
		}
		sort.Strings(unique)
		keys = append(keys, strings.Join(unique, "-"))
	}
	return keys
}

// Phonetic returns the primary Double Metaphone code for a token.
func (DoubleMetaphone) Phonetic(token string) string {
	primary, _ := matchr.DoubleMetaphone(token)
	return primary
}

// TagPersonName and TagOrgName approximate the external symbol tagger:
// they are deliberately coarse (a real implementation defers to a
// dedicated entity-resolution library) and exist so Matcher and
// EntityTransformer have a concrete symbol source to union over, per the
// external-collaborator boundary in spec §6.
func (DoubleMetaphone) TagPersonName(name string) []string {
	return tagSymbols("person", name)
}

func (DoubleMetaphone) TagOrgName(name string) []string {
	return tagSymbols("org", name)
}

// TagEntityName is the generic, kind-agnostic symbol path used for
// LegalEntity subtypes: it does not guess at a person or organization
// shape, unlike TagPersonName/TagOrgName.
func (DoubleMetaphone) TagEntityName(name string) []string {
	return tagSymbols("entity", name)
}

func tagSymbols(kind, name string) []string {
	parts := New().NameParts(name)
	if len(parts) == 0 {
		return nil
	}
	sort.Strings(parts)
	return []string{kind + ":" + strings.Join(parts, "-")}
}
