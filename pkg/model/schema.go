// Package model holds the entity/schema data types shared by every
// component of the search core. It deliberately does not implement the
// schema hierarchy itself — that is an external collaborator — only the
// interfaces the core consumes from it.
package model

// PropertyType is a value from the external, closed type registry.
type PropertyType string

const (
	TypeString     PropertyType = "string"
	TypeText       PropertyType = "text"
	TypeHTML       PropertyType = "html"
	TypeJSON       PropertyType = "json"
	TypeDate       PropertyType = "date"
	TypeNumber     PropertyType = "number"
	TypeName       PropertyType = "name"
	TypeCountry    PropertyType = "country"
	TypeEmail      PropertyType = "email"
	TypePhone      PropertyType = "phone"
	TypeURL        PropertyType = "url"
	TypeIP         PropertyType = "ip"
	TypeIdentifier PropertyType = "identifier"
	TypeChecksum   PropertyType = "checksum"
	TypeAddress    PropertyType = "address"
	TypeMimetype   PropertyType = "mimetype"
	TypeLanguage   PropertyType = "language"
	TypeEntity     PropertyType = "entity"
)

// groupFields maps a property type onto the shared group field every
// property of that type fans its values into via copy_to. Types absent
// from this map are not group types.
var groupFields = map[PropertyType]string{
	TypeCountry:    "countries",
	TypeEmail:      "emails",
	TypePhone:      "phones",
	TypeURL:        "urls",
	TypeIP:         "ips",
	TypeIdentifier: "identifiers",
	TypeChecksum:   "checksums",
	TypeAddress:    "addresses",
	TypeMimetype:   "mimetypes",
	TypeLanguage:   "languages",
	TypeDate:       "dates",
}

// GroupField returns the shared group-field name for a property type, and
// whether that type is a group type at all.
func GroupField(t PropertyType) (string, bool) {
	f, ok := groupFields[t]
	return f, ok
}

// IsNumeric reports whether values of this type are cast into the numeric
// group (number and date types both contribute to numeric.<name>).
func IsNumeric(t PropertyType) bool {
	return t == TypeNumber || t == TypeDate
}

// strongIDTypes are the identifier-like groups the Matcher blocks on.
var strongIDTypes = map[PropertyType]bool{
	TypeIdentifier: true,
	TypeEmail:      true,
	TypePhone:      true,
	TypeChecksum:   true,
}

func IsStrongID(t PropertyType) bool {
	return strongIDTypes[t]
}

// Property describes a single named property of a Schema, as supplied by
// the external schema registry.
type Property struct {
	Name string
	Type PropertyType
}

// Schema is the interface the core consumes from the external schema
// registry. A concrete implementation is provided by the schema registry
// collaborator; the core never constructs one directly except in tests.
type Schema interface {
	Name() string
	Abstract() bool
	// Names returns the ancestor chain, including itself, closest-first.
	Names() []string
	IsA(name string) bool
	MatchableSchemata() []string
	Descendants() []string
	Properties() map[string]Property
	// CaptionProperties are the property names whose values stand in for
	// the entity's display caption.
	CaptionProperties() []string
}

// Registry resolves schema names to Schema values.
type Registry interface {
	Schema(name string) (Schema, error)
	// Schemata returns every schema known to the registry, keyed by name.
	Schemata() map[string]Schema
}
