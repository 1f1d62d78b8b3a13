// Package topology implements IndexTopology (spec §4.3): pure functions
// naming and resolving read/write indexes by bucket and schema version,
// and classifying schemas into buckets.
package topology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openaleph/search-core/pkg/model"
)

const xrefIndexName = "xref-v1"

// Topology resolves index names from a schema registry and the
// configured prefix/versions. It holds no mutable state and is safe for
// concurrent use.
type Topology struct {
	Registry     model.Registry
	Prefix       string
	WriteVersion string
	// ReadVersions, if empty, causes reads to wildcard-match every
	// version under a bucket (per original_source/index/util.py).
	ReadVersions []string
}

func New(registry model.Registry, prefix, writeVersion string, readVersions []string) *Topology {
	return &Topology{
		Registry:     registry,
		Prefix:       prefix,
		WriteVersion: writeVersion,
		ReadVersions: readVersions,
	}
}

// SchemaBucket classifies a schema into one of the four buckets per
// spec §3's mapping table.
func SchemaBucket(s model.Schema) model.Bucket {
	switch {
	case s.Name() == "Page" || s.Name() == "Pages":
		return model.BucketPages
	case s.IsA("Document"):
		return model.BucketDocuments
	case s.IsA("Interval"):
		return model.BucketIntervals
	case s.IsA("Thing"):
		return model.BucketThings
	default:
		return model.BucketThings
	}
}

// BucketIndex returns the index name for a bucket at a given version.
func (t *Topology) BucketIndex(bucket model.Bucket, version string) string {
	return fmt.Sprintf("%s-entity-%s-%s", t.Prefix, bucket, version)
}

// XrefIndex returns the single xref index name.
func (t *Topology) XrefIndex() string {
	return fmt.Sprintf("%s-%s", t.Prefix, xrefIndexName)
}

// SchemaIndex returns the write index for a named schema, erroring if the
// schema is abstract (abstract schemas are never written).
func (t *Topology) SchemaIndex(schemaName string) (string, error) {
	s, err := t.Registry.Schema(schemaName)
	if err != nil {
		return "", err
	}
	if s.Abstract() {
		return "", model.NewErrAbstractSchema(schemaName)
	}
	return t.BucketIndex(SchemaBucket(s), t.WriteVersion), nil
}

// EntitiesWriteIndex returns the single write index for a schema's
// bucket, equivalent to SchemaIndex but named per spec §4.3.
func (t *Topology) EntitiesWriteIndex(schemaName string) (string, error) {
	return t.SchemaIndex(schemaName)
}

// readIndexPattern returns the wildcard-or-explicit read pattern for one
// bucket, per original_source/index/util.py: a wildcard union when no
// explicit read versions are configured, else the configured list.
func (t *Topology) readIndexPattern(bucket model.Bucket) string {
	if len(t.ReadVersions) == 0 {
		return fmt.Sprintf("%s-entity-%s-*", t.Prefix, bucket)
	}
	patterns := make([]string, len(t.ReadVersions))
	for i, v := range t.ReadVersions {
		patterns[i] = t.BucketIndex(bucket, v)
	}
	return strings.Join(patterns, ",")
}

// EntitiesReadIndex returns a comma-joined list of read indexes covering
// every bucket touched by the given schemata (plus descendants if
// expand). With no schemata given, the default read scope is the Thing
// subtree.
func (t *Topology) EntitiesReadIndex(schemata []string, expand bool) (string, error) {
	names := schemata
	if len(names) == 0 {
		names = []string{"Thing"}
	}

	buckets := map[model.Bucket]bool{}
	for _, name := range names {
		s, err := t.Registry.Schema(name)
		if err != nil {
			return "", err
		}
		buckets[SchemaBucket(s)] = true

		if expand {
			for _, d := range s.Descendants() {
				ds, err := t.Registry.Schema(d)
				if err != nil {
					continue
				}
				buckets[SchemaBucket(ds)] = true
			}
		}
	}

	patterns := make([]string, 0, len(buckets))
	for b := range buckets {
		patterns = append(patterns, t.readIndexPattern(b))
	}
	sort.Strings(patterns)
	return strings.Join(patterns, ","), nil
}
