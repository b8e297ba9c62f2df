// Package secondary maintains the declared secondary indices: per
// (label, field) lookup structures, either unique (at most one owner per
// value) or multi-valued.
//
// Postings are roaring bitmaps over record insertion sequences; the store
// resolves sequences back to record ids. Index maintenance is synchronous
// with the owning record's write, inside the same transaction.
package secondary

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/gravel-db/gravel/property"
)

// ErrUniqueViolation is returned when a unique-index insert maps a value to
// a second owner.
var ErrUniqueViolation = errors.New("secondary: unique constraint violation")

// Spec declares one secondary index at engine configuration time.
type Spec struct {
	Label  string
	Field  string
	Unique bool
}

func specKey(label, field string) string { return label + "\x00" + field }

// Catalog is the set of declared secondary indices. It is constructed once
// at store initialization and shared by the store and the traversal
// executor; there is no ambient global registry.
type Catalog struct {
	specs   map[string]Spec
	byLabel map[string][]Spec
}

// NewCatalog builds a catalog from the declared specs.
func NewCatalog(specs []Spec) *Catalog {
	c := &Catalog{
		specs:   make(map[string]Spec, len(specs)),
		byLabel: make(map[string][]Spec),
	}
	for _, s := range specs {
		k := specKey(s.Label, s.Field)
		if _, dup := c.specs[k]; dup {
			continue
		}
		c.specs[k] = s
		c.byLabel[s.Label] = append(c.byLabel[s.Label], s)
	}
	return c
}

// Spec returns the declaration for (label, field).
func (c *Catalog) Spec(label, field string) (Spec, bool) {
	s, ok := c.specs[specKey(label, field)]
	return s, ok
}

// ForLabel returns all index declarations on the given label.
func (c *Catalog) ForLabel(label string) []Spec {
	return c.byLabel[label]
}

// Len returns the number of declared indices.
func (c *Catalog) Len() int { return len(c.specs) }

// Specs returns all declared indices.
func (c *Catalog) Specs() []Spec {
	out := make([]Spec, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s)
	}
	return out
}

// Index holds the postings for one declared (label, field) index.
//
// Mutations are copy-on-write: the bitmap for a value is cloned before it
// is changed, so a shallow Clone of the whole index is enough for snapshot
// publication and old readers never see new postings.
type Index struct {
	spec     Spec
	postings map[string]*roaring.Bitmap // value key -> owner seqs
}

// NewIndex creates an empty index for the given spec.
func NewIndex(spec Spec) *Index {
	return &Index{spec: spec, postings: make(map[string]*roaring.Bitmap)}
}

// Spec returns the index declaration.
func (ix *Index) Spec() Spec { return ix.spec }

// Clone returns a copy safe to mutate while readers hold the original.
func (ix *Index) Clone() *Index {
	clone := &Index{spec: ix.spec, postings: make(map[string]*roaring.Bitmap, len(ix.postings))}
	for k, bm := range ix.postings {
		clone.postings[k] = bm
	}
	return clone
}

// Insert adds seq as an owner of value. On a unique index, a value that
// already maps to a different owner fails with ErrUniqueViolation.
func (ix *Index) Insert(value property.Value, seq uint32) error {
	key := value.Key()
	bm := ix.postings[key]
	if bm != nil && ix.spec.Unique && !bm.IsEmpty() && !bm.Contains(seq) {
		return fmt.Errorf("%w: %s.%s", ErrUniqueViolation, ix.spec.Label, ix.spec.Field)
	}
	if bm == nil {
		bm = roaring.New()
	} else {
		bm = bm.Clone()
	}
	bm.Add(seq)
	ix.postings[key] = bm
	return nil
}

// Remove drops seq as an owner of value.
func (ix *Index) Remove(value property.Value, seq uint32) {
	key := value.Key()
	bm := ix.postings[key]
	if bm == nil || !bm.Contains(seq) {
		return
	}
	bm = bm.Clone()
	bm.Remove(seq)
	if bm.IsEmpty() {
		delete(ix.postings, key)
		return
	}
	ix.postings[key] = bm
}

// Lookup returns the owner seqs for value in ascending order. The result
// is empty (not an error) when the value is unindexed.
func (ix *Index) Lookup(value property.Value) []uint32 {
	bm := ix.postings[value.Key()]
	if bm == nil {
		return nil
	}
	return bm.ToArray()
}

// Cardinality returns the number of owners for value.
func (ix *Index) Cardinality(value property.Value) uint64 {
	bm := ix.postings[value.Key()]
	if bm == nil {
		return 0
	}
	return bm.GetCardinality()
}
