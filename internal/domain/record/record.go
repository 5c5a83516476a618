// Package record holds the raw, read-only dataset: one collection of string
// records per entity kind, plus the static schema describing each kind.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

// Kind names an entity collection.
type Kind string

// Entity kinds of the shop dataset.
const (
	Shops    Kind = "shops"
	Products Kind = "products"
	Tags     Kind = "tags"
	Taggings Kind = "taggings"
)

// PrimaryKey is the field holding a record's identifier.
const PrimaryKey = "id"

// Record is one raw row: field name to raw string value.
// Records handed out by a Store are shared and must not be modified.
type Record map[string]string

// FieldNames returns the record's field names in sorted order.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the record carries the field.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// Clone returns an independent copy.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

type collection struct {
	ids  []string
	rows map[string]Record
}

// Store is the immutable in-memory dataset. Build one with a Builder.
type Store struct {
	collections map[Kind]*collection

	fpOnce sync.Once
	fp     string
}

// Fingerprint returns a hex digest of the whole dataset: every kind, record
// order, field name and value. Equal datasets share a fingerprint.
func (s *Store) Fingerprint() string {
	s.fpOnce.Do(func() {
		h := sha256.New()
		frame := func(v string) { fmt.Fprintf(h, "%d:%s;", len(v), v) }
		for _, kind := range s.Kinds() {
			c := s.collections[kind]
			frame(string(kind))
			fmt.Fprintf(h, "n=%d;", len(c.ids))
			for _, id := range c.ids {
				rec := c.rows[id]
				frame(id)
				fmt.Fprintf(h, "f=%d;", len(rec))
				for _, name := range rec.FieldNames() {
					frame(name)
					frame(rec[name])
				}
			}
		}
		s.fp = hex.EncodeToString(h.Sum(nil))
	})
	return s.fp
}

// Get returns the record with the given primary key.
func (s *Store) Get(kind Kind, id string) (Record, bool) {
	c, ok := s.collections[kind]
	if !ok {
		return nil, false
	}
	rec, ok := c.rows[id]
	return rec, ok
}

// Each calls fn for every record of kind in load order until fn returns false.
func (s *Store) Each(kind Kind, fn func(id string, rec Record) bool) {
	c, ok := s.collections[kind]
	if !ok {
		return
	}
	for _, id := range c.ids {
		if !fn(id, c.rows[id]) {
			return
		}
	}
}

// First returns the first loaded record of kind.
func (s *Store) First(kind Kind) (Record, bool) {
	c, ok := s.collections[kind]
	if !ok || len(c.ids) == 0 {
		return nil, false
	}
	return c.rows[c.ids[0]], true
}

// Len returns the number of records of kind.
func (s *Store) Len(kind Kind) int {
	if c, ok := s.collections[kind]; ok {
		return len(c.ids)
	}
	return 0
}

// Kinds returns the loaded kinds in sorted order.
func (s *Store) Kinds() []Kind {
	kinds := make([]Kind, 0, len(s.collections))
	for k := range s.collections {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Builder populates a Store. It is not safe for concurrent use.
type Builder struct {
	collections map[Kind]*collection
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{collections: make(map[Kind]*collection)}
}

// Collection registers kind even if it ends up with no records.
func (b *Builder) Collection(kind Kind) *Builder {
	b.coll(kind)
	return b
}

// Add appends a record. The primary key is stored as the "id" field.
func (b *Builder) Add(kind Kind, id string, fields map[string]string) error {
	if id == "" {
		return fmt.Errorf("%s: empty primary key", kind)
	}
	c := b.coll(kind)
	if _, dup := c.rows[id]; dup {
		return fmt.Errorf("%s: duplicate primary key %q", kind, id)
	}
	rec := make(Record, len(fields)+1)
	for k, v := range fields {
		rec[k] = v
	}
	rec[PrimaryKey] = id
	c.ids = append(c.ids, id)
	c.rows[id] = rec
	return nil
}

// MustAdd is Add that panics on error. Intended for fixtures.
func (b *Builder) MustAdd(kind Kind, id string, fields map[string]string) *Builder {
	if err := b.Add(kind, id, fields); err != nil {
		panic(err)
	}
	return b
}

// Build freezes the collected records into a Store. The Builder must not be
// used afterwards.
func (b *Builder) Build() *Store {
	s := &Store{collections: b.collections}
	b.collections = nil
	return s
}

func (b *Builder) coll(kind Kind) *collection {
	c, ok := b.collections[kind]
	if !ok {
		c = &collection{rows: make(map[string]Record)}
		b.collections[kind] = c
	}
	return c
}
