// Package query is the object manager over a record.Store: exact lookups,
// filtering with field lookups, and stable sorting, all returning freshly
// materialized entities.
package query

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/shopgeo/internal/domain"
	"github.com/kailas-cloud/shopgeo/internal/domain/entity"
	"github.com/kailas-cloud/shopgeo/internal/domain/record"
)

// Lookup is a comparison operator usable in a filter key suffix.
type Lookup string

// Allowed lookups.
const (
	Exact Lookup = "exact"
	In    Lookup = "in"
)

// LookupSeparator separates the field name from the lookup in a filter key.
const LookupSeparator = "__"

var allowedLookups = map[Lookup]bool{Exact: true, In: true}

// Order is a sort direction.
type Order int

// Sort directions.
const (
	Ascending Order = iota
	Descending
)

// Sort orders results by the natural value of Field.
type Sort struct {
	Field string
	Order Order
}

// Asc sorts ascending by field.
func Asc(field string) *Sort { return &Sort{Field: field, Order: Ascending} }

// Desc sorts descending by field.
func Desc(field string) *Sort { return &Sort{Field: field, Order: Descending} }

// Filters maps a filter key ("field" or "field__lookup") to its operand.
// Exact takes a string; In takes a []string. On schema-numeric fields a
// numeric operand (or a slice of them for In) matches by value, so 0.5
// matches a stored "0.50". Every other operand compares as its string form
// against the raw stored value.
type Filters map[string]any

// DB hands out per-kind managers over one injected store.
type DB struct {
	store *record.Store
}

// New creates a DB over store.
func New(store *record.Store) *DB {
	return &DB{store: store}
}

// Store returns the underlying store.
func (db *DB) Store() *record.Store { return db.store }

// Objects returns the manager bound to kind.
func (db *DB) Objects(kind record.Kind) *Manager {
	return &Manager{db: db, kind: kind}
}

func (db *DB) resolve(kind record.Kind, id string) (*entity.Entity, error) {
	return db.Objects(kind).Get(id)
}

// Manager runs queries against one entity kind.
type Manager struct {
	db   *DB
	kind record.Kind
}

// Kind returns the bound kind.
func (m *Manager) Kind() record.Kind { return m.kind }

// Get returns the entity with primary key id, or domain.ErrObjectNotFound.
func (m *Manager) Get(id string) (*entity.Entity, error) {
	rec, ok := m.db.store.Get(m.kind, id)
	if !ok {
		return nil, domain.NewNotFound(string(m.kind), id)
	}
	return m.materialize(rec)
}

// All returns every entity of the kind in load order, stably sorted when s is
// non-nil. The sort key must be a field of the first materialized entity.
func (m *Manager) All(s *Sort) ([]*entity.Entity, error) {
	out := make([]*entity.Entity, 0, m.db.store.Len(m.kind))
	var err error
	m.db.store.Each(m.kind, func(_ string, rec record.Record) bool {
		var e *entity.Entity
		e, err = m.materialize(rec)
		if err != nil {
			return false
		}
		out = append(out, e)
		return true
	})
	if err != nil {
		return nil, err
	}
	if s != nil && len(out) > 0 && !out[0].Has(s.Field) {
		return nil, domain.NewFieldError(string(m.kind), s.Field, domain.ErrInvalidSortKey)
	}
	sortEntities(out, s)
	return out, nil
}

// Filter returns the entities matching every predicate in filters, stably
// sorted when s is non-nil. All keys and the sort field are validated before
// any record is examined.
func (m *Manager) Filter(filters Filters, s *Sort) ([]*entity.Entity, error) {
	preds, err := m.compile(filters, s)
	if err != nil {
		return nil, err
	}

	var out []*entity.Entity
	m.db.store.Each(m.kind, func(_ string, rec record.Record) bool {
		for _, p := range preds {
			if !p.match(rec) {
				return true
			}
		}
		var e *entity.Entity
		e, err = m.materialize(rec)
		if err != nil {
			return false
		}
		out = append(out, e)
		return true
	})
	if err != nil {
		return nil, err
	}
	sortEntities(out, s)
	return out, nil
}

func (m *Manager) materialize(rec record.Record) (*entity.Entity, error) {
	return entity.New(m.kind, rec, m.db.resolve)
}

// fieldSet returns the fields of a representative record: the first loaded
// record, or the declared schema when the collection is empty.
func (m *Manager) fieldSet() map[string]bool {
	var names []string
	if rec, ok := m.db.store.First(m.kind); ok {
		names = rec.FieldNames()
	} else {
		names = record.SchemaFor(m.kind).Fields
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

type predicate struct {
	field  string
	lookup Lookup
	value  string
	set    map[string]struct{}

	numeric bool
	nums    map[float64]struct{}
}

func (p predicate) match(rec record.Record) bool {
	v, ok := rec[p.field]
	if !ok {
		return false
	}
	if p.numeric {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return false
		}
		_, hit := p.nums[f]
		return hit
	}
	if p.lookup == In {
		_, hit := p.set[v]
		return hit
	}
	return v == p.value
}

// compile normalizes and validates filter keys in three passes: field
// existence, sort key, then lookup names.
func (m *Manager) compile(filters Filters, s *Sort) ([]predicate, error) {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type parsed struct {
		field  string
		lookup Lookup
		key    string
	}
	parts := make([]parsed, len(keys))
	for i, k := range keys {
		field, lookup := splitKey(k)
		parts[i] = parsed{field: field, lookup: lookup, key: k}
	}

	fields := m.fieldSet()
	for _, p := range parts {
		if !fields[p.field] {
			return nil, domain.NewFieldError(string(m.kind), p.field, domain.ErrFieldDoesNotExist)
		}
	}
	if s != nil && !fields[s.Field] {
		return nil, domain.NewFieldError(string(m.kind), s.Field, domain.ErrInvalidSortKey)
	}
	for _, p := range parts {
		if !allowedLookups[p.lookup] {
			return nil, domain.NewFieldError(string(m.kind), p.key, domain.ErrLookupNotAllowed)
		}
	}

	schema := record.SchemaFor(m.kind)
	preds := make([]predicate, len(parts))
	for i, p := range parts {
		pred := predicate{field: p.field, lookup: p.lookup}
		operand := filters[p.key]
		if schema.IsNumeric(p.field) {
			if nums, ok := toFloats(operand, p.lookup == In); ok {
				pred.numeric = true
				pred.nums = nums
				preds[i] = pred
				continue
			}
		}
		if p.lookup == In {
			values := toStrings(operand)
			pred.set = make(map[string]struct{}, len(values))
			for _, v := range values {
				pred.set[v] = struct{}{}
			}
		} else {
			pred.value = toString(operand)
		}
		preds[i] = pred
	}
	return preds, nil
}

// splitKey splits "field__lookup"; a bare field name means an exact match.
func splitKey(key string) (string, Lookup) {
	field, lookup, found := strings.Cut(key, LookupSeparator)
	if !found {
		return key, Exact
	}
	return field, Lookup(lookup)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// toFloats returns the numeric values of a numeric operand: a single number
// for Exact, a slice of numbers for In. String operands are not numeric.
func toFloats(v any, many bool) (map[float64]struct{}, bool) {
	if !many {
		f, ok := toFloat(v)
		if !ok {
			return nil, false
		}
		return map[float64]struct{}{f: {}}, true
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []float64:
		for _, f := range t {
			items = append(items, f)
		}
	case []int:
		for _, n := range t {
			items = append(items, n)
		}
	default:
		return nil, false
	}
	out := make(map[float64]struct{}, len(items))
	for _, x := range items {
		f, ok := toFloat(x)
		if !ok {
			return nil, false
		}
		out[f] = struct{}{}
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	default:
		return 0, false
	}
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case string:
		return []string{t}
	case []any:
		out := make([]string, len(t))
		for i, x := range t {
			out[i] = toString(x)
		}
		return out
	default:
		return []string{toString(v)}
	}
}

func sortEntities(list []*entity.Entity, s *Sort) {
	if s == nil {
		return
	}
	slices.SortStableFunc(list, func(a, b *entity.Entity) int {
		c := entity.Compare(a, b, s.Field)
		if s.Order == Descending {
			return -c
		}
		return c
	})
}

// IDs returns the primary keys of list in order.
func IDs(list []*entity.Entity) []string {
	ids := make([]string, len(list))
	for i, e := range list {
		ids[i] = e.ID()
	}
	return ids
}
