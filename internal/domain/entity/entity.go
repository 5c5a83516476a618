// Package entity wraps raw records into typed, field-accessible values with
// their foreign keys resolved to nested entities.
package entity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/shopgeo/internal/domain"
	"github.com/kailas-cloud/shopgeo/internal/domain/record"
)

// Resolver fetches a referenced entity by kind and primary key.
type Resolver func(kind record.Kind, id string) (*Entity, error)

// Entity is a transient view over one record. Two entities built from the
// same record are value-equal but distinct.
type Entity struct {
	schema record.Schema
	rec    record.Record
	refs   map[string]*Entity
}

// New builds an entity of kind from rec and eagerly resolves every declared
// foreign key through resolve. A dangling reference fails construction with
// the resolver's error (normally domain.ErrObjectNotFound).
func New(kind record.Kind, rec record.Record, resolve Resolver) (*Entity, error) {
	e := &Entity{
		schema: record.SchemaFor(kind),
		rec:    rec.Clone(),
	}
	for _, fk := range e.schema.ForeignKeys {
		v, ok := e.rec[fk.Field]
		if !ok {
			continue
		}
		if resolve == nil {
			return nil, fmt.Errorf("%s.%s: no resolver for foreign key", kind, fk.Field)
		}
		ref, err := resolve(fk.Target, v)
		if err != nil {
			return nil, fmt.Errorf("resolve %s.%s: %w", kind, fk.Field, err)
		}
		if e.refs == nil {
			e.refs = make(map[string]*Entity, len(e.schema.ForeignKeys))
		}
		e.refs[fk.Field] = ref
	}
	return e, nil
}

// Kind returns the entity kind.
func (e *Entity) Kind() record.Kind { return e.schema.Kind }

// ID returns the primary key.
func (e *Entity) ID() string { return e.rec[record.PrimaryKey] }

// FieldNames returns the fields present on the record, primary key included.
func (e *Entity) FieldNames() []string { return e.rec.FieldNames() }

// Has reports whether the field is present.
func (e *Entity) Has(field string) bool { return e.rec.Has(field) }

// Get returns the raw value of field.
func (e *Entity) Get(field string) (string, error) {
	v, ok := e.rec[field]
	if !ok {
		return "", domain.NewFieldError(string(e.Kind()), field, domain.ErrFieldDoesNotExist)
	}
	return v, nil
}

// Float returns field parsed as a float64.
func (e *Entity) Float(field string) (float64, error) {
	v, err := e.Get(field)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s.%s: %w", e.Kind(), field, err)
	}
	return f, nil
}

// Scalar returns the natural value of field: float64 for declared numeric
// fields that parse, the raw string otherwise.
func (e *Entity) Scalar(field string) (any, error) {
	v, err := e.Get(field)
	if err != nil {
		return nil, err
	}
	if e.schema.IsNumeric(field) {
		if f, perr := strconv.ParseFloat(strings.TrimSpace(v), 64); perr == nil {
			return f, nil
		}
	}
	return v, nil
}

// Ref returns the entity referenced by a foreign key, addressed either by the
// key field ("shop_id") or by its resolved name ("shop").
func (e *Entity) Ref(name string) (*Entity, error) {
	for _, fk := range e.schema.ForeignKeys {
		if fk.Field != name && fk.Name != name {
			continue
		}
		if ref, ok := e.refs[fk.Field]; ok {
			return ref, nil
		}
		break
	}
	return nil, domain.NewFieldError(string(e.Kind()), name, domain.ErrFieldDoesNotExist)
}

// ToMap serializes the entity. Scalars follow Scalar; each resolved foreign
// key is added under its name as the referenced entity's own ToMap.
func (e *Entity) ToMap() map[string]any {
	m := make(map[string]any, len(e.rec)+len(e.refs))
	for field := range e.rec {
		v, _ := e.Scalar(field)
		m[field] = v
	}
	for _, fk := range e.schema.ForeignKeys {
		if ref, ok := e.refs[fk.Field]; ok {
			m[fk.Name] = ref.ToMap()
		}
	}
	return m
}

// Compare orders a and b by field using its natural value. Declared numeric
// fields compare as numbers; values that fail to parse sort before numbers and
// among themselves as strings. Other fields compare as strings.
// Both entities must carry the field.
func Compare(a, b *Entity, field string) int {
	av, bv := a.rec[field], b.rec[field]
	if !a.schema.IsNumeric(field) {
		return strings.Compare(av, bv)
	}
	af, aerr := strconv.ParseFloat(strings.TrimSpace(av), 64)
	bf, berr := strconv.ParseFloat(strings.TrimSpace(bv), 64)
	switch {
	case aerr != nil && berr != nil:
		return strings.Compare(av, bv)
	case aerr != nil:
		return -1
	case berr != nil:
		return 1
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}
