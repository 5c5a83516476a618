package record

import (
	"fmt"
	"strings"
)

// ForeignKey declares that Field holds the primary key of a Target record.
// Resolved entities are exposed under Name.
type ForeignKey struct {
	Field  string
	Name   string
	Target Kind
}

// Schema describes one entity kind.
type Schema struct {
	Kind        Kind
	Fields      []string
	Numeric     []string
	ForeignKeys []ForeignKey
}

// ForeignKey returns the declaration for field, if it is a foreign key.
func (s Schema) ForeignKey(field string) (ForeignKey, bool) {
	for _, fk := range s.ForeignKeys {
		if fk.Field == field {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

// IsNumeric reports whether field compares and serializes as a number.
func (s Schema) IsNumeric(field string) bool {
	for _, f := range s.Numeric {
		if f == field {
			return true
		}
	}
	return false
}

var schemas = map[Kind]Schema{
	Shops: {
		Kind:    Shops,
		Fields:  []string{PrimaryKey, "name", "lat", "lng"},
		Numeric: []string{"lat", "lng"},
	},
	Products: {
		Kind:        Products,
		Fields:      []string{PrimaryKey, "shop_id", "title", "popularity", "quantity"},
		Numeric:     []string{"popularity", "quantity"},
		ForeignKeys: []ForeignKey{{Field: "shop_id", Name: "shop", Target: Shops}},
	},
	Tags: {
		Kind:   Tags,
		Fields: []string{PrimaryKey, "tag"},
	},
	Taggings: {
		Kind:   Taggings,
		Fields: []string{PrimaryKey, "shop_id", "tag_id"},
		ForeignKeys: []ForeignKey{
			{Field: "shop_id", Name: "shop", Target: Shops},
			{Field: "tag_id", Name: "tag", Target: Tags},
		},
	},
}

func init() {
	if err := validateSchemas(schemas); err != nil {
		panic(err)
	}
}

// SchemaFor returns the declared schema of kind. Kinds without a declaration
// get an empty schema: no foreign keys, every field a string.
func SchemaFor(kind Kind) Schema {
	if s, ok := schemas[kind]; ok {
		return s
	}
	return Schema{Kind: kind}
}

// validateSchemas checks that every foreign key targets a declared kind, is a
// declared field, and that the reference graph is acyclic so nested
// serialization terminates.
func validateSchemas(all map[Kind]Schema) error {
	for kind, s := range all {
		for _, fk := range s.ForeignKeys {
			if _, ok := all[fk.Target]; !ok {
				return fmt.Errorf("schema %s: foreign key %s targets undeclared kind %s", kind, fk.Field, fk.Target)
			}
			if !contains(s.Fields, fk.Field) {
				return fmt.Errorf("schema %s: foreign key %s is not a declared field", kind, fk.Field)
			}
			if fk.Name == "" || contains(s.Fields, fk.Name) {
				return fmt.Errorf("schema %s: foreign key %s has invalid name %q", kind, fk.Field, fk.Name)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[Kind]int, len(all))
	var visit func(k Kind, path []string) error
	visit = func(k Kind, path []string) error {
		switch state[k] {
		case visiting:
			return fmt.Errorf("schema: foreign key cycle %s -> %s", strings.Join(path, " -> "), k)
		case done:
			return nil
		}
		state[k] = visiting
		for _, fk := range all[k].ForeignKeys {
			if err := visit(fk.Target, append(path, string(k))); err != nil {
				return err
			}
		}
		state[k] = done
		return nil
	}
	for k := range all {
		if err := visit(k, nil); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Dangling is a foreign key value that matches no record of its target kind.
type Dangling struct {
	Kind   Kind
	ID     string
	Field  string
	Target Kind
	Value  string
}

func (d Dangling) String() string {
	return fmt.Sprintf("%s[%s].%s -> %s[%s]", d.Kind, d.ID, d.Field, d.Target, d.Value)
}

// CheckIntegrity lists every dangling foreign key in the store.
func CheckIntegrity(s *Store) []Dangling {
	var out []Dangling
	for _, kind := range s.Kinds() {
		sch := SchemaFor(kind)
		if len(sch.ForeignKeys) == 0 {
			continue
		}
		s.Each(kind, func(id string, rec Record) bool {
			for _, fk := range sch.ForeignKeys {
				v, ok := rec[fk.Field]
				if !ok {
					continue
				}
				if _, found := s.Get(fk.Target, v); !found {
					out = append(out, Dangling{Kind: kind, ID: id, Field: fk.Field, Target: fk.Target, Value: v})
				}
			}
			return true
		})
	}
	return out
}
