package metadata

import (
	"reflect"
	"strings"

	"github.com/iancoleman/strcase"
)

// Naming derives storage names the way the underlying toolkit does, so keys
// used in criteria match the keys the toolkit writes.
type Naming struct {
	// Key returns the storage key of a struct field. skip excludes the field
	// from the mapping, id marks the toolkit's primary key.
	Key func(f reflect.StructField) (key string, id bool, skip bool)

	// Storage returns the default table or collection name of a type.
	Storage func(typeName string) string

	// Flatten reports whether an embedded struct field is stored inline.
	Flatten func(f reflect.StructField) bool
}

// DefaultNaming keys fields by their lowercased Go name and stores classes
// under their type name.
func DefaultNaming() Naming {
	return Naming{
		Key: func(f reflect.StructField) (string, bool, bool) {
			return strings.ToLower(f.Name), f.Name == "ID", false
		},
		Storage: func(typeName string) string { return typeName },
		Flatten: func(f reflect.StructField) bool { return f.Anonymous },
	}
}

func (n Naming) withDefaults() Naming {
	d := DefaultNaming()
	if n.Key == nil {
		n.Key = d.Key
	}
	if n.Storage == nil {
		n.Storage = d.Storage
	}
	if n.Flatten == nil {
		n.Flatten = d.Flatten
	}
	return n
}

// FieldName is the mapping name of a Go struct field or of a field named in
// a dynamic method call: "FirstName", "first_name" and "firstName" all give
// "firstName".
func FieldName(name string) string {
	return strcase.ToLowerCamel(name)
}

func introspect(name string, t reflect.Type, naming Naming, classes map[reflect.Type]string) *ClassMetadata {
	md := &ClassMetadata{
		Name:         name,
		Type:         t,
		Storage:      naming.Storage(name),
		Fields:       make(map[string]*FieldMapping),
		Associations: make(map[string]*AssociationMapping),
	}
	collect(md, t, nil, naming, classes)

	if md.Identifier == "" {
		for _, n := range md.order {
			if f := md.Fields[n]; f.GoName == "ID" {
				f.ID = true
				md.Identifier = n
				break
			}
		}
	}

	for _, a := range md.Associations {
		for _, f := range md.Fields {
			if f.GoName == a.GoName+"ID" {
				a.JoinField = f.Name
				a.JoinKey = f.Key
			}
		}
	}
	return md
}

func collect(md *ClassMetadata, t reflect.Type, parent []int, naming Naming, classes map[reflect.Type]string) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		index := append(append([]int(nil), parent...), i)

		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && naming.Flatten(sf) {
			collect(md, sf.Type, index, naming, classes)
			continue
		}

		key, id, skip := naming.Key(sf)
		if skip {
			continue
		}
		name := FieldName(sf.Name)

		if target, many, ok := associationTarget(sf.Type, classes); ok {
			md.Associations[name] = &AssociationMapping{
				Name:   name,
				GoName: sf.Name,
				Key:    key,
				Target: target,
				Many:   many,
				Index:  index,
			}
			continue
		}

		f := &FieldMapping{
			Name:   name,
			GoName: sf.Name,
			Key:    key,
			Type:   sf.Type,
			Index:  index,
		}
		if id && md.Identifier == "" {
			f.ID = true
			md.Identifier = name
		}
		md.Fields[name] = f
		md.order = append(md.order, name)
	}
}

func associationTarget(t reflect.Type, classes map[reflect.Type]string) (string, bool, bool) {
	many := false
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Slice {
		many = true
		t = t.Elem()
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
	}
	name, ok := classes[t]
	return name, many, ok
}
