// Package metadata maps Go struct types ("classes") to their storage schema.
//
// A Factory introspects registered types with a Naming supplied by the
// toolkit adapter, then lets a Driver (attribute tags, code loaders, YAML or
// XML mapping files) complete the mapping.
package metadata

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

var (
	// ErrClassNotMapped is returned when no driver knows a class.
	ErrClassNotMapped = errors.New("class is not mapped")
	// ErrInvalidMapping is returned for malformed mapping definitions.
	ErrInvalidMapping = errors.New("invalid mapping")
)

// FieldMapping describes a persistent field.
type FieldMapping struct {
	Name      string
	GoName    string
	Key       string
	Type      reflect.Type
	Index     []int
	ID        bool
	Indexed   bool
	Unique    bool
	Transient bool
}

// AssociationMapping describes a field referencing another class.
type AssociationMapping struct {
	Name   string
	GoName string
	Key    string
	Target string
	Many   bool
	Index  []int

	// JoinField and JoinKey name the <Field>ID field holding the reference, if any.
	JoinField string
	JoinKey   string
}

// IndexMapping is a compound index.
type IndexMapping struct {
	Name   string   `yaml:"name" xml:"name,attr" json:"name"`
	Fields []string `yaml:"fields" json:"fields"`
	Unique bool     `yaml:"unique" xml:"unique,attr" json:"unique"`
}

// ClassMetadata is the mapping of one class.
type ClassMetadata struct {
	Name             string
	Type             reflect.Type
	Storage          string
	Identifier       string
	Fields           map[string]*FieldMapping
	Associations     map[string]*AssociationMapping
	Indexes          []IndexMapping
	CustomRepository string
	Embedded         bool

	order []string
}

// FieldNames returns the persistent field names in declaration order.
func (md *ClassMetadata) FieldNames() []string {
	names := make([]string, 0, len(md.Fields))
	for _, n := range md.order {
		if _, ok := md.Fields[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// AssociationNames returns the association names sorted.
func (md *ClassMetadata) AssociationNames() []string {
	names := make([]string, 0, len(md.Associations))
	for n := range md.Associations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasField reports whether name is a persistent field.
func (md *ClassMetadata) HasField(name string) bool {
	_, ok := md.Field(name)
	return ok
}

// HasAssociation reports whether name is an association.
func (md *ClassMetadata) HasAssociation(name string) bool {
	_, ok := md.Association(name)
	return ok
}

// Field looks a field up by name. A case-insensitive match is accepted only
// when it is unique.
func (md *ClassMetadata) Field(name string) (*FieldMapping, bool) {
	return lookup(md.Fields, name)
}

// Association looks an association up by name, like Field.
func (md *ClassMetadata) Association(name string) (*AssociationMapping, bool) {
	return lookup(md.Associations, name)
}

func lookup[M any](mappings map[string]*M, name string) (*M, bool) {
	if m, ok := mappings[name]; ok {
		return m, true
	}
	var found *M
	for n, m := range mappings {
		if !strings.EqualFold(n, name) {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = m
	}
	return found, found != nil
}

// StorageKey returns the storage key of a field, or the join key of an
// association.
func (md *ClassMetadata) StorageKey(name string) (string, bool) {
	if f, ok := md.Field(name); ok {
		return f.Key, true
	}
	if a, ok := md.Association(name); ok {
		if a.JoinKey != "" {
			return a.JoinKey, true
		}
		return a.Key, true
	}
	return "", false
}

// IdentifierField returns the identifier mapping, if the class has one.
func (md *ClassMetadata) IdentifierField() (*FieldMapping, bool) {
	if md.Identifier == "" {
		return nil, false
	}
	return md.Field(md.Identifier)
}

// NewInstance returns a pointer to a new zero value of the class.
func (md *ClassMetadata) NewInstance() any {
	return reflect.New(md.Type).Interface()
}

// NewSlice returns a pointer to an empty slice of class pointers.
func (md *ClassMetadata) NewSlice() any {
	return reflect.New(reflect.SliceOf(reflect.PointerTo(md.Type))).Interface()
}

// IsInstance reports whether obj is a pointer to the class.
func (md *ClassMetadata) IsInstance(obj any) bool {
	if obj == nil {
		return false
	}
	return reflect.TypeOf(obj) == reflect.PointerTo(md.Type)
}

// IdentifierValue returns the identifier of obj. ok is false when the class
// has no identifier or obj is not an instance.
func (md *ClassMetadata) IdentifierValue(obj any) (value any, ok bool) {
	id, found := md.IdentifierField()
	if !found || !md.IsInstance(obj) {
		return nil, false
	}
	v := reflect.ValueOf(obj).Elem().FieldByIndex(id.Index)
	return v.Interface(), true
}

// HasIdentifierValue reports whether obj has a non-zero identifier.
func (md *ClassMetadata) HasIdentifierValue(obj any) bool {
	id, found := md.IdentifierField()
	if !found || !md.IsInstance(obj) {
		return false
	}
	return !reflect.ValueOf(obj).Elem().FieldByIndex(id.Index).IsZero()
}

// SetIdentifierValue sets the identifier of obj, converting value when needed.
func (md *ClassMetadata) SetIdentifierValue(obj, value any) error {
	id, found := md.IdentifierField()
	if !found {
		return fmt.Errorf("class %q has no identifier", md.Name)
	}
	if !md.IsInstance(obj) {
		return fmt.Errorf("%T is not an instance of %q", obj, md.Name)
	}
	return setValue(reflect.ValueOf(obj).Elem().FieldByIndex(id.Index), value)
}

// FieldValue returns the value of a field or association of obj.
func (md *ClassMetadata) FieldValue(obj any, name string) (any, bool) {
	if !md.IsInstance(obj) {
		return nil, false
	}
	if f, ok := md.Field(name); ok {
		return reflect.ValueOf(obj).Elem().FieldByIndex(f.Index).Interface(), true
	}
	if a, ok := md.Association(name); ok {
		return reflect.ValueOf(obj).Elem().FieldByIndex(a.Index).Interface(), true
	}
	return nil, false
}

func setValue(dst reflect.Value, value any) error {
	src := reflect.ValueOf(value)
	if !src.IsValid() {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
	case src.Type().ConvertibleTo(dst.Type()) && (dst.Kind() != reflect.String || src.Kind() == reflect.String):
		dst.Set(src.Convert(dst.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", value, dst.Type())
	}
	return nil
}
