package document

import (
	"reflect"
	"strings"
)

// bsonNaming keys fields the way the bson struct codec does.
func bsonNaming(f reflect.StructField) (key string, id bool, skip bool) {
	tag, ok := f.Tag.Lookup("bson")
	if ok && tag == "-" {
		return "", false, true
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = strings.ToLower(f.Name)
	}
	return name, name == "_id", false
}

// inline reports whether an embedded struct is stored in its parent document.
func inline(f reflect.StructField) bool {
	_, opts, _ := strings.Cut(f.Tag.Get("bson"), ",")
	for _, opt := range strings.Split(opts, ",") {
		if opt == "inline" {
			return true
		}
	}
	return false
}

// collectionName is the default collection of a class.
func collectionName(typeName string) string {
	return strings.ToLower(typeName)
}
