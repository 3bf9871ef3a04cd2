package metadata

import (
	"fmt"
	"strings"
)

// AttributeDriver reads `silo` struct tags and naming methods. It handles
// every class.
//
//	type User struct {
//		ID    string `silo:"id"`
//		Email string `silo:"unique"`
//		Token string `silo:"transient"`
//	}
//
// Optional methods: TableName() or CollectionName() set the storage name,
// RepositoryName() the custom repository, IsEmbedded() marks embedded classes.
type AttributeDriver struct{}

// NewAttributeDriver creates an attribute driver.
func NewAttributeDriver() *AttributeDriver {
	return &AttributeDriver{}
}

// Load implements Driver.
func (d *AttributeDriver) Load(md *ClassMetadata) (bool, error) {
	for _, name := range md.FieldNames() {
		f := md.Fields[name]
		tag, ok := md.Type.FieldByIndex(f.Index).Tag.Lookup("silo")
		if !ok {
			continue
		}
		for _, opt := range strings.Split(tag, ",") {
			switch strings.TrimSpace(opt) {
			case "":
			case "id":
				if err := setIdentifier(md, name); err != nil {
					return false, err
				}
			case "index":
				f.Indexed = true
			case "unique":
				f.Unique = true
			case "transient":
				markTransient(md, name)
			default:
				return false, fmt.Errorf("%w: unknown silo tag option %q on %s.%s", ErrInvalidMapping, opt, md.Name, f.GoName)
			}
		}
	}

	obj := md.NewInstance()
	if t, ok := obj.(interface{ TableName() string }); ok {
		md.Storage = t.TableName()
	}
	if c, ok := obj.(interface{ CollectionName() string }); ok {
		md.Storage = c.CollectionName()
	}
	if r, ok := obj.(interface{ RepositoryName() string }); ok {
		md.CustomRepository = r.RepositoryName()
	}
	if e, ok := obj.(interface{ IsEmbedded() bool }); ok {
		md.Embedded = e.IsEmbedded()
	}
	return true, nil
}

func setIdentifier(md *ClassMetadata, name string) error {
	f, ok := md.Field(name)
	if !ok {
		return fmt.Errorf("%w: identifier %q is not a field of %q", ErrInvalidMapping, name, md.Name)
	}
	if cur, found := md.IdentifierField(); found {
		cur.ID = false
	}
	f.ID = true
	md.Identifier = f.Name
	return nil
}

func markTransient(md *ClassMetadata, name string) {
	f, ok := md.Field(name)
	if !ok {
		return
	}
	f.Transient = true
	delete(md.Fields, f.Name)
	if md.Identifier == f.Name {
		md.Identifier = ""
	}
}
