package relational

import (
	"reflect"

	"gorm.io/gorm/schema"

	"github.com/aretw0/silo/pkg/metadata"
)

// mappingNaming keys fields the way gorm names columns so criteria match the
// schema gorm writes.
func mappingNaming(ns schema.NamingStrategy) metadata.Naming {
	return metadata.Naming{
		Key: func(f reflect.StructField) (string, bool, bool) {
			tag := schema.ParseTagSetting(f.Tag.Get("gorm"), ";")
			if _, skip := tag["-"]; skip {
				return "", false, true
			}
			key := tag["COLUMN"]
			if key == "" {
				key = ns.ColumnName("", f.Name)
			}
			_, pk := tag["PRIMARYKEY"]
			_, legacy := tag["PRIMARY_KEY"]
			return key, pk || legacy, false
		},
		Storage: func(typeName string) string {
			return ns.TableName(typeName)
		},
	}
}
