package metadata

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mapping types accepted in metadataMapping entries.
const (
	TypeAttribute  = "attribute"
	TypeAnnotation = "annotation"
	TypeYAML       = "yaml"
	TypeXML        = "xml"
	TypeCode       = "code"
	TypePHP        = "php"
)

// Driver completes the mapping of a class. handled is false when the driver
// does not know the class.
type Driver interface {
	Load(md *ClassMetadata) (handled bool, err error)
}

// Resetter is implemented by drivers caching mapping files.
type Resetter interface {
	Reset()
}

// Chain tries its drivers in order. The first driver handling a class wins.
type Chain []Driver

// Load implements Driver.
func (c Chain) Load(md *ClassMetadata) (bool, error) {
	for _, d := range c {
		handled, err := d.Load(md)
		if err != nil {
			return false, err
		}
		if handled {
			return true, nil
		}
	}
	return false, nil
}

// Reset implements Resetter.
func (c Chain) Reset() {
	for _, d := range c {
		if r, ok := d.(Resetter); ok {
			r.Reset()
		}
	}
}

// Mapping is one metadataMapping entry.
type Mapping struct {
	Type string `yaml:"type" json:"type"`
	Path Paths  `yaml:"path,omitempty" json:"path,omitempty"`
}

// Paths accepts a single path or a list of paths.
type Paths []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Paths) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if s != "" {
			*p = Paths{s}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*p = list
		return nil
	default:
		return fmt.Errorf("%w: path must be a string or a list of strings", ErrInvalidMapping)
	}
}

// NewDriver builds the driver chain of a metadataMapping list.
func NewDriver(mappings []Mapping) (Driver, error) {
	chain := make(Chain, 0, len(mappings))
	for _, m := range mappings {
		switch strings.ToLower(m.Type) {
		case TypeAttribute, TypeAnnotation:
			chain = append(chain, NewAttributeDriver())
		case TypeCode, TypePHP:
			chain = append(chain, NewCodeDriver())
		case TypeYAML:
			if len(m.Path) == 0 {
				return nil, fmt.Errorf("%w: %s mapping requires a path", ErrInvalidMapping, m.Type)
			}
			chain = append(chain, NewYAMLDriver(m.Path...))
		case TypeXML:
			if len(m.Path) == 0 {
				return nil, fmt.Errorf("%w: %s mapping requires a path", ErrInvalidMapping, m.Type)
			}
			chain = append(chain, NewXMLDriver(m.Path...))
		default:
			return nil, fmt.Errorf("%w: unknown mapping type %q", ErrInvalidMapping, m.Type)
		}
	}
	return chain, nil
}

// WatchPaths returns the paths of the file based mappings.
func WatchPaths(mappings []Mapping) []string {
	var paths []string
	for _, m := range mappings {
		switch strings.ToLower(m.Type) {
		case TypeYAML, TypeXML:
			paths = append(paths, m.Path...)
		}
	}
	return paths
}
