package metadata

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

const (
	yamlPattern = "**/*.{yml,yaml}"
	xmlPattern  = "**/*.xml"
)

type fieldSettings struct {
	Index     bool `yaml:"index" xml:"index,attr"`
	Unique    bool `yaml:"unique" xml:"unique,attr"`
	Transient bool `yaml:"transient" xml:"transient,attr"`
}

type classMapping struct {
	Storage    string                   `yaml:"storage"`
	Repository string                   `yaml:"repository"`
	ID         string                   `yaml:"id"`
	Embedded   bool                     `yaml:"embedded"`
	Fields     map[string]fieldSettings `yaml:"fields"`
	Indexes    []IndexMapping           `yaml:"indexes"`

	source string
}

func (c classMapping) apply(md *ClassMetadata) error {
	if c.Storage != "" {
		md.Storage = c.Storage
	}
	if c.Repository != "" {
		md.CustomRepository = c.Repository
	}
	md.Embedded = c.Embedded
	if c.ID != "" {
		if err := setIdentifier(md, c.ID); err != nil {
			return fmt.Errorf("%s: %w", c.source, err)
		}
	}

	names := make([]string, 0, len(c.Fields))
	for n := range c.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		s := c.Fields[n]
		f, ok := md.Field(n)
		if !ok {
			return fmt.Errorf("%s: %w: %q is not a field of %q", c.source, ErrInvalidMapping, n, md.Name)
		}
		f.Indexed = f.Indexed || s.Index
		f.Unique = f.Unique || s.Unique
		if s.Transient {
			markTransient(md, f.Name)
		}
	}

	for _, idx := range c.Indexes {
		if err := addIndex(md, idx); err != nil {
			return fmt.Errorf("%s: %w", c.source, err)
		}
	}
	return nil
}

func addIndex(md *ClassMetadata, idx IndexMapping) error {
	if len(idx.Fields) == 0 {
		return fmt.Errorf("%w: index %q of %q has no fields", ErrInvalidMapping, idx.Name, md.Name)
	}
	fields := make([]string, 0, len(idx.Fields))
	for _, n := range idx.Fields {
		f, ok := md.Field(n)
		if !ok {
			return fmt.Errorf("%w: index %q of %q: %q is not a field", ErrInvalidMapping, idx.Name, md.Name, n)
		}
		fields = append(fields, f.Name)
	}
	idx.Fields = fields
	md.Indexes = append(md.Indexes, idx)
	return nil
}

// fileDriver loads class mappings from files found under paths.
type fileDriver struct {
	mu      sync.Mutex
	paths   []string
	pattern string
	parse   func(path string, data []byte) (map[string]classMapping, error)
	classes map[string]classMapping
}

func (d *fileDriver) Load(md *ClassMetadata) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.classes == nil {
		classes, err := d.read()
		if err != nil {
			return false, err
		}
		d.classes = classes
	}

	c, ok := d.classes[md.Name]
	if !ok {
		return false, nil
	}
	if err := c.apply(md); err != nil {
		return false, err
	}
	return true, nil
}

func (d *fileDriver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classes = nil
}

// Files lists the mapping files found under the driver paths.
func (d *fileDriver) Files() ([]string, error) {
	return findFiles(d.paths, d.pattern)
}

func (d *fileDriver) read() (map[string]classMapping, error) {
	files, err := findFiles(d.paths, d.pattern)
	if err != nil {
		return nil, err
	}

	classes := make(map[string]classMapping)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading mapping file: %w", err)
		}
		parsed, err := d.parse(file, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMapping, file, err)
		}
		for name, c := range parsed {
			if prev, dup := classes[name]; dup {
				return nil, fmt.Errorf("%w: class %q mapped in %s and %s", ErrInvalidMapping, name, prev.source, file)
			}
			c.source = file
			classes[name] = c
		}
	}
	return classes, nil
}

func findFiles(paths []string, pattern string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("%w: mapping path %q: %v", ErrInvalidMapping, p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(p), pattern)
		if err != nil {
			return nil, fmt.Errorf("globbing %s: %w", p, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			files = append(files, filepath.Join(p, filepath.FromSlash(m)))
		}
	}
	return files, nil
}

// YAMLDriver reads mapping files keyed by class name:
//
//	User:
//	  storage: users
//	  repository: users
//	  id: id
//	  fields:
//	    email: {unique: true}
//	    token: {transient: true}
//	  indexes:
//	    - {name: by_name, fields: [firstName, lastName]}
type YAMLDriver struct {
	fileDriver
}

// NewYAMLDriver creates a driver reading *.yml and *.yaml files under paths.
func NewYAMLDriver(paths ...string) *YAMLDriver {
	return &YAMLDriver{fileDriver{paths: paths, pattern: yamlPattern, parse: parseYAML}}
}

func parseYAML(_ string, data []byte) (map[string]classMapping, error) {
	var classes map[string]classMapping
	if err := yaml.Unmarshal(data, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// XMLDriver reads mapping files of the form:
//
//	<silo-mapping>
//	  <class name="User" storage="users" id="id">
//	    <field name="email" unique="true"/>
//	    <index name="by_name"><field name="firstName"/></index>
//	  </class>
//	</silo-mapping>
type XMLDriver struct {
	fileDriver
}

// NewXMLDriver creates a driver reading *.xml files under paths.
func NewXMLDriver(paths ...string) *XMLDriver {
	return &XMLDriver{fileDriver{paths: paths, pattern: xmlPattern, parse: parseXML}}
}

type xmlDocument struct {
	XMLName xml.Name   `xml:"silo-mapping"`
	Classes []xmlClass `xml:"class"`
}

type xmlClass struct {
	Name       string     `xml:"name,attr"`
	Storage    string     `xml:"storage,attr"`
	Repository string     `xml:"repository,attr"`
	ID         string     `xml:"id,attr"`
	Embedded   bool       `xml:"embedded,attr"`
	Fields     []xmlField `xml:"field"`
	Indexes    []xmlIndex `xml:"index"`
}

type xmlField struct {
	Name string `xml:"name,attr"`
	fieldSettings
}

type xmlIndex struct {
	Name   string     `xml:"name,attr"`
	Unique bool       `xml:"unique,attr"`
	Fields []xmlField `xml:"field"`
}

func parseXML(_ string, data []byte) (map[string]classMapping, error) {
	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	classes := make(map[string]classMapping, len(doc.Classes))
	for _, c := range doc.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("class without name")
		}
		if _, dup := classes[c.Name]; dup {
			return nil, fmt.Errorf("class %q declared twice", c.Name)
		}
		m := classMapping{
			Storage:    c.Storage,
			Repository: c.Repository,
			ID:         c.ID,
			Embedded:   c.Embedded,
			Fields:     make(map[string]fieldSettings, len(c.Fields)),
		}
		for _, f := range c.Fields {
			m.Fields[f.Name] = f.fieldSettings
		}
		for _, idx := range c.Indexes {
			im := IndexMapping{Name: idx.Name, Unique: idx.Unique}
			for _, f := range idx.Fields {
				im.Fields = append(im.Fields, f.Name)
			}
			m.Indexes = append(m.Indexes, im)
		}
		classes[c.Name] = m
	}
	return classes, nil
}
