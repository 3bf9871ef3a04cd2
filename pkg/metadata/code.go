package metadata

// Loader is implemented by classes describing their own mapping.
type Loader interface {
	LoadMetadata(md *ClassMetadata) error
}

// CodeDriver handles classes implementing Loader.
type CodeDriver struct{}

// NewCodeDriver creates a code driver.
func NewCodeDriver() *CodeDriver {
	return &CodeDriver{}
}

// Load implements Driver.
func (d *CodeDriver) Load(md *ClassMetadata) (bool, error) {
	l, ok := md.NewInstance().(Loader)
	if !ok {
		return false, nil
	}
	if err := l.LoadMetadata(md); err != nil {
		return false, err
	}
	return true, nil
}

// SetIdentifier marks a field as the identifier.
func (md *ClassMetadata) SetIdentifier(name string) error {
	return setIdentifier(md, name)
}

// MarkTransient removes a field from the mapping.
func (md *ClassMetadata) MarkTransient(name string) {
	markTransient(md, name)
}

// AddIndex declares a compound index over fields.
func (md *ClassMetadata) AddIndex(idx IndexMapping) error {
	return addIndex(md, idx)
}
