package metadata

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Factory holds the registered classes of a manager and memoizes their
// metadata.
type Factory struct {
	mu      sync.RWMutex
	driver  Driver
	naming  Naming
	classes map[string]reflect.Type
	types   map[reflect.Type]string
	loaded  map[string]*ClassMetadata

	listeners []func()
}

// NewFactory creates a factory completing mappings with driver.
func NewFactory(driver Driver, naming Naming) *Factory {
	return &Factory{
		driver:  driver,
		naming:  naming.withDefaults(),
		classes: make(map[string]reflect.Type),
		types:   make(map[reflect.Type]string),
		loaded:  make(map[string]*ClassMetadata),
	}
}

// Register adds classes given as instances, pointers or reflect.Types.
// Registering the same type twice is a no-op; two types sharing a name is an error.
func (f *Factory) Register(classes ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, class := range classes {
		t, ok := structType(class)
		if !ok {
			return fmt.Errorf("%w: %v is not a named struct type", ErrInvalidMapping, class)
		}
		if existing, found := f.classes[t.Name()]; found {
			if existing != t {
				return fmt.Errorf("%w: class name %q used by %s and %s", ErrInvalidMapping, t.Name(), existing, t)
			}
			continue
		}
		f.classes[t.Name()] = t
		f.types[t] = t.Name()
	}
	f.loaded = make(map[string]*ClassMetadata)
	return nil
}

// ClassName resolves a class name, an instance or a reflect.Type to the
// name of a registered class.
func (f *Factory) ClassName(class any) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.className(class)
}

func (f *Factory) className(class any) (string, error) {
	if name, ok := class.(string); ok {
		if _, found := f.classes[name]; found {
			return name, nil
		}
		return "", fmt.Errorf("%w: %q", ErrClassNotMapped, name)
	}
	t, ok := structType(class)
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrClassNotMapped, class)
	}
	name, found := f.types[t]
	if !found {
		return "", fmt.Errorf("%w: %q", ErrClassNotMapped, t.String())
	}
	return name, nil
}

// Classes returns the registered class names sorted.
func (f *Factory) Classes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.classes))
	for n := range f.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Metadata returns the mapping of a class.
func (f *Factory) Metadata(class any) (*ClassMetadata, error) {
	f.mu.RLock()
	name, err := f.className(class)
	if err != nil {
		f.mu.RUnlock()
		return nil, err
	}
	md, ok := f.loaded[name]
	f.mu.RUnlock()
	if ok {
		return md, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if md, ok := f.loaded[name]; ok {
		return md, nil
	}

	md = introspect(name, f.classes[name], f.naming, f.types)
	handled, err := f.driver.Load(md)
	if err != nil {
		return nil, fmt.Errorf("loading mapping of %q: %w", name, err)
	}
	if !handled {
		return nil, fmt.Errorf("%w: %q", ErrClassNotMapped, name)
	}
	f.loaded[name] = md
	return md, nil
}

// AllMetadata returns the mapping of every registered class, sorted by name.
func (f *Factory) AllMetadata() ([]*ClassMetadata, error) {
	names := f.Classes()
	all := make([]*ClassMetadata, 0, len(names))
	for _, n := range names {
		md, err := f.Metadata(n)
		if err != nil {
			return nil, err
		}
		all = append(all, md)
	}
	return all, nil
}

// Invalidate drops memoized metadata and resets file drivers so mappings are
// read again.
func (f *Factory) Invalidate() {
	f.mu.Lock()
	f.loaded = make(map[string]*ClassMetadata)
	if r, ok := f.driver.(Resetter); ok {
		r.Reset()
	}
	listeners := append([]func(){}, f.listeners...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// OnInvalidate registers fn to run after every Invalidate.
func (f *Factory) OnInvalidate(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// Loaded returns the number of memoized mappings.
func (f *Factory) Loaded() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.loaded)
}

func structType(class any) (reflect.Type, bool) {
	t, ok := class.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(class)
	}
	if t == nil {
		return nil, false
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t.Name() == "" {
		return nil, false
	}
	return t, true
}
