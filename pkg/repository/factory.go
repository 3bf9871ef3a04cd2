package repository

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
)

var (
	baseType     = reflect.TypeOf((*Base)(nil))
	managerType  = reflect.TypeOf((*core.Manager)(nil)).Elem()
	metadataType = reflect.TypeOf((*metadata.ClassMetadata)(nil))
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
)

// DefaultRepositoryNamer is implemented by managers configured with a
// default custom repository.
type DefaultRepositoryNamer interface {
	DefaultRepository() string
}

type repoKey struct {
	manager core.Manager
	class   string
}

// Factory builds repositories, memoized per manager and class.
//
// Custom repositories are registered by name with a constructor function.
// Constructor parameters are resolved by type: *Base, core.Manager (or the
// concrete manager type) and *metadata.ClassMetadata are injected, other
// types are looked up in the container by core.TypeID. Unresolved nillable
// parameters are nil. A constructor returns the repository, optionally
// followed by an error.
type Factory struct {
	mu        sync.Mutex
	container core.Container
	logger    *slog.Logger
	ctors     map[string]reflect.Value
	repos     map[repoKey]any
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithContainer sets the container constructor parameters are resolved from.
func WithContainer(c core.Container) FactoryOption {
	return func(f *Factory) {
		f.container = c
	}
}

// WithFactoryLogger sets the factory logger.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFactory creates a repository factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		logger: slog.New(slog.DiscardHandler),
		ctors:  make(map[string]reflect.Value),
		repos:  make(map[repoKey]any),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register adds a custom repository constructor under name.
func (f *Factory) Register(name string, ctor any) error {
	v := reflect.ValueOf(ctor)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("%w: repository %q constructor must be a function, %T given", core.ErrInvalidOption, name, ctor)
	}
	t := v.Type()
	switch {
	case t.NumOut() == 1:
	case t.NumOut() == 2 && t.Out(1) == errorType:
	default:
		return fmt.Errorf("%w: repository %q constructor must return the repository and an optional error", core.ErrInvalidOption, name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.ctors[name]; dup {
		return fmt.Errorf("%w: repository %q", core.ErrTypeRegistered, name)
	}
	f.ctors[name] = v
	return nil
}

// MustRegister is Register panicking on error.
func (f *Factory) MustRegister(name string, ctor any) *Factory {
	if err := f.Register(name, ctor); err != nil {
		panic(err)
	}
	return f
}

// Repository returns the repository of className for m.
func (f *Factory) Repository(m core.Manager, className string) (any, error) {
	key := repoKey{manager: m, class: className}

	f.mu.Lock()
	repo, ok := f.repos[key]
	f.mu.Unlock()
	if ok {
		return repo, nil
	}

	repo, err := f.build(m, className)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.repos[key]; ok {
		return existing, nil
	}
	f.repos[key] = repo
	return repo, nil
}

func (f *Factory) build(m core.Manager, className string) (any, error) {
	md, err := m.Metadata(className)
	if err != nil {
		return nil, err
	}
	if md.Embedded {
		return nil, fmt.Errorf("%w: embedded class %q cannot have a repository", core.ErrUnsupportedObject, md.Name)
	}

	base := NewBase(m, md)
	name := md.CustomRepository
	if name == "" {
		if d, ok := m.(DefaultRepositoryNamer); ok {
			name = d.DefaultRepository()
		}
	}
	if name == "" {
		return base, nil
	}

	f.mu.Lock()
	ctor, ok := f.ctors[name]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: repository %q of %q is not registered", core.ErrNotFound, name, md.Name)
	}

	repo, err := f.invoke(name, ctor, base)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("custom repository created", "manager", m.Name(), "class", md.Name, "repository", name)
	return repo, nil
}

// Forget drops the memoized repositories of m.
func (f *Factory) Forget(m core.Manager) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.repos {
		if k.manager == m {
			delete(f.repos, k)
		}
	}
}

func (f *Factory) invoke(name string, ctor reflect.Value, base *Base) (any, error) {
	t := ctor.Type()
	args := make([]reflect.Value, t.NumIn())
	for i := range args {
		pt := t.In(i)
		if t.IsVariadic() && i == t.NumIn()-1 {
			args = args[:i]
			break
		}
		arg, err := f.resolve(pt, base)
		if err != nil {
			return nil, fmt.Errorf("repository %q parameter %d: %w", name, i, err)
		}
		args[i] = arg
	}

	out := ctor.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, fmt.Errorf("repository %q: %w", name, out[1].Interface().(error))
	}
	repo := out[0].Interface()
	if repo == nil {
		return nil, fmt.Errorf("repository %q constructor returned nil", name)
	}
	return repo, nil
}

func (f *Factory) resolve(pt reflect.Type, base *Base) (reflect.Value, error) {
	switch {
	case pt == baseType:
		return reflect.ValueOf(base), nil
	case pt == metadataType:
		return reflect.ValueOf(base.md), nil
	case pt == managerType:
		return reflect.ValueOf(&base.manager).Elem(), nil
	case reflect.TypeOf(base.manager).AssignableTo(pt) && pt.Kind() != reflect.Interface:
		return reflect.ValueOf(base.manager), nil
	}

	if f.container != nil {
		if id := core.TypeID(pt); f.container.Has(id) {
			v, err := f.container.Get(id)
			if err != nil {
				return reflect.Value{}, err
			}
			rv := reflect.ValueOf(v)
			if !rv.IsValid() {
				return reflect.Zero(pt), nil
			}
			if !rv.Type().AssignableTo(pt) {
				return reflect.Value{}, fmt.Errorf("container entry %q is a %s", id, rv.Type())
			}
			return rv, nil
		}
	}

	switch pt.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return reflect.Zero(pt), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot resolve %s", pt)
}

var _ core.RepositoryFactory = (*Factory)(nil)
