// Package registry keeps the named manager builders of an application and
// assembles their commands into one command line application.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/aretw0/introspection"
	"github.com/spf13/cobra"

	"github.com/aretw0/silo/pkg/adapters/document"
	"github.com/aretw0/silo/pkg/adapters/relational"
	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/repository"
)

// Builder builds one named manager.
type Builder interface {
	Name() string
	Kind() string
	Manager(ctx context.Context) (core.Manager, error)
	Commands() []*cobra.Command
	Close(ctx context.Context) error
}

// Registry is a collection of uniquely named manager builders.
type Registry struct {
	mu       sync.RWMutex
	opts     *options
	builders map[string]Builder
	order    []string
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.repositories == nil {
		o.repositories = repository.NewFactory(
			repository.WithContainer(o.container),
			repository.WithFactoryLogger(o.logger),
		)
	}
	return &Registry{
		opts:     o,
		builders: make(map[string]Builder),
	}
}

// Configure applies registry settings from a settings map. Unknown keys are
// rejected.
func (r *Registry) Configure(settings map[string]any) error {
	var s Settings
	if err := core.DecodeOptions(settings, &s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.settings.merge(s)
	return nil
}

// Settings returns the effective settings.
func (r *Registry) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts.settings
}

// Repositories returns the repository factory shared by the managers, where
// custom repositories are registered.
func (r *Registry) Repositories() *repository.Factory {
	return r.opts.repositories
}

// RegisterManagers registers the relational and document managers found
// under their settings keys.
func (r *Registry) RegisterManagers(settings map[string]any) error {
	s := r.Settings()
	if v, ok := settings[s.RelationalManagerKey]; ok {
		if err := r.RegisterRelationalManagers(v); err != nil {
			return err
		}
	}
	if v, ok := settings[s.DocumentManagerKey]; ok {
		if err := r.RegisterDocumentManagers(v); err != nil {
			return err
		}
	}
	return nil
}

// RegisterRelationalManagers registers one manager when settings hold a
// "connection" key, else one manager per entry. Map keys name the managers.
func (r *Registry) RegisterRelationalManagers(settings any) error {
	entries, err := managerEntries(settings, "connection")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := r.RegisterRelationalManager(e); err != nil {
			return err
		}
	}
	return nil
}

// RegisterRelationalManager registers a relational manager. Unnamed
// settings get the default relational manager name.
func (r *Registry) RegisterRelationalManager(settings map[string]any) error {
	settings = r.named(settings, r.Settings().DefaultRelationalManagerName)
	name, _ := settings["name"].(string)

	classes := append(append([]any(nil), r.opts.entities...), r.opts.classes[name]...)
	b, err := relational.NewBuilder(settings,
		relational.WithLogger(r.opts.logger),
		relational.WithEventManager(r.opts.events),
		relational.WithRepositoryFactory(r.opts.repositories),
		relational.WithEntities(classes...),
	)
	if err != nil {
		return fmt.Errorf("relational manager %q: %w", name, err)
	}
	return r.AddBuilder(b)
}

// RegisterDocumentManagers registers one manager when settings hold a
// "client" key, else one manager per entry. Map keys name the managers.
func (r *Registry) RegisterDocumentManagers(settings any) error {
	entries, err := managerEntries(settings, "client")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := r.RegisterDocumentManager(e); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDocumentManager registers a document manager. Unnamed settings
// get the default document manager name.
func (r *Registry) RegisterDocumentManager(settings map[string]any) error {
	settings = r.named(settings, r.Settings().DefaultDocumentManagerName)
	name, _ := settings["name"].(string)

	classes := append(append([]any(nil), r.opts.documents...), r.opts.classes[name]...)
	b, err := document.NewBuilder(settings,
		document.WithLogger(r.opts.logger),
		document.WithEventManager(r.opts.events),
		document.WithRepositoryFactory(r.opts.repositories),
		document.WithDocuments(classes...),
	)
	if err != nil {
		return fmt.Errorf("document manager %q: %w", name, err)
	}
	return r.AddBuilder(b)
}

// named returns a copy of settings with a name.
func (r *Registry) named(settings map[string]any, fallback string) map[string]any {
	out := maps.Clone(settings)
	if out == nil {
		out = make(map[string]any)
	}
	if name, _ := out["name"].(string); name == "" {
		out["name"] = fallback
	}
	return out
}

// managerEntries normalizes single and multiple manager settings. Entries of
// a map are sorted by name.
func managerEntries(settings any, marker string) ([]map[string]any, error) {
	switch s := settings.(type) {
	case map[string]any:
		if _, single := s[marker]; single {
			return []map[string]any{s}, nil
		}
		names := make([]string, 0, len(s))
		for name := range s {
			names = append(names, name)
		}
		sort.Strings(names)
		entries := make([]map[string]any, 0, len(s))
		for _, name := range names {
			entry, ok := s[name].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: settings of manager %q must be a map, %T given", core.ErrInvalidOption, name, s[name])
			}
			entry = maps.Clone(entry)
			if name != "" {
				entry["name"] = name
			}
			entries = append(entries, entry)
		}
		return entries, nil
	case []map[string]any:
		return s, nil
	case []any:
		entries := make([]map[string]any, 0, len(s))
		for i, v := range s {
			entry, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: manager settings #%d must be a map, %T given", core.ErrInvalidOption, i, v)
			}
			entries = append(entries, entry)
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("%w: manager settings must be a map or a list, %T given", core.ErrInvalidOption, settings)
	}
}

// AddBuilder adds a builder. Builders must be named and names are unique.
func (r *Registry) AddBuilder(b Builder) error {
	name := b.Name()
	if name == "" {
		return core.ErrUnnamedBuilder
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.builders[name]; dup {
		return fmt.Errorf("%q %w", name, core.ErrDuplicateManager)
	}
	r.builders[name] = b
	r.order = append(r.order, name)
	r.opts.logger.Debug("manager builder registered", "name", name, "kind", b.Kind())
	return nil
}

// Builder returns the builder registered under name.
func (r *Registry) Builder(name string) (Builder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builders[name]
	return b, ok
}

// Builders returns the builders in registration order.
func (r *Registry) Builders() []Builder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Builder, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.builders[name])
	}
	return out
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Managers builds every manager.
func (r *Registry) Managers(ctx context.Context) (map[string]core.Manager, error) {
	out := make(map[string]core.Manager)
	for _, b := range r.Builders() {
		m, err := b.Manager(ctx)
		if err != nil {
			return nil, fmt.Errorf("building %q: %w", b.Name(), err)
		}
		out[b.Name()] = m
	}
	return out, nil
}

// Manager builds, or returns the memoized, manager called name.
func (r *Registry) Manager(ctx context.Context, name string) (core.Manager, error) {
	b, ok := r.Builder(name)
	if !ok {
		return nil, fmt.Errorf("%q %w", name, core.ErrManagerNotRegistered)
	}
	return b.Manager(ctx)
}

// Repository returns the repository of class from the manager called name.
func (r *Registry) Repository(ctx context.Context, name string, class any) (any, error) {
	m, err := r.Manager(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.Repository(class)
}

// Close closes every builder.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, b := range r.Builders() {
		if err := b.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// RegistryState exposes the registry state for observability.
type RegistryState struct {
	Settings Settings `json:"settings"`
	Managers []any    `json:"managers"`
}

// State implements introspection.Introspectable.
func (r *Registry) State() any {
	s := RegistryState{Settings: r.Settings(), Managers: []any{}}
	for _, b := range r.Builders() {
		if i, ok := b.(introspection.Introspectable); ok {
			s.Managers = append(s.Managers, i.State())
			continue
		}
		s.Managers = append(s.Managers, map[string]string{"name": b.Name(), "kind": b.Kind()})
	}
	return s
}

// ComponentType implements introspection.Component.
func (r *Registry) ComponentType() string {
	return "manager-registry"
}

var _ introspection.Introspectable = (*Registry)(nil)
var _ introspection.Component = (*Registry)(nil)
