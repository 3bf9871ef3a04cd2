package platform

import (
	"log/slog"

	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/registry"
)

// options holds the internal configuration of a silo registry.
type options struct {
	logger    *slog.Logger
	container core.Container
	events    *core.EventManager
	entities  []any
	documents []any
	classes   map[string][]any
	repos     map[string]any
	env       func(string) string
}

// Option defines a functional option for configuring silo.
type Option func(*options)

// defaultOptions returns the default configuration.
func defaultOptions() *options {
	return &options{
		classes: make(map[string][]any),
		repos:   make(map[string]any),
	}
}

// WithLogger sets the logger of the registry and of every builder.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithContainer sets the container custom repository dependencies are
// resolved from.
func WithContainer(c core.Container) Option {
	return func(o *options) {
		o.container = c
	}
}

// WithEventManager sets the event manager shared by every manager.
func WithEventManager(em *core.EventManager) Option {
	return func(o *options) {
		o.events = em
	}
}

// WithEntities registers entity classes on every relational manager.
func WithEntities(classes ...any) Option {
	return func(o *options) {
		o.entities = append(o.entities, classes...)
	}
}

// WithDocuments registers document classes on every document manager.
func WithDocuments(classes ...any) Option {
	return func(o *options) {
		o.documents = append(o.documents, classes...)
	}
}

// WithManagerClasses registers classes on the manager called name only.
func WithManagerClasses(name string, classes ...any) Option {
	return func(o *options) {
		o.classes[name] = append(o.classes[name], classes...)
	}
}

// WithRepository registers a custom repository constructor under name.
// Classes select it with RepositoryName() or a mapping file, managers with
// the defaultRepository setting.
func WithRepository(name string, ctor any) Option {
	return func(o *options) {
		o.repos[name] = ctor
	}
}

// WithEnv sets the lookup used to expand ${VAR} references in settings
// files. Defaults to os.Getenv.
func WithEnv(lookup func(string) string) Option {
	return func(o *options) {
		o.env = lookup
	}
}

func (o *options) registryOptions() []registry.Option {
	opts := []registry.Option{
		registry.WithLogger(o.logger),
		registry.WithContainer(o.container),
		registry.WithEventManager(o.events),
		registry.WithEntities(o.entities...),
		registry.WithDocuments(o.documents...),
	}
	for name, classes := range o.classes {
		opts = append(opts, registry.WithManagerClasses(name, classes...))
	}
	return opts
}
