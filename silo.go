package silo

import (
	"log/slog"

	"github.com/aretw0/silo/internal/platform"
	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/registry"
)

// --- Types ---

// Registry is the collection of named manager builders.
type Registry = registry.Registry

// Manager is the contract shared by entity and document managers.
type Manager = core.Manager

// Criteria maps field names to the values they must match.
type Criteria = core.Criteria

// Order is an ordered list of sort clauses.
type Order = core.Order

// Services is a map backed dependency container.
type Services = core.Services

// --- Configuration ---

// Option defines a functional option for configuring silo.
type Option = platform.Option

// WithLogger sets the logger of the registry and of every builder.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithContainer sets the container custom repository dependencies are resolved from.
func WithContainer(c core.Container) Option {
	return platform.WithContainer(c)
}

// WithEventManager sets the event manager shared by every manager.
func WithEventManager(em *core.EventManager) Option {
	return platform.WithEventManager(em)
}

// WithEntities registers entity classes on every relational manager.
func WithEntities(classes ...any) Option {
	return platform.WithEntities(classes...)
}

// WithDocuments registers document classes on every document manager.
func WithDocuments(classes ...any) Option {
	return platform.WithDocuments(classes...)
}

// WithManagerClasses registers classes on the manager called name only.
func WithManagerClasses(name string, classes ...any) Option {
	return platform.WithManagerClasses(name, classes...)
}

// WithRepository registers a custom repository constructor under name.
func WithRepository(name string, ctor any) Option {
	return platform.WithRepository(name, ctor)
}

// WithEnv sets the lookup used to expand ${VAR} references in settings files.
func WithEnv(lookup func(string) string) Option {
	return platform.WithEnv(lookup)
}

// --- Factory ---

// New creates a registry from a settings map.
func New(settings map[string]any, opts ...Option) (*Registry, error) {
	return platform.New(settings, opts...)
}

// Open creates a registry from a YAML settings file.
func Open(path string, opts ...Option) (*Registry, error) {
	return platform.Open(path, opts...)
}

// FindSettings looks upwards from dir for a silo.yaml settings file.
func FindSettings(dir string) (string, error) {
	return platform.FindSettings(dir)
}

// NewServices creates an empty dependency container.
func NewServices() *Services {
	return core.NewServices()
}

// NewEventManager creates an event manager without listeners.
func NewEventManager() *core.EventManager {
	return core.NewEventManager()
}
