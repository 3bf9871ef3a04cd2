package registry

import (
	"log/slog"

	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/repository"
)

// Default settings keys and manager names.
const (
	DefaultRelationalManagerKey  = "entity_manager"
	DefaultRelationalManagerName = "entityManager"
	DefaultDocumentManagerKey    = "document_manager"
	DefaultDocumentManagerName   = "documentManager"
)

// Settings are the registry settings accepted by Configure.
type Settings struct {
	RelationalManagerKey         string `yaml:"relationalManagerKey"`
	DefaultRelationalManagerName string `yaml:"defaultRelationalManagerName"`
	DocumentManagerKey           string `yaml:"documentManagerKey"`
	DefaultDocumentManagerName   string `yaml:"defaultDocumentManagerName"`
}

// options holds the registry configuration.
type options struct {
	settings     Settings
	container    core.Container
	logger       *slog.Logger
	events       *core.EventManager
	repositories *repository.Factory
	entities     []any
	documents    []any
	classes      map[string][]any
}

// Option configures a Registry.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		settings: Settings{
			RelationalManagerKey:         DefaultRelationalManagerKey,
			DefaultRelationalManagerName: DefaultRelationalManagerName,
			DocumentManagerKey:           DefaultDocumentManagerKey,
			DefaultDocumentManagerName:   DefaultDocumentManagerName,
		},
		logger:  slog.New(slog.DiscardHandler),
		classes: make(map[string][]any),
	}
}

// WithSettings overrides the settings keys and default manager names.
// Empty values keep the defaults.
func WithSettings(s Settings) Option {
	return func(o *options) {
		o.settings.merge(s)
	}
}

// WithContainer sets the container custom repository dependencies are
// resolved from.
func WithContainer(c core.Container) Option {
	return func(o *options) {
		o.container = c
	}
}

// WithLogger sets the logger handed to every builder.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEventManager sets the event manager shared by every manager.
func WithEventManager(em *core.EventManager) Option {
	return func(o *options) {
		o.events = em
	}
}

// WithRepositoryFactory sets the repository factory shared by every manager.
func WithRepositoryFactory(f *repository.Factory) Option {
	return func(o *options) {
		o.repositories = f
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

func (s *Settings) merge(o Settings) {
	if o.RelationalManagerKey != "" {
		s.RelationalManagerKey = o.RelationalManagerKey
	}
	if o.DefaultRelationalManagerName != "" {
		s.DefaultRelationalManagerName = o.DefaultRelationalManagerName
	}
	if o.DocumentManagerKey != "" {
		s.DocumentManagerKey = o.DocumentManagerKey
	}
	if o.DefaultDocumentManagerName != "" {
		s.DefaultDocumentManagerName = o.DefaultDocumentManagerName
	}
}
