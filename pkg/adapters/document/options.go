package document

import (
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
)

// DefaultDatabase is the database used when none is configured.
const DefaultDatabase = "silo"

// Client describes the mongo client connection.
type Client struct {
	URI                    string        `yaml:"uri"`
	AppName                string        `yaml:"appName"`
	ConnectTimeout         time.Duration `yaml:"connectTimeout"`
	ServerSelectionTimeout time.Duration `yaml:"serverSelectionTimeout"`
}

// Options are the settings of a document manager builder.
type Options struct {
	Name              string             `yaml:"name"`
	Client            Client             `yaml:"client"`
	DefaultDatabase   string             `yaml:"defaultDatabase"`
	MetadataMapping   []metadata.Mapping `yaml:"metadataMapping"`
	LogCommands       bool               `yaml:"logCommands"`
	DefaultRepository string             `yaml:"defaultRepository"`
	WatchMapping      bool               `yaml:"watchMapping"`
}

// DefaultOptions returns the settings defaults.
func DefaultOptions() Options {
	return Options{
		Client: Client{
			AppName:                "silo",
			ConnectTimeout:         10 * time.Second,
			ServerSelectionTimeout: 5 * time.Second,
		},
		DefaultDatabase: DefaultDatabase,
	}
}

// DecodeOptions merges settings over the defaults and validates them.
func DecodeOptions(settings map[string]any) (Options, error) {
	opts := DefaultOptions()
	if err := core.DecodeOptions(settings, &opts); err != nil {
		return opts, err
	}
	if len(opts.MetadataMapping) == 0 {
		return opts, fmt.Errorf("%w: document manager %q", core.ErrNoMetadataMapping, opts.Name)
	}
	if opts.Client.URI == "" {
		return opts, fmt.Errorf("%w: client.uri is required", core.ErrInvalidOption)
	}
	if opts.DefaultDatabase == "" {
		opts.DefaultDatabase = DefaultDatabase
	}
	return opts, nil
}

type config struct {
	logger       *slog.Logger
	events       *core.EventManager
	repositories core.RepositoryFactory
	documents    []any
	client       *mongo.Client
}

// Option configures a Builder.
type Option func(*config)

func defaultConfig() *config {
	return &config{
		logger: slog.New(slog.DiscardHandler),
	}
}

// WithLogger sets the logger of the builder and of the command monitor.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventManager sets the event manager of the document manager.
func WithEventManager(em *core.EventManager) Option {
	return func(c *config) {
		c.events = em
	}
}

// WithRepositoryFactory sets the factory repositories are built with.
func WithRepositoryFactory(f core.RepositoryFactory) Option {
	return func(c *config) {
		c.repositories = f
	}
}

// WithDocuments registers document classes.
func WithDocuments(classes ...any) Option {
	return func(c *config) {
		c.documents = append(c.documents, classes...)
	}
}

// WithClient makes the builder use an existing client instead of creating
// one from the settings. The client is not disconnected on Close.
func WithClient(client *mongo.Client) Option {
	return func(c *config) {
		c.client = client
	}
}
