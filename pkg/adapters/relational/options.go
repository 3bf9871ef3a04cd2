package relational

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"gorm.io/gorm/schema"

	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
)

// Supported database/sql driver names.
const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// Connection describes the database connection.
type Connection struct {
	Driver string            `yaml:"driver"`
	DSN    string            `yaml:"dsn"`
	Path   string            `yaml:"path"`
	Memory bool              `yaml:"memory"`
	Params map[string]string `yaml:"params"`
}

// NamingOptions configures the gorm naming strategy.
type NamingOptions struct {
	TablePrefix   string `yaml:"tablePrefix"`
	SingularTable bool   `yaml:"singularTable"`
	NoLowerCase   bool   `yaml:"noLowerCase"`
}

// Options are the settings of a relational manager builder.
type Options struct {
	Name              string             `yaml:"name"`
	Connection        Connection         `yaml:"connection"`
	MetadataMapping   []metadata.Mapping `yaml:"metadataMapping"`
	Naming            NamingOptions      `yaml:"naming"`
	LogQueries        bool               `yaml:"logQueries"`
	SlowThreshold     time.Duration      `yaml:"slowThreshold"`
	PrepareStatements bool               `yaml:"prepareStatements"`
	DefaultRepository string             `yaml:"defaultRepository"`
	WatchMapping      bool               `yaml:"watchMapping"`
}

// DefaultOptions returns the settings defaults.
func DefaultOptions() Options {
	return Options{
		Connection:    Connection{Driver: DriverMattn},
		SlowThreshold: 200 * time.Millisecond,
	}
}

// DecodeOptions merges settings over the defaults and validates them.
func DecodeOptions(settings map[string]any) (Options, error) {
	opts := DefaultOptions()
	if err := core.DecodeOptions(settings, &opts); err != nil {
		return opts, err
	}
	if len(opts.MetadataMapping) == 0 {
		return opts, fmt.Errorf("%w: relational manager %q", core.ErrNoMetadataMapping, opts.Name)
	}
	switch opts.Connection.Driver {
	case DriverMattn, DriverModernc:
	default:
		return opts, fmt.Errorf("%w: unsupported driver %q", core.ErrInvalidOption, opts.Connection.Driver)
	}
	if _, err := opts.Connection.DataSource(); err != nil {
		return opts, err
	}
	return opts, nil
}

// DataSource returns the data source name handed to database/sql.
func (c Connection) DataSource() (string, error) {
	var dsn string
	switch {
	case c.DSN != "":
		return c.DSN, nil
	case c.Memory:
		dsn = ":memory:"
	case c.Path != "":
		dsn = c.Path
	default:
		return "", fmt.Errorf("%w: connection requires one of dsn, path or memory", core.ErrInvalidOption)
	}
	if len(c.Params) == 0 {
		return dsn, nil
	}

	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	q := url.Values{}
	for _, k := range keys {
		q.Add(k, c.Params[k])
	}
	return "file:" + dsn + "?" + q.Encode(), nil
}

func (n NamingOptions) strategy() schema.NamingStrategy {
	return schema.NamingStrategy{
		TablePrefix:   n.TablePrefix,
		SingularTable: n.SingularTable,
		NoLowerCase:   n.NoLowerCase,
	}
}

type config struct {
	logger       *slog.Logger
	events       *core.EventManager
	repositories core.RepositoryFactory
	entities     []any
	serializers  map[string]schema.SerializerInterface
}

// Option configures a Builder.
type Option func(*config)

func defaultConfig() *config {
	return &config{
		logger:      slog.New(slog.DiscardHandler),
		serializers: make(map[string]schema.SerializerInterface),
	}
}

// WithLogger sets the logger of the builder and of gorm.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventManager sets the event manager of the entity manager.
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

// WithEntities registers entity classes.
func WithEntities(classes ...any) Option {
	return func(c *config) {
		c.entities = append(c.entities, classes...)
	}
}

// WithSerializer registers a custom gorm serializer, usable through the
// `gorm:"serializer:<name>"` tag.
func WithSerializer(name string, s schema.SerializerInterface) Option {
	return func(c *config) {
		c.serializers[name] = s
	}
}
