// Package relational builds gorm backed entity managers.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/introspection"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	_ "modernc.org/sqlite"

	"github.com/aretw0/silo/internal/metrics"
	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
	"github.com/aretw0/silo/pkg/repository"
)

// Kind identifies relational builders.
const Kind = "relational"

// Builder lazily builds an EntityManager from settings.
type Builder struct {
	mu      sync.Mutex
	opts    Options
	cfg     *config
	meta    *metadata.Factory
	manager *EntityManager
	watcher *metadata.Watcher
	cancel  context.CancelFunc
	builtAt *time.Time
}

// NewBuilder validates settings and prepares the mapping. The database is
// opened on the first Manager call.
func NewBuilder(settings map[string]any, opts ...Option) (*Builder, error) {
	options, err := DecodeOptions(settings)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.repositories == nil {
		cfg.repositories = repository.NewFactory(repository.WithFactoryLogger(cfg.logger))
	}

	driver, err := metadata.NewDriver(options.MetadataMapping)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidOption, err)
	}
	meta := metadata.NewFactory(driver, mappingNaming(options.Naming.strategy()))
	if err := meta.Register(cfg.entities...); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidOption, err)
	}

	// gorm serializers are process wide: check every name before registering any.
	names := make([]string, 0, len(cfg.serializers))
	for name := range cfg.serializers {
		if _, exists := schema.GetSerializer(name); exists {
			return nil, fmt.Errorf("%w: custom type %q", core.ErrTypeRegistered, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		schema.RegisterSerializer(name, cfg.serializers[name])
	}

	b := &Builder{opts: options, cfg: cfg, meta: meta}
	meta.OnInvalidate(b.forgetRepositories)
	return b, nil
}

// Name returns the manager name.
func (b *Builder) Name() string { return b.opts.Name }

// Kind returns "relational".
func (b *Builder) Kind() string { return Kind }

// Options returns the decoded settings.
func (b *Builder) Options() Options { return b.opts }

// MetadataFactory returns the mapping factory shared with the manager.
func (b *Builder) MetadataFactory() *metadata.Factory { return b.meta }

// Manager implements the registry builder contract.
func (b *Builder) Manager(ctx context.Context) (core.Manager, error) {
	return b.EntityManager(ctx)
}

// EntityManager returns the memoized entity manager, opening the database
// on first use.
func (b *Builder) EntityManager(ctx context.Context) (*EntityManager, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.manager != nil {
		return b.manager, nil
	}

	dsn, err := b.opts.Connection.DataSource()
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(b.opts.Connection.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", b.opts.Connection.Driver, err)
	}
	if b.opts.Connection.Memory {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", b.opts.Connection.Driver, err)
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{
		DriverName: b.opts.Connection.Driver,
		Conn:       sqlDB,
	}), &gorm.Config{
		NamingStrategy: b.opts.Naming.strategy(),
		Logger:         newQueryLogger(b.cfg.logger, b.opts),
		PrepareStmt:    b.opts.PrepareStatements,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("opening gorm: %w", err)
	}

	if b.opts.WatchMapping {
		if err := b.watch(); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	b.manager = &EntityManager{
		name:        b.opts.Name,
		db:          db,
		sqlDB:       sqlDB,
		meta:        b.meta,
		repos:       b.cfg.repositories,
		uow:         core.NewUnitOfWork(),
		events:      b.cfg.events,
		logger:      b.cfg.logger,
		defaultRepo: b.opts.DefaultRepository,
	}
	now := time.Now()
	b.builtAt = &now
	metrics.ManagerBuilt(Kind)
	b.cfg.logger.Debug("entity manager built", "name", b.opts.Name, "driver", b.opts.Connection.Driver)
	return b.manager, nil
}

func (b *Builder) watch() error {
	paths := metadata.WatchPaths(b.opts.MetadataMapping)
	if len(paths) == 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := metadata.NewWatcher(b.meta, paths,
		metadata.WithWatchLogger(b.cfg.logger),
		metadata.WithOnChange(func(path string) {
			b.cfg.logger.Info("mapping reloaded", "manager", b.opts.Name, "path", path)
		}),
	)
	if err := w.Start(ctx); err != nil {
		cancel()
		return err
	}
	b.watcher = w
	b.cancel = cancel
	return nil
}

// Close stops the mapping watcher and closes the database, if opened.
func (b *Builder) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.manager == nil {
		return nil
	}
	b.cfg.repositories.Forget(b.manager)
	err := b.manager.Close(ctx)
	b.manager = nil
	return err
}

// forgetRepositories drops the repositories built with outdated metadata.
func (b *Builder) forgetRepositories() {
	b.mu.Lock()
	m := b.manager
	b.mu.Unlock()
	if m != nil {
		b.cfg.repositories.Forget(m)
	}
}

// BuilderState exposes the builder state for observability.
type BuilderState struct {
	Name           string     `json:"name"`
	Kind           string     `json:"kind"`
	Driver         string     `json:"driver"`
	Classes        []string   `json:"classes"`
	LoadedMappings int        `json:"loaded_mappings"`
	Built          bool       `json:"built"`
	BuiltAt        *time.Time `json:"built_at,omitempty"`
	WatcherActive  bool       `json:"watcher_active"`
	Managed        int        `json:"managed_objects"`
	Pending        int        `json:"pending_changes"`
}

// State implements introspection.Introspectable.
func (b *Builder) State() any {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BuilderState{
		Name:           b.opts.Name,
		Kind:           Kind,
		Driver:         b.opts.Connection.Driver,
		Classes:        b.meta.Classes(),
		LoadedMappings: b.meta.Loaded(),
		Built:          b.manager != nil,
		BuiltAt:        b.builtAt,
		WatcherActive:  b.watcher != nil && b.watcher.Active(),
	}
	if b.manager != nil {
		s.Managed, s.Pending = b.manager.uow.Size()
	}
	return s
}

// ComponentType implements introspection.Component.
func (b *Builder) ComponentType() string {
	return "relational-builder"
}

var _ introspection.Introspectable = (*Builder)(nil)
var _ introspection.Component = (*Builder)(nil)

// Commands returns new maintenance commands of the manager.
func (b *Builder) Commands() []*cobra.Command {
	return b.commands()
}
