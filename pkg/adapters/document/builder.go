// Package document builds mongo backed document managers.
package document

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/introspection"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aretw0/silo/internal/metrics"
	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
	"github.com/aretw0/silo/pkg/repository"
)

// Kind identifies document builders.
const Kind = "document"

// Builder lazily builds a DocumentManager from settings.
type Builder struct {
	mu      sync.Mutex
	opts    Options
	cfg     *config
	meta    *metadata.Factory
	manager *DocumentManager
	watcher *metadata.Watcher
	cancel  context.CancelFunc
	builtAt *time.Time
}

// NewBuilder validates settings and prepares the mapping. The client is
// created on the first Manager call and connects lazily.
func NewBuilder(settings map[string]any, opts ...Option) (*Builder, error) {
	decoded, err := DecodeOptions(settings)
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

	driver, err := metadata.NewDriver(decoded.MetadataMapping)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidOption, err)
	}
	meta := metadata.NewFactory(driver, metadata.Naming{
		Key:     bsonNaming,
		Storage: collectionName,
		Flatten: inline,
	})
	if err := meta.Register(cfg.documents...); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidOption, err)
	}

	b := &Builder{opts: decoded, cfg: cfg, meta: meta}
	meta.OnInvalidate(b.forgetRepositories)
	return b, nil
}

// Name returns the manager name.
func (b *Builder) Name() string { return b.opts.Name }

// Kind returns "document".
func (b *Builder) Kind() string { return Kind }

// Options returns the decoded settings.
func (b *Builder) Options() Options { return b.opts }

// MetadataFactory returns the mapping factory shared with the manager.
func (b *Builder) MetadataFactory() *metadata.Factory { return b.meta }

// Manager implements the registry builder contract.
func (b *Builder) Manager(ctx context.Context) (core.Manager, error) {
	return b.DocumentManager(ctx)
}

// DocumentManager returns the memoized document manager.
func (b *Builder) DocumentManager(ctx context.Context) (*DocumentManager, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.manager != nil {
		return b.manager, nil
	}

	client := b.cfg.client
	if client == nil {
		var err error
		client, err = mongo.Connect(ctx, b.ClientOptions())
		if err != nil {
			return nil, fmt.Errorf("creating mongo client: %w", err)
		}
	}

	if b.opts.WatchMapping {
		if err := b.watch(); err != nil {
			if b.cfg.client == nil {
				_ = client.Disconnect(ctx)
			}
			return nil, err
		}
	}

	b.manager = &DocumentManager{
		name:        b.opts.Name,
		client:      client,
		ownsClient:  b.cfg.client == nil,
		db:          client.Database(b.opts.DefaultDatabase),
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
	b.cfg.logger.Debug("document manager built", "name", b.opts.Name, "database", b.opts.DefaultDatabase)
	return b.manager, nil
}

// ClientOptions returns the options the mongo client is created with. Values
// set in the URI take precedence over the settings defaults.
func (b *Builder) ClientOptions() *options.ClientOptions {
	clientOpts := options.Client().
		SetAppName(b.opts.Client.AppName).
		SetConnectTimeout(b.opts.Client.ConnectTimeout).
		SetServerSelectionTimeout(b.opts.Client.ServerSelectionTimeout).
		ApplyURI(b.opts.Client.URI)
	if b.opts.LogCommands {
		clientOpts.SetMonitor(commandMonitor(b.cfg.logger, b.opts.Name))
	}
	return clientOpts
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

// Close stops the mapping watcher and disconnects the client, if created.
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
	Database       string     `json:"database"`
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
		Database:       b.opts.DefaultDatabase,
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
	return "document-builder"
}

var _ introspection.Introspectable = (*Builder)(nil)
var _ introspection.Component = (*Builder)(nil)

// Commands returns new maintenance commands of the manager.
func (b *Builder) Commands() []*cobra.Command {
	return b.commands()
}
