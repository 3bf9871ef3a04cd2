package core

import (
	"context"

	"github.com/aretw0/silo/pkg/metadata"
)

// Manager tracks, persists and queries objects of one storage backend.
// Implementations delegate all storage work to the underlying toolkit.
type Manager interface {
	// Name is the name the manager was registered with.
	Name() string

	// Metadata returns the mapping of a class. class may be a class name,
	// an instance or a reflect.Type.
	Metadata(class any) (*metadata.ClassMetadata, error)

	// Repository returns the (memoized) repository of a class.
	Repository(class any) (any, error)

	// Find loads an object by identifier. It returns nil when missing.
	Find(ctx context.Context, md *metadata.ClassMetadata, id any) (any, error)

	// FindBy loads objects matching criteria. Zero limit or offset means unbounded.
	FindBy(ctx context.Context, md *metadata.ClassMetadata, criteria Criteria, orderBy Order, limit, offset int) ([]any, error)

	// FindOneBy loads the first object matching criteria, or nil.
	FindOneBy(ctx context.Context, md *metadata.ClassMetadata, criteria Criteria, orderBy Order) (any, error)

	// Count counts objects matching criteria.
	Count(ctx context.Context, md *metadata.ClassMetadata, criteria Criteria) (int64, error)

	// Persist schedules an object for saving on the next Flush.
	Persist(obj any) error

	// Remove schedules an object for removal on the next Flush.
	Remove(obj any) error

	// Merge schedules the state of a possibly detached object to be saved.
	Merge(obj any) error

	// Detach stops tracking an object, discarding scheduled changes.
	Detach(obj any)

	// Contains reports whether an object is managed.
	Contains(obj any) bool

	// Refresh reloads an object state from storage.
	Refresh(ctx context.Context, obj any) error

	// Flush writes every scheduled change.
	Flush(ctx context.Context) error

	// Clear detaches every managed object.
	Clear()

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// RepositoryFactory builds repositories for a manager.
type RepositoryFactory interface {
	Repository(m Manager, className string) (any, error)

	// Forget drops the repositories memoized for m.
	Forget(m Manager)
}
