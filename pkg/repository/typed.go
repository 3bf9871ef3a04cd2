package repository

import (
	"context"
	"fmt"
	"reflect"

	"github.com/aretw0/silo/pkg/core"
)

// Repository is a type-safe view over Base for class T.
type Repository[T any] struct {
	base *Base
}

// New wraps base for T. T must be the class managed by base.
func New[T any](base *Base) (*Repository[T], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if base.md.Type != t {
		return nil, fmt.Errorf("%w: repository of %q cannot serve %s", core.ErrUnsupportedObject, base.md.Name, t)
	}
	return &Repository[T]{base: base}, nil
}

// Of returns the typed repository of T from a manager.
func Of[T any](m core.Manager) (*Repository[T], error) {
	repo, err := m.Repository(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	u, ok := repo.(interface{ Unwrap() *Base })
	if !ok {
		return nil, fmt.Errorf("%w: %T does not embed the repository behaviour", core.ErrUnsupportedObject, repo)
	}
	return New[T](u.Unwrap())
}

// Base returns the untyped repository.
func (r *Repository[T]) Base() *Base { return r.base }

// Find loads an object by identifier, or returns nil.
func (r *Repository[T]) Find(ctx context.Context, id any) (*T, error) {
	obj, err := r.base.Find(ctx, id)
	return one[T](obj, err)
}

// FindAll loads every object.
func (r *Repository[T]) FindAll(ctx context.Context) ([]*T, error) {
	return many[T](r.base.FindAll(ctx))
}

// FindBy loads objects matching criteria.
func (r *Repository[T]) FindBy(ctx context.Context, criteria core.Criteria, orderBy core.Order, limit, offset int) ([]*T, error) {
	return many[T](r.base.FindBy(ctx, criteria, orderBy, limit, offset))
}

// FindByOrFail loads objects matching criteria or fails with core.ErrNotFound.
func (r *Repository[T]) FindByOrFail(ctx context.Context, criteria core.Criteria, orderBy core.Order, limit, offset int) ([]*T, error) {
	return many[T](r.base.FindByOrFail(ctx, criteria, orderBy, limit, offset))
}

// FindOneBy loads the first object matching criteria, or nil.
func (r *Repository[T]) FindOneBy(ctx context.Context, criteria core.Criteria, orderBy core.Order) (*T, error) {
	return one[T](r.base.FindOneBy(ctx, criteria, orderBy))
}

// FindOneByOrFail loads the first match or fails with core.ErrNotFound.
func (r *Repository[T]) FindOneByOrFail(ctx context.Context, criteria core.Criteria, orderBy core.Order) (*T, error) {
	return one[T](r.base.FindOneByOrFail(ctx, criteria, orderBy))
}

// FindOneByOrGetNew loads the first match or returns a new object.
func (r *Repository[T]) FindOneByOrGetNew(ctx context.Context, criteria core.Criteria, orderBy core.Order) (*T, error) {
	return one[T](r.base.FindOneByOrGetNew(ctx, criteria, orderBy))
}

// Count counts objects matching criteria.
func (r *Repository[T]) Count(ctx context.Context, criteria core.Criteria) (int64, error) {
	return r.base.Count(ctx, criteria)
}

// CountAll counts every object.
func (r *Repository[T]) CountAll(ctx context.Context) (int64, error) {
	return r.base.CountAll(ctx)
}

// NewObject returns a new zero object.
func (r *Repository[T]) NewObject() *T { return new(T) }

// IsAttached reports whether obj is managed.
func (r *Repository[T]) IsAttached(obj *T) bool {
	return r.base.manager.Contains(obj)
}

// Persist schedules objects for saving.
func (r *Repository[T]) Persist(ctx context.Context, flush bool, objects ...*T) error {
	return r.base.Persist(ctx, flush, objects)
}

// Remove schedules objects for removal.
func (r *Repository[T]) Remove(ctx context.Context, flush bool, objects ...*T) error {
	return r.base.Remove(ctx, flush, objects)
}

// RemoveByID removes the object with identifier id, if any.
func (r *Repository[T]) RemoveByID(ctx context.Context, id any, flush bool) error {
	return r.base.Remove(ctx, flush, id)
}

// RemoveAll schedules every object for removal.
func (r *Repository[T]) RemoveAll(ctx context.Context, flush bool) error {
	return r.base.RemoveAll(ctx, flush)
}

// RemoveBy schedules objects matching criteria for removal.
func (r *Repository[T]) RemoveBy(ctx context.Context, criteria core.Criteria, limit int, flush bool) error {
	return r.base.RemoveBy(ctx, criteria, limit, flush)
}

// RemoveOneBy schedules the first object matching criteria for removal.
func (r *Repository[T]) RemoveOneBy(ctx context.Context, criteria core.Criteria, orderBy core.Order, flush bool) error {
	return r.base.RemoveOneBy(ctx, criteria, orderBy, flush)
}

// Refresh reloads objects from storage.
func (r *Repository[T]) Refresh(ctx context.Context, objects ...*T) error {
	return r.base.Refresh(ctx, objects)
}

// Merge schedules detached objects for saving.
func (r *Repository[T]) Merge(ctx context.Context, objects ...*T) error {
	return r.base.Merge(ctx, objects)
}

// Detach stops managing objects.
func (r *Repository[T]) Detach(objects ...*T) error {
	return r.base.Detach(objects)
}

// Flush writes scheduled changes.
func (r *Repository[T]) Flush(ctx context.Context) error {
	return r.base.Flush(ctx)
}

// Call dispatches a dynamic finder, see Base.Call. Results are typed:
// []*T for findBy calls and *T for findOneBy calls.
func (r *Repository[T]) Call(ctx context.Context, method string, args ...any) (any, error) {
	res, err := r.base.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	switch v := res.(type) {
	case []any:
		return many[T](v, nil)
	case *T:
		return v, nil
	}
	return res, nil
}

func one[T any](obj any, err error) (*T, error) {
	if err != nil || obj == nil {
		return nil, err
	}
	typed, ok := obj.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a %s", core.ErrUnsupportedObject, obj, reflect.TypeOf((*T)(nil)).Elem())
	}
	return typed, nil
}

func many[T any](objects []any, err error) ([]*T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(objects))
	for _, obj := range objects {
		typed, err := one[T](obj, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, typed)
	}
	return out, nil
}
