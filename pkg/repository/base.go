// Package repository provides the repository behaviour shared by every
// manager: criteria finders, dynamic method dispatch and bulk helpers over
// a core.Manager.
package repository

import (
	"context"
	"fmt"
	"reflect"

	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
)

// Base is the repository of one class. Custom repositories embed *Base.
type Base struct {
	manager core.Manager
	md      *metadata.ClassMetadata
}

// NewBase creates the repository of the class described by md.
func NewBase(m core.Manager, md *metadata.ClassMetadata) *Base {
	return &Base{manager: m, md: md}
}

// Unwrap returns the embedded behaviour of custom repositories.
func (r *Base) Unwrap() *Base { return r }

// ClassName returns the managed class name.
func (r *Base) ClassName() string { return r.md.Name }

// Metadata returns the current mapping of the managed class. It follows
// reloads of the manager's metadata.
func (r *Base) Metadata() *metadata.ClassMetadata {
	if md, err := r.manager.Metadata(r.md.Name); err == nil {
		return md
	}
	return r.md
}

// Manager returns the manager the repository works with.
func (r *Base) Manager() core.Manager { return r.manager }

// Find loads an object by identifier, or returns nil.
func (r *Base) Find(ctx context.Context, id any) (any, error) {
	return r.manager.Find(ctx, r.Metadata(), id)
}

// FindAll loads every object of the class.
func (r *Base) FindAll(ctx context.Context) ([]any, error) {
	return r.manager.FindBy(ctx, r.Metadata(), core.Criteria{}, nil, 0, 0)
}

// FindBy loads objects matching criteria.
func (r *Base) FindBy(ctx context.Context, criteria core.Criteria, orderBy core.Order, limit, offset int) ([]any, error) {
	return r.manager.FindBy(ctx, r.Metadata(), criteria, orderBy, limit, offset)
}

// FindOneBy loads the first object matching criteria, or nil.
func (r *Base) FindOneBy(ctx context.Context, criteria core.Criteria, orderBy core.Order) (any, error) {
	return r.manager.FindOneBy(ctx, r.Metadata(), criteria, orderBy)
}

// Count counts objects matching criteria.
func (r *Base) Count(ctx context.Context, criteria core.Criteria) (int64, error) {
	return r.manager.Count(ctx, r.Metadata(), criteria)
}

// CountAll counts every object of the class.
func (r *Base) CountAll(ctx context.Context) (int64, error) {
	return r.Count(ctx, core.Criteria{})
}

// FindByOrFail is FindBy returning core.ErrNotFound on an empty result.
func (r *Base) FindByOrFail(ctx context.Context, criteria core.Criteria, orderBy core.Order, limit, offset int) ([]any, error) {
	objects, err := r.FindBy(ctx, criteria, orderBy, limit, offset)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: no %s matches %v", core.ErrNotFound, r.md.Name, criteria)
	}
	return objects, nil
}

// FindOneByOrFail is FindOneBy returning core.ErrNotFound when nothing matches.
func (r *Base) FindOneByOrFail(ctx context.Context, criteria core.Criteria, orderBy core.Order) (any, error) {
	obj, err := r.FindOneBy(ctx, criteria, orderBy)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: no %s matches %v", core.ErrNotFound, r.md.Name, criteria)
	}
	return obj, nil
}

// FindOneByOrGetNew is FindOneBy returning a new, unmanaged object when
// nothing matches.
func (r *Base) FindOneByOrGetNew(ctx context.Context, criteria core.Criteria, orderBy core.Order) (any, error) {
	obj, err := r.FindOneBy(ctx, criteria, orderBy)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return r.NewObject(), nil
	}
	return obj, nil
}

// NewObject returns a new zero object of the class.
func (r *Base) NewObject() any {
	return r.Metadata().NewInstance()
}

// IsAttached reports whether obj is managed.
func (r *Base) IsAttached(obj any) (bool, error) {
	if err := r.assertClass(obj); err != nil {
		return false, err
	}
	return r.manager.Contains(obj), nil
}

// Persist schedules objects for saving. Slices are flattened.
func (r *Base) Persist(ctx context.Context, flush bool, objects ...any) error {
	list, err := r.objects(objects)
	if err != nil {
		return err
	}
	return r.process(ctx, r.manager.Persist, list, flush)
}

// Remove schedules targets for removal. A target is an object, a slice of
// objects, an identifier or criteria; identifiers and criteria are looked up
// first and missing targets are ignored.
func (r *Base) Remove(ctx context.Context, flush bool, targets ...any) error {
	var list []any
	for _, target := range flatten(targets) {
		found, err := r.resolveTarget(ctx, target)
		if err != nil {
			return err
		}
		if found != nil {
			list = append(list, found)
		}
	}
	if len(list) == 0 {
		return nil
	}
	return r.process(ctx, r.manager.Remove, list, flush)
}

// RemoveAll schedules every object of the class for removal.
func (r *Base) RemoveAll(ctx context.Context, flush bool) error {
	objects, err := r.FindAll(ctx)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return nil
	}
	return r.process(ctx, r.manager.Remove, objects, flush)
}

// RemoveBy schedules objects matching criteria for removal. A zero limit
// removes every match.
func (r *Base) RemoveBy(ctx context.Context, criteria core.Criteria, limit int, flush bool) error {
	objects, err := r.FindBy(ctx, criteria, nil, limit, 0)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return nil
	}
	return r.process(ctx, r.manager.Remove, objects, flush)
}

// RemoveOneBy schedules the first object matching criteria for removal.
func (r *Base) RemoveOneBy(ctx context.Context, criteria core.Criteria, orderBy core.Order, flush bool) error {
	obj, err := r.FindOneBy(ctx, criteria, orderBy)
	if err != nil {
		return err
	}
	if obj == nil {
		return nil
	}
	return r.process(ctx, r.manager.Remove, []any{obj}, flush)
}

// Refresh reloads objects from storage.
func (r *Base) Refresh(ctx context.Context, objects ...any) error {
	list, err := r.objects(objects)
	if err != nil {
		return err
	}
	for _, obj := range list {
		if err := r.manager.Refresh(ctx, obj); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes every change scheduled on the manager.
func (r *Base) Flush(ctx context.Context) error {
	return r.manager.Flush(ctx)
}

// Merge schedules the state of possibly detached objects for saving.
func (r *Base) Merge(ctx context.Context, objects ...any) error {
	list, err := r.objects(objects)
	if err != nil {
		return err
	}
	return r.process(ctx, r.manager.Merge, list, false)
}

// Detach stops managing objects.
func (r *Base) Detach(objects ...any) error {
	list, err := r.objects(objects)
	if err != nil {
		return err
	}
	for _, obj := range list {
		r.manager.Detach(obj)
	}
	return nil
}

func (r *Base) process(ctx context.Context, action func(any) error, objects []any, flush bool) error {
	for _, obj := range objects {
		if err := action(obj); err != nil {
			return err
		}
	}
	if flush {
		return r.Flush(ctx)
	}
	return nil
}

func (r *Base) objects(objects []any) ([]any, error) {
	list := flatten(objects)
	for _, obj := range list {
		if err := r.assertClass(obj); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r *Base) assertClass(obj any) error {
	if r.Metadata().IsInstance(obj) {
		return nil
	}
	return fmt.Errorf("%w: managed objects must be instances of %q, %q given",
		core.ErrUnsupportedObject, r.md.Name, fmt.Sprintf("%T", obj))
}

func (r *Base) resolveTarget(ctx context.Context, target any) (any, error) {
	switch t := target.(type) {
	case core.Criteria:
		return r.FindOneBy(ctx, t, nil)
	case map[string]any:
		return r.FindOneBy(ctx, core.Criteria(t), nil)
	}

	if target != nil && reflect.TypeOf(target).Kind() == reflect.Pointer {
		if err := r.assertClass(target); err != nil {
			return nil, err
		}
		return target, nil
	}
	if isIdentifier(target) {
		return r.Find(ctx, target)
	}
	return nil, r.assertClass(target)
}

func isIdentifier(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	switch t.Kind() {
	case reflect.Array:
		return t.Elem().Kind() == reflect.Uint8
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// flatten expands slices and arrays of objects. []byte identifiers are kept.
func flatten(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		rv := reflect.ValueOf(v)
		if rv.IsValid() && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
			for i := 0; i < rv.Len(); i++ {
				out = append(out, rv.Index(i).Interface())
			}
			continue
		}
		out = append(out, v)
	}
	return out
}
