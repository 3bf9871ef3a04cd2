package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aretw0/silo/internal/metrics"
	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
)

// EntityManager is a core.Manager over a gorm database.
type EntityManager struct {
	name        string
	db          *gorm.DB
	sqlDB       *sql.DB
	meta        *metadata.Factory
	repos       core.RepositoryFactory
	uow         *core.UnitOfWork
	events      *core.EventManager
	logger      *slog.Logger
	defaultRepo string
}

// Name implements core.Manager.
func (m *EntityManager) Name() string { return m.name }

// DefaultRepository returns the repository used for classes without one.
func (m *EntityManager) DefaultRepository() string { return m.defaultRepo }

// DB returns the gorm handle.
func (m *EntityManager) DB() *gorm.DB { return m.db }

// MetadataFactory returns the mapping factory.
func (m *EntityManager) MetadataFactory() *metadata.Factory { return m.meta }

// Metadata implements core.Manager.
func (m *EntityManager) Metadata(class any) (*metadata.ClassMetadata, error) {
	return m.meta.Metadata(class)
}

// Repository implements core.Manager.
func (m *EntityManager) Repository(class any) (any, error) {
	name, err := m.meta.ClassName(class)
	if err != nil {
		return nil, err
	}
	return m.repos.Repository(m, name)
}

// Find implements core.Manager.
func (m *EntityManager) Find(ctx context.Context, md *metadata.ClassMetadata, id any) (any, error) {
	if md.Identifier == "" {
		return nil, fmt.Errorf("%w: class %q has no identifier", core.ErrMissingIdentifier, md.Name)
	}
	if obj, ok := m.uow.Lookup(core.IdentityKey(md.Name, id)); ok {
		return obj, nil
	}
	return m.FindOneBy(ctx, md, core.Criteria{md.Identifier: id}, nil)
}

// FindBy implements core.Manager.
func (m *EntityManager) FindBy(ctx context.Context, md *metadata.ClassMetadata, criteria core.Criteria, orderBy core.Order, limit, offset int) ([]any, error) {
	tx, err := m.query(ctx, md, criteria)
	if err != nil {
		return nil, err
	}
	for _, s := range orderBy {
		col, ok := md.StorageKey(s.Field)
		if !ok {
			return nil, fmt.Errorf("%w: cannot order %q by unknown field %q", core.ErrBadMethodCall, md.Name, s.Field)
		}
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: s.Dir == core.Descending})
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}

	dest := md.NewSlice()
	if err := tx.Find(dest).Error; err != nil {
		return nil, fmt.Errorf("loading %s: %w", md.Name, err)
	}

	rows := reflect.ValueOf(dest).Elem()
	out := make([]any, 0, rows.Len())
	for i := 0; i < rows.Len(); i++ {
		obj, err := m.loaded(ctx, md, rows.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// FindOneBy implements core.Manager.
func (m *EntityManager) FindOneBy(ctx context.Context, md *metadata.ClassMetadata, criteria core.Criteria, orderBy core.Order) (any, error) {
	found, err := m.FindBy(ctx, md, criteria, orderBy, 1, 0)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// Count implements core.Manager.
func (m *EntityManager) Count(ctx context.Context, md *metadata.ClassMetadata, criteria core.Criteria) (int64, error) {
	tx, err := m.query(ctx, md, criteria)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting %s: %w", md.Name, err)
	}
	return n, nil
}

// Persist implements core.Manager.
func (m *EntityManager) Persist(obj any) error {
	if _, err := m.entity(obj); err != nil {
		return err
	}
	m.uow.Schedule(core.OpSave, obj)
	return nil
}

// Remove implements core.Manager.
func (m *EntityManager) Remove(obj any) error {
	if _, err := m.entity(obj); err != nil {
		return err
	}
	m.uow.Schedule(core.OpDelete, obj)
	return nil
}

// Merge implements core.Manager. gorm saves upsert by primary key, so merging
// schedules a save.
func (m *EntityManager) Merge(obj any) error {
	return m.Persist(obj)
}

// Detach implements core.Manager.
func (m *EntityManager) Detach(obj any) { m.uow.Detach(obj) }

// Contains implements core.Manager.
func (m *EntityManager) Contains(obj any) bool { return m.uow.Contains(obj) }

// Clear implements core.Manager.
func (m *EntityManager) Clear() { m.uow.Clear() }

// Refresh implements core.Manager.
func (m *EntityManager) Refresh(ctx context.Context, obj any) error {
	md, err := m.entity(obj)
	if err != nil {
		return err
	}
	if !md.HasIdentifierValue(obj) {
		return fmt.Errorf("%w: cannot refresh %s", core.ErrMissingIdentifier, md.Name)
	}
	id, _ := md.IdentifierValue(obj)
	col, _ := md.StorageKey(md.Identifier)

	fresh := md.NewInstance()
	err = m.db.WithContext(ctx).Table(md.Storage).
		Where(clause.Eq{Column: clause.Column{Name: col}, Value: id}).
		Take(fresh).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %v", core.ErrNotFound, md.Name, id)
	}
	if err != nil {
		return fmt.Errorf("refreshing %s: %w", md.Name, err)
	}

	reflect.ValueOf(obj).Elem().Set(reflect.ValueOf(fresh).Elem())
	return m.events.Dispatch(ctx, core.Event{Name: core.PostLoad, Manager: m.name, Object: obj})
}

// Flush implements core.Manager. Scheduled changes are written inside one
// gorm transaction.
func (m *EntityManager) Flush(ctx context.Context) error {
	defer metrics.ObserveFlush(Kind, time.Now())

	if err := m.events.Dispatch(ctx, core.Event{Name: core.PreFlush, Manager: m.name}); err != nil {
		return err
	}

	ops := m.uow.Pending()
	for _, op := range ops {
		md, err := m.meta.Metadata(op.Object)
		if err != nil {
			return err
		}
		switch op.Kind {
		case core.OpSave:
			if err := m.events.Dispatch(ctx, core.Event{Name: core.PrePersist, Manager: m.name, Object: op.Object}); err != nil {
				return err
			}
			if err := core.AssignIdentifier(md, op.Object); err != nil {
				return err
			}
		case core.OpDelete:
			if err := m.events.Dispatch(ctx, core.Event{Name: core.PreRemove, Manager: m.name, Object: op.Object}); err != nil {
				return err
			}
			if !md.HasIdentifierValue(op.Object) {
				return fmt.Errorf("%w: cannot remove %s", core.ErrMissingIdentifier, md.Name)
			}
		}
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			md, _ := m.meta.Metadata(op.Object)
			q := tx.Table(md.Storage).Omit(clause.Associations)
			var err error
			if op.Kind == core.OpSave {
				err = q.Save(op.Object).Error
			} else {
				err = q.Delete(op.Object).Error
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", op.Kind, md.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.uow.Complete(ops)
	for _, op := range ops {
		if op.Kind != core.OpSave {
			continue
		}
		md, _ := m.meta.Metadata(op.Object)
		if id, ok := md.IdentifierValue(op.Object); ok {
			m.uow.Attach(core.IdentityKey(md.Name, id), op.Object)
		}
	}
	m.logger.Debug("flushed", "manager", m.name, "operations", len(ops))

	return m.events.Dispatch(ctx, core.Event{Name: core.PostFlush, Manager: m.name})
}

// Close implements core.Manager.
func (m *EntityManager) Close(context.Context) error {
	m.uow.Clear()
	return m.sqlDB.Close()
}

func (m *EntityManager) entity(obj any) (*metadata.ClassMetadata, error) {
	if err := core.CheckObject(obj); err != nil {
		return nil, err
	}
	md, err := m.meta.Metadata(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUnsupportedObject, err)
	}
	if md.Embedded {
		return nil, fmt.Errorf("%w: embedded class %q cannot be managed on its own", core.ErrUnsupportedObject, md.Name)
	}
	return md, nil
}

// loaded puts a freshly scanned object in the identity map. An object
// already managed under the same identity is returned instead.
func (m *EntityManager) loaded(ctx context.Context, md *metadata.ClassMetadata, obj any) (any, error) {
	id, ok := md.IdentifierValue(obj)
	if !ok {
		m.uow.Manage(obj)
	} else if canonical := m.uow.Attach(core.IdentityKey(md.Name, id), obj); canonical != obj {
		return canonical, nil
	}
	if err := m.events.Dispatch(ctx, core.Event{Name: core.PostLoad, Manager: m.name, Object: obj}); err != nil {
		return nil, err
	}
	return obj, nil
}

func (m *EntityManager) query(ctx context.Context, md *metadata.ClassMetadata, criteria core.Criteria) (*gorm.DB, error) {
	tx := m.db.WithContext(ctx).Table(md.Storage)
	if len(criteria) == 0 {
		return tx, nil
	}

	fields := make([]string, 0, len(criteria))
	for f := range criteria {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	exprs := make([]clause.Expression, 0, len(fields))
	for _, f := range fields {
		col, ok := md.StorageKey(f)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a field of %q", core.ErrBadMethodCall, f, md.Name)
		}
		value, err := m.criteriaValue(md, f, criteria[f])
		if err != nil {
			return nil, err
		}
		column := clause.Column{Name: col}

		rv := reflect.ValueOf(value)
		if rv.IsValid() && rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			values := make([]any, 0, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				v, err := m.criteriaValue(md, f, rv.Index(i).Interface())
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			exprs = append(exprs, clause.IN{Column: column, Values: values})
			continue
		}
		exprs = append(exprs, clause.Eq{Column: column, Value: value})
	}
	return tx.Clauses(clause.Where{Exprs: exprs}), nil
}

// criteriaValue replaces association objects by their identifier.
func (m *EntityManager) criteriaValue(md *metadata.ClassMetadata, field string, value any) (any, error) {
	a, ok := md.Association(field)
	if !ok || value == nil {
		return value, nil
	}
	target, err := m.meta.Metadata(a.Target)
	if err != nil {
		return nil, err
	}
	if !target.IsInstance(value) {
		return value, nil
	}
	if a.JoinKey == "" {
		return nil, fmt.Errorf("%w: association %s.%s has no join column", core.ErrBadMethodCall, md.Name, a.Name)
	}
	id, _ := target.IdentifierValue(value)
	return id, nil
}

var _ core.Manager = (*EntityManager)(nil)
