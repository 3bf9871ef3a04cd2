package repository_test

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
	"github.com/aretw0/silo/pkg/repository"
)

type Team struct {
	ID   int
	Name string
}

type User struct {
	ID     int
	Name   string
	Email  string
	Age    int
	TeamID int
	Team   *Team
}

type Address struct {
	Street string
}

func (Address) IsEmbedded() bool { return true }

type Admin struct {
	ID   int
	Name string
}

func (Admin) RepositoryName() string { return "admins" }

// memoryManager implements core.Manager in memory.
type memoryManager struct {
	name        string
	meta        *metadata.Factory
	repos       *repository.Factory
	uow         *core.UnitOfWork
	store       map[string][]any
	flushes     int
	defaultRepo string
}

func newMemoryManager(t *testing.T, repos *repository.Factory) *memoryManager {
	t.Helper()
	meta := metadata.NewFactory(metadata.NewAttributeDriver(), metadata.DefaultNaming())
	require.NoError(t, meta.Register(User{}, Team{}, Address{}, Admin{}))
	if repos == nil {
		repos = repository.NewFactory()
	}
	return &memoryManager{
		name:  "memory",
		meta:  meta,
		repos: repos,
		uow:   core.NewUnitOfWork(),
		store: make(map[string][]any),
	}
}

// seed stores objects as if they had been flushed.
func (m *memoryManager) seed(objects ...any) {
	for _, obj := range objects {
		md, _ := m.meta.Metadata(obj)
		m.store[md.Name] = append(m.store[md.Name], obj)
		m.uow.Manage(obj)
	}
}

func (m *memoryManager) Name() string { return m.name }

func (m *memoryManager) DefaultRepository() string { return m.defaultRepo }

func (m *memoryManager) Metadata(class any) (*metadata.ClassMetadata, error) {
	return m.meta.Metadata(class)
}

func (m *memoryManager) Repository(class any) (any, error) {
	name, err := m.meta.ClassName(class)
	if err != nil {
		return nil, err
	}
	return m.repos.Repository(m, name)
}

func (m *memoryManager) Find(_ context.Context, md *metadata.ClassMetadata, id any) (any, error) {
	for _, obj := range m.store[md.Name] {
		if v, _ := md.IdentifierValue(obj); fmt.Sprint(v) == fmt.Sprint(id) {
			return obj, nil
		}
	}
	return nil, nil
}

func (m *memoryManager) FindBy(_ context.Context, md *metadata.ClassMetadata, criteria core.Criteria, orderBy core.Order, limit, offset int) ([]any, error) {
	var out []any
	for _, obj := range m.store[md.Name] {
		ok, err := matches(md, obj, criteria)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, obj)
		}
	}

	for i := len(orderBy) - 1; i >= 0; i-- {
		s := orderBy[i]
		sort.SliceStable(out, func(a, b int) bool {
			va, _ := md.FieldValue(out[a], s.Field)
			vb, _ := md.FieldValue(out[b], s.Field)
			if s.Dir == core.Descending {
				return less(vb, va)
			}
			return less(va, vb)
		})
	}

	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryManager) FindOneBy(ctx context.Context, md *metadata.ClassMetadata, criteria core.Criteria, orderBy core.Order) (any, error) {
	found, err := m.FindBy(ctx, md, criteria, orderBy, 1, 0)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

func (m *memoryManager) Count(ctx context.Context, md *metadata.ClassMetadata, criteria core.Criteria) (int64, error) {
	found, err := m.FindBy(ctx, md, criteria, nil, 0, 0)
	return int64(len(found)), err
}

func (m *memoryManager) Persist(obj any) error {
	if err := core.CheckObject(obj); err != nil {
		return err
	}
	m.uow.Schedule(core.OpSave, obj)
	return nil
}

func (m *memoryManager) Remove(obj any) error {
	if err := core.CheckObject(obj); err != nil {
		return err
	}
	m.uow.Schedule(core.OpDelete, obj)
	return nil
}

func (m *memoryManager) Merge(obj any) error { return m.Persist(obj) }

func (m *memoryManager) Detach(obj any) { m.uow.Detach(obj) }

func (m *memoryManager) Contains(obj any) bool { return m.uow.Contains(obj) }

func (m *memoryManager) Refresh(_ context.Context, obj any) error {
	if !m.uow.Contains(obj) {
		return core.ErrNotFound
	}
	return nil
}

func (m *memoryManager) Flush(_ context.Context) error {
	ops := m.uow.Pending()
	for _, op := range ops {
		md, err := m.meta.Metadata(op.Object)
		if err != nil {
			return err
		}
		list := m.store[md.Name]
		idx := -1
		for i, o := range list {
			if o == op.Object {
				idx = i
			}
		}
		switch {
		case op.Kind == core.OpSave && idx < 0:
			m.store[md.Name] = append(list, op.Object)
		case op.Kind == core.OpDelete && idx >= 0:
			m.store[md.Name] = append(list[:idx], list[idx+1:]...)
		}
	}
	m.uow.Complete(ops)
	m.flushes++
	return nil
}

func (m *memoryManager) Clear() { m.uow.Clear() }

func (m *memoryManager) Close(context.Context) error { return nil }

var _ core.Manager = (*memoryManager)(nil)

func matches(md *metadata.ClassMetadata, obj any, criteria core.Criteria) (bool, error) {
	for field, want := range criteria {
		got, ok := md.FieldValue(obj, field)
		if !ok {
			return false, fmt.Errorf("unknown field %q", field)
		}
		rv := reflect.ValueOf(want)
		if rv.IsValid() && rv.Kind() == reflect.Slice {
			found := false
			for i := 0; i < rv.Len(); i++ {
				if reflect.DeepEqual(got, rv.Index(i).Interface()) {
					found = true
				}
			}
			if !found {
				return false, nil
			}
			continue
		}
		if !reflect.DeepEqual(got, want) {
			return false, nil
		}
	}
	return true, nil
}

func less(a, b any) bool {
	switch va := a.(type) {
	case int:
		return va < b.(int)
	case string:
		return va < b.(string)
	}
	return false
}

func usersFixture(t *testing.T) (*memoryManager, *repository.Base, []*User) {
	t.Helper()
	m := newMemoryManager(t, nil)
	red := &Team{ID: 1, Name: "red"}
	users := []*User{
		{ID: 1, Name: "alice", Email: "alice@example.com", Age: 30, TeamID: 1, Team: red},
		{ID: 2, Name: "bob", Email: "bob@example.com", Age: 25},
		{ID: 3, Name: "carol", Email: "carol@example.com", Age: 30},
		{ID: 4, Name: "bob", Email: "bob2@example.com", Age: 41},
	}
	m.seed(red)
	for _, u := range users {
		m.seed(u)
	}

	repo, err := m.Repository(User{})
	require.NoError(t, err)
	return m, repo.(*repository.Base), users
}
