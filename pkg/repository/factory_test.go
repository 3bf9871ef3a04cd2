package repository_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
	"github.com/aretw0/silo/pkg/repository"
)

type AdminRepository struct {
	*repository.Base
	Owner core.Manager
	Class *metadata.ClassMetadata
	Audit io.Writer
	Tags  []string
}

func (r *AdminRepository) FindByNamePrefix(ctx context.Context, prefix string) ([]any, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []any
	for _, obj := range all {
		if strings.HasPrefix(obj.(*Admin).Name, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func newAdminRepository(base *repository.Base, m core.Manager, md *metadata.ClassMetadata, audit io.Writer, tags []string) *AdminRepository {
	return &AdminRepository{Base: base, Owner: m, Class: md, Audit: audit, Tags: tags}
}

func TestFactoryMemoizes(t *testing.T) {
	repos := repository.NewFactory()
	m1 := newMemoryManager(t, repos)
	m2 := newMemoryManager(t, repos)

	a, err := repos.Repository(m1, "User")
	require.NoError(t, err)
	b, err := m1.Repository(&User{})
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := repos.Repository(m2, "User")
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	d, err := repos.Repository(m1, "Team")
	require.NoError(t, err)
	assert.NotSame(t, a, d)

	repos.Forget(m1)
	e, err := repos.Repository(m1, "User")
	require.NoError(t, err)
	assert.NotSame(t, a, e)
}

func TestRepositoryFollowsMetadataReload(t *testing.T) {
	m := newMemoryManager(t, nil)

	repo, err := m.Repository("User")
	require.NoError(t, err)
	base := repo.(*repository.Base)
	before := base.Metadata()

	m.meta.Invalidate()
	after, err := m.meta.Metadata("User")
	require.NoError(t, err)
	require.NotSame(t, before, after)
	assert.Same(t, after, base.Metadata())

	m.seed(&User{ID: 1, Name: "ada"})
	found, err := base.Call(context.Background(), "findOneByName", "ada")
	require.NoError(t, err)
	assert.Equal(t, 1, found.(*User).ID)
}

func TestFactoryCustomRepository(t *testing.T) {
	audit := &strings.Builder{}
	services := core.NewServices()
	core.ProvideAs[io.Writer](services, audit)

	repos := repository.NewFactory(repository.WithContainer(services))
	require.NoError(t, repos.Register("admins", newAdminRepository))

	m := newMemoryManager(t, repos)
	m.seed(&Admin{ID: 1, Name: "root"}, &Admin{ID: 2, Name: "ops"})

	repo, err := m.Repository("Admin")
	require.NoError(t, err)
	admins, ok := repo.(*AdminRepository)
	require.True(t, ok)

	assert.Same(t, m, admins.Owner)
	assert.Equal(t, "Admin", admins.Class.Name)
	assert.Same(t, audit, admins.Audit)
	assert.Nil(t, admins.Tags)

	found, err := admins.FindByNamePrefix(context.Background(), "ro")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	res, err := admins.Call(context.Background(), "findOneByName", "ops")
	require.NoError(t, err)
	assert.Equal(t, 2, res.(*Admin).ID)
}

func TestFactoryDefaultRepository(t *testing.T) {
	repos := repository.NewFactory()
	require.NoError(t, repos.Register("audited", func(base *repository.Base) *AdminRepository {
		return &AdminRepository{Base: base}
	}))

	m := newMemoryManager(t, repos)
	m.defaultRepo = "audited"

	repo, err := m.Repository("User")
	require.NoError(t, err)
	assert.IsType(t, &AdminRepository{}, repo)
}

func TestFactoryErrors(t *testing.T) {
	t.Run("Unregistered Repository", func(t *testing.T) {
		m := newMemoryManager(t, nil)
		_, err := m.Repository("Admin")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Embedded Class", func(t *testing.T) {
		m := newMemoryManager(t, nil)
		_, err := m.Repository(Address{})
		assert.ErrorIs(t, err, core.ErrUnsupportedObject)
	})

	t.Run("Unknown Class", func(t *testing.T) {
		m := newMemoryManager(t, nil)
		_, err := m.Repository("Ghost")
		assert.ErrorIs(t, err, metadata.ErrClassNotMapped)
	})

	t.Run("Constructor Error", func(t *testing.T) {
		boom := errors.New("boom")
		repos := repository.NewFactory()
		require.NoError(t, repos.Register("admins", func(*repository.Base) (*AdminRepository, error) {
			return nil, boom
		}))

		_, err := newMemoryManager(t, repos).Repository("Admin")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Unresolvable Parameter", func(t *testing.T) {
		repos := repository.NewFactory()
		require.NoError(t, repos.Register("admins", func(*repository.Base, int) *AdminRepository {
			return nil
		}))

		_, err := newMemoryManager(t, repos).Repository("Admin")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot resolve int")
	})

	t.Run("Invalid Constructors", func(t *testing.T) {
		repos := repository.NewFactory()
		assert.ErrorIs(t, repos.Register("x", "not a func"), core.ErrInvalidOption)
		assert.ErrorIs(t, repos.Register("x", func() {}), core.ErrInvalidOption)
		assert.ErrorIs(t, repos.Register("x", func() (int, int) { return 0, 0 }), core.ErrInvalidOption)

		require.NoError(t, repos.Register("x", func(b *repository.Base) *repository.Base { return b }))
		assert.ErrorIs(t, repos.Register("x", func(b *repository.Base) *repository.Base { return b }), core.ErrTypeRegistered)
	})
}
