package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/silo/pkg/core"
)

func TestFinders(t *testing.T) {
	ctx := context.Background()
	_, repo, users := usersFixture(t)

	assert.Equal(t, "User", repo.ClassName())
	assert.Equal(t, "User", repo.Metadata().Name)

	t.Run("Find", func(t *testing.T) {
		obj, err := repo.Find(ctx, 3)
		require.NoError(t, err)
		assert.Same(t, users[2], obj)

		obj, err = repo.Find(ctx, 99)
		require.NoError(t, err)
		assert.Nil(t, obj)
	})

	t.Run("FindBy With Order Limit And Offset", func(t *testing.T) {
		found, err := repo.FindBy(ctx, core.Criteria{"age": []int{25, 30}}, core.OrderBy(core.Desc("name")), 2, 1)
		require.NoError(t, err)
		assert.Equal(t, []any{users[1], users[0]}, found)
	})

	t.Run("Counts", func(t *testing.T) {
		n, err := repo.Count(ctx, core.Criteria{"name": "bob"})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		n, err = repo.CountAll(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 4, n)
	})

	t.Run("OrFail", func(t *testing.T) {
		_, err := repo.FindByOrFail(ctx, core.Criteria{"name": "dave"}, nil, 0, 0)
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = repo.FindOneByOrFail(ctx, core.Criteria{"name": "dave"}, nil)
		assert.ErrorIs(t, err, core.ErrNotFound)

		obj, err := repo.FindOneByOrFail(ctx, core.Criteria{"name": "bob"}, core.OrderBy(core.Desc("age")))
		require.NoError(t, err)
		assert.Same(t, users[3], obj)
	})

	t.Run("OrGetNew", func(t *testing.T) {
		obj, err := repo.FindOneByOrGetNew(ctx, core.Criteria{"name": "dave"}, nil)
		require.NoError(t, err)
		require.IsType(t, &User{}, obj)
		assert.Zero(t, *obj.(*User))

		attached, err := repo.IsAttached(obj)
		require.NoError(t, err)
		assert.False(t, attached)
	})
}

func TestObjectClassIsChecked(t *testing.T) {
	ctx := context.Background()
	_, repo, _ := usersFixture(t)

	err := repo.Persist(ctx, false, &Team{})
	require.ErrorIs(t, err, core.ErrUnsupportedObject)
	assert.Contains(t, err.Error(), `managed objects must be instances of "User", "*repository_test.Team" given`)

	assert.ErrorIs(t, repo.Persist(ctx, false, []any{&User{}, User{}}), core.ErrUnsupportedObject)
	assert.ErrorIs(t, repo.Remove(ctx, false, &Team{}), core.ErrUnsupportedObject)
	assert.ErrorIs(t, repo.Refresh(ctx, &Team{}), core.ErrUnsupportedObject)
	assert.ErrorIs(t, repo.Merge(ctx, &Team{}), core.ErrUnsupportedObject)
	assert.ErrorIs(t, repo.Detach(&Team{}), core.ErrUnsupportedObject)
	assert.ErrorIs(t, repo.Remove(ctx, false, 3.5), core.ErrUnsupportedObject)

	_, err = repo.IsAttached(&Team{})
	assert.ErrorIs(t, err, core.ErrUnsupportedObject)
}

func TestPersistAndRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("Persist Flattens Slices", func(t *testing.T) {
		m, repo, _ := usersFixture(t)
		a, b, c := &User{ID: 10}, &User{ID: 11}, &User{ID: 12}

		require.NoError(t, repo.Persist(ctx, false, a, []*User{b, c}))
		assert.Zero(t, m.flushes)
		assert.True(t, m.Contains(b))

		require.NoError(t, repo.Persist(ctx, true))
		n, err := repo.CountAll(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 7, n)
	})

	t.Run("Remove By Object Identifier And Criteria", func(t *testing.T) {
		m, repo, users := usersFixture(t)

		require.NoError(t, repo.Remove(ctx, true, users[0], 2, core.Criteria{"email": "carol@example.com"}))
		assert.Equal(t, 1, m.flushes)
		assert.False(t, m.Contains(users[1]))

		n, err := repo.CountAll(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("Remove Missing Targets Is A No-op", func(t *testing.T) {
		m, repo, _ := usersFixture(t)

		require.NoError(t, repo.Remove(ctx, true, 99, map[string]any{"name": "dave"}))
		assert.Zero(t, m.flushes)
	})

	t.Run("Bulk Removal", func(t *testing.T) {
		m, repo, users := usersFixture(t)

		require.NoError(t, repo.RemoveBy(ctx, core.Criteria{"name": "nobody"}, 0, true))
		assert.Zero(t, m.flushes, "nothing matched, nothing flushed")

		require.NoError(t, repo.RemoveBy(ctx, core.Criteria{"age": 30}, 1, true))
		n, _ := repo.CountAll(ctx)
		assert.EqualValues(t, 3, n)

		require.NoError(t, repo.RemoveOneBy(ctx, core.Criteria{"name": "bob"}, core.OrderBy(core.Desc("age")), true))
		assert.False(t, m.Contains(users[3]))

		require.NoError(t, repo.RemoveAll(ctx, false))
		n, _ = repo.CountAll(ctx)
		assert.EqualValues(t, 2, n, "removal is pending until flushed")

		require.NoError(t, repo.Flush(ctx))
		n, _ = repo.CountAll(ctx)
		assert.Zero(t, n)

		require.NoError(t, repo.RemoveAll(ctx, true))
	})
}

func TestRefreshMergeDetach(t *testing.T) {
	ctx := context.Background()
	m, repo, users := usersFixture(t)

	require.NoError(t, repo.Refresh(ctx, users[0], users[1]))

	require.NoError(t, repo.Detach(users[0]))
	attached, err := repo.IsAttached(users[0])
	require.NoError(t, err)
	assert.False(t, attached)
	assert.ErrorIs(t, repo.Refresh(ctx, users[0]), core.ErrNotFound)

	require.NoError(t, repo.Merge(ctx, users[0]))
	assert.True(t, m.Contains(users[0]))
	assert.Same(t, m, repo.Manager())
}
