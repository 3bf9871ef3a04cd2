package relational_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"

	"github.com/aretw0/silo/pkg/adapters/relational"
	"github.com/aretw0/silo/pkg/core"
	"github.com/aretw0/silo/pkg/metadata"
	"github.com/aretw0/silo/pkg/repository"
)

type Author struct {
	ID   string
	Name string `silo:"index"`
}

type Book struct {
	ID       int
	Title    string `silo:"unique"`
	Pages    int
	AuthorID string
	Author   *Author
}

// Shelf declares an index over a field it does not have.
type Shelf struct {
	ID    int
	Label string
}

func (Shelf) LoadMetadata(md *metadata.ClassMetadata) error {
	md.Indexes = append(md.Indexes, metadata.IndexMapping{Name: "by_room", Fields: []string{"room"}})
	return nil
}

func newBuilder(t *testing.T, driver string, opts ...relational.Option) *relational.Builder {
	t.Helper()
	opts = append([]relational.Option{relational.WithEntities(Author{}, Book{})}, opts...)
	b, err := relational.NewBuilder(map[string]any{
		"name":            "library",
		"connection":      map[string]any{"driver": driver, "memory": true},
		"metadataMapping": attributeMapping(),
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func command(t *testing.T, b *relational.Builder, name string) *cobra.Command {
	t.Helper()
	for _, c := range b.Commands() {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("command %s not found", name)
	return nil
}

func run(t *testing.T, b *relational.Builder, name string, args ...string) (string, error) {
	t.Helper()
	cmd := command(t, b, name)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return out.String(), err
}

func TestNewBuilder(t *testing.T) {
	t.Run("Lazy Manager", func(t *testing.T) {
		b := newBuilder(t, relational.DriverMattn)
		assert.Equal(t, "library", b.Name())
		assert.Equal(t, relational.Kind, b.Kind())

		state := b.State().(relational.BuilderState)
		assert.False(t, state.Built)
		assert.ElementsMatch(t, []string{"Author", "Book"}, state.Classes)

		em, err := b.EntityManager(context.Background())
		require.NoError(t, err)
		again, err := b.Manager(context.Background())
		require.NoError(t, err)
		assert.Same(t, em, again)
		assert.True(t, b.State().(relational.BuilderState).Built)
		assert.Equal(t, "relational-builder", b.ComponentType())
	})

	t.Run("Serializer Already Registered", func(t *testing.T) {
		_, err := relational.NewBuilder(map[string]any{
			"connection":      map[string]any{"memory": true},
			"metadataMapping": attributeMapping(),
		}, relational.WithSerializer("json", schema.JSONSerializer{}))
		assert.ErrorIs(t, err, core.ErrTypeRegistered)
		assert.Contains(t, err.Error(), `custom type "json"`)
	})

	t.Run("Serializer Registered Only After Validation", func(t *testing.T) {
		_, err := relational.NewBuilder(map[string]any{
			"connection":      map[string]any{"memory": true},
			"metadataMapping": attributeMapping(),
		}, relational.WithSerializer("library-json", schema.JSONSerializer{}), relational.WithEntities(42))
		require.ErrorIs(t, err, core.ErrInvalidOption)
		_, exists := schema.GetSerializer("library-json")
		assert.False(t, exists)

		_, err = relational.NewBuilder(map[string]any{
			"connection":      map[string]any{"memory": true},
			"metadataMapping": attributeMapping(),
		}, relational.WithSerializer("library-json", schema.JSONSerializer{}))
		require.NoError(t, err)
		_, exists = schema.GetSerializer("library-json")
		assert.True(t, exists)
	})

	t.Run("Invalid Mapping", func(t *testing.T) {
		_, err := relational.NewBuilder(map[string]any{
			"connection":      map[string]any{"memory": true},
			"metadataMapping": []any{map[string]any{"type": "yaml"}},
		})
		assert.ErrorIs(t, err, core.ErrInvalidOption)
	})
}

func TestEntityManager(t *testing.T) {
	for _, driver := range []string{relational.DriverMattn, relational.DriverModernc} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			events := core.NewEventManager()
			var seen []core.EventName
			for _, name := range []core.EventName{core.PrePersist, core.PreRemove, core.PreFlush, core.PostFlush, core.PostLoad} {
				events.On(name, func(_ context.Context, e core.Event) error {
					seen = append(seen, e.Name)
					return nil
				})
			}

			b := newBuilder(t, driver, relational.WithEventManager(events))
			_, err := run(t, b, "orm-library:schema-tool:create")
			require.NoError(t, err)

			em, err := b.EntityManager(ctx)
			require.NoError(t, err)

			author := &Author{Name: "Ursula"}
			require.NoError(t, em.Persist(author))
			require.NoError(t, em.Flush(ctx))
			require.NotEmpty(t, author.ID, "string identifiers get a uuid")
			assert.Equal(t, []core.EventName{core.PreFlush, core.PrePersist, core.PostFlush}, seen)

			books := []*Book{
				{Title: "The Dispossessed", Pages: 387, AuthorID: author.ID},
				{Title: "The Lathe of Heaven", Pages: 184, AuthorID: author.ID},
				{Title: "Dune", Pages: 412},
			}
			for _, book := range books {
				require.NoError(t, em.Persist(book))
			}
			require.NoError(t, em.Flush(ctx))
			assert.NotZero(t, books[0].ID)

			bookMD, err := em.Metadata("Book")
			require.NoError(t, err)

			t.Run("Identity Map", func(t *testing.T) {
				found, err := em.Find(ctx, bookMD, books[0].ID)
				require.NoError(t, err)
				assert.Same(t, books[0], found)

				em.Clear()
				found, err = em.Find(ctx, bookMD, books[0].ID)
				require.NoError(t, err)
				assert.NotSame(t, books[0], found)
				assert.Equal(t, "The Dispossessed", found.(*Book).Title)

				again, err := em.Find(ctx, bookMD, books[0].ID)
				require.NoError(t, err)
				assert.Same(t, found, again)
			})

			t.Run("Criteria", func(t *testing.T) {
				found, err := em.FindBy(ctx, bookMD, core.Criteria{"author": author}, core.Order{core.Desc("pages")}, 0, 0)
				require.NoError(t, err)
				require.Len(t, found, 2)
				assert.Equal(t, "The Dispossessed", found[0].(*Book).Title)

				found, err = em.FindBy(ctx, bookMD, core.Criteria{"title": []string{"Dune", "Nope"}}, nil, 0, 0)
				require.NoError(t, err)
				require.Len(t, found, 1)

				n, err := em.Count(ctx, bookMD, core.Criteria{"authorId": author.ID})
				require.NoError(t, err)
				assert.Equal(t, int64(2), n)

				_, err = em.FindBy(ctx, bookMD, core.Criteria{"isbn": "x"}, nil, 0, 0)
				assert.ErrorIs(t, err, core.ErrBadMethodCall)
			})

			t.Run("Repository", func(t *testing.T) {
				repo, err := repository.Of[Book](em)
				require.NoError(t, err)

				short, err := repo.FindBy(ctx, core.Criteria{"pages": 184}, nil, 0, 0)
				require.NoError(t, err)
				require.Len(t, short, 1)
				assert.Equal(t, "The Lathe of Heaven", short[0].Title)

				require.NoError(t, repo.RemoveBy(ctx, core.Criteria{"title": "Dune"}, 0, true))

				n, err := repo.CountAll(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(2), n)
			})

			t.Run("Refresh", func(t *testing.T) {
				book, err := em.FindOneBy(ctx, bookMD, core.Criteria{"pages": 387}, nil)
				require.NoError(t, err)
				book.(*Book).Title = "changed in memory"
				require.NoError(t, em.Refresh(ctx, book))
				assert.Equal(t, "The Dispossessed", book.(*Book).Title)

				missing := &Book{ID: 9999}
				assert.ErrorIs(t, em.Refresh(ctx, missing), core.ErrNotFound)
			})

			t.Run("Listener Error Aborts Flush", func(t *testing.T) {
				events.On(core.PreRemove, func(context.Context, core.Event) error {
					return errors.New("books are forever")
				})
				book, err := em.FindOneBy(ctx, bookMD, core.Criteria{"pages": 387}, nil)
				require.NoError(t, err)
				require.NoError(t, em.Remove(book))
				err = em.Flush(ctx)
				require.Error(t, err)
				assert.Contains(t, err.Error(), "books are forever")
				em.Detach(book)
			})

			t.Run("Unsupported Objects", func(t *testing.T) {
				assert.ErrorIs(t, em.Persist(Book{}), core.ErrUnsupportedObject)
				assert.ErrorIs(t, em.Persist(&struct{ ID int }{}), core.ErrUnsupportedObject)
			})
		})
	}
}

func TestCommands(t *testing.T) {
	t.Run("Names", func(t *testing.T) {
		b, err := relational.NewBuilder(map[string]any{
			"connection":      map[string]any{"memory": true},
			"metadataMapping": attributeMapping(),
		})
		require.NoError(t, err)

		var names []string
		for _, c := range b.Commands() {
			names = append(names, c.Name())
		}
		assert.Equal(t, []string{
			"dbal:run-sql",
			"orm:schema-tool:create",
			"orm:schema-tool:update",
			"orm:schema-tool:drop",
			"orm:validate-schema",
			"orm:info",
			"orm:mapping:describe",
			"orm:clear-cache:metadata",
		}, names)

		named := newBuilder(t, relational.DriverMattn)
		for _, c := range named.Commands() {
			assert.True(t,
				strings.HasPrefix(c.Name(), "dbal-library:") || strings.HasPrefix(c.Name(), "orm-library:"),
				c.Name())
		}
	})

	t.Run("Schema Lifecycle", func(t *testing.T) {
		b := newBuilder(t, relational.DriverModernc)

		_, err := run(t, b, "orm-library:validate-schema")
		require.Error(t, err)

		out, err := run(t, b, "orm-library:schema-tool:update")
		require.NoError(t, err)
		assert.Contains(t, out, "books: table would be created")

		_, err = run(t, b, "orm-library:schema-tool:update", "--force")
		require.NoError(t, err)

		out, err = run(t, b, "orm-library:validate-schema")
		require.NoError(t, err)
		assert.Contains(t, out, "[Database] OK")

		out, err = run(t, b, "dbal-library:run-sql", "INSERT INTO authors (id, name) VALUES ('a1', 'Ursula')")
		require.NoError(t, err)
		assert.Contains(t, out, "1 rows affected")

		out, err = run(t, b, "dbal-library:run-sql", "SELECT id, name FROM authors")
		require.NoError(t, err)
		assert.Contains(t, out, "Ursula")

		out, err = run(t, b, "orm-library:schema-tool:drop")
		require.NoError(t, err)
		assert.Contains(t, out, "use --force")

		_, err = run(t, b, "orm-library:schema-tool:drop", "--force")
		require.NoError(t, err)
		_, err = run(t, b, "dbal-library:run-sql", "SELECT * FROM authors")
		assert.Error(t, err)
	})

	t.Run("Index Over Unknown Field", func(t *testing.T) {
		b, err := relational.NewBuilder(map[string]any{
			"connection":      map[string]any{"memory": true},
			"metadataMapping": []any{map[string]any{"type": "code"}},
		}, relational.WithEntities(Shelf{}))
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close(context.Background()) })

		_, err = run(t, b, "orm:schema-tool:create")
		assert.ErrorIs(t, err, core.ErrInvalidOption)
		assert.Contains(t, err.Error(), `field "room"`)
	})

	t.Run("Update Adds Missing Columns", func(t *testing.T) {
		b := newBuilder(t, relational.DriverMattn)

		_, err := run(t, b, "dbal-library:run-sql", "CREATE TABLE authors (id text PRIMARY KEY)")
		require.NoError(t, err)

		out, err := run(t, b, "orm-library:schema-tool:update")
		require.NoError(t, err)
		assert.Contains(t, out, "authors: columns would be added: name")
		assert.Contains(t, out, "books: table would be created")

		out, err = run(t, b, "orm-library:schema-tool:update", "--force")
		require.NoError(t, err)
		assert.Contains(t, out, "updated table authors")
		assert.Contains(t, out, "created table books")

		out, err = run(t, b, "orm-library:schema-tool:update")
		require.NoError(t, err)
		assert.Contains(t, out, "authors: in sync")
		assert.Contains(t, out, "books: in sync")

		em, err := b.EntityManager(context.Background())
		require.NoError(t, err)
		author := &Author{Name: "Octavia"}
		require.NoError(t, em.Persist(author))
		require.NoError(t, em.Flush(context.Background()))
		require.NoError(t, em.Persist(&Book{Title: "Kindred", Pages: 264, AuthorID: author.ID}))
		require.NoError(t, em.Flush(context.Background()))

		out, err = run(t, b, "dbal-library:run-sql", "SELECT name FROM authors")
		require.NoError(t, err)
		assert.Contains(t, out, "Octavia")
	})

	t.Run("Mapping Commands", func(t *testing.T) {
		b := newBuilder(t, relational.DriverMattn)

		out, err := run(t, b, "orm-library:info")
		require.NoError(t, err)
		assert.Contains(t, out, "Found 2 mapped entities")
		assert.Contains(t, out, "Book")

		out, err = run(t, b, "orm-library:mapping:describe", "Book")
		require.NoError(t, err)
		assert.Contains(t, out, "books")
		assert.Contains(t, out, "author_id")

		_, err = run(t, b, "orm-library:mapping:describe", "Magazine")
		assert.Error(t, err)

		em, err := b.EntityManager(context.Background())
		require.NoError(t, err)
		before, err := em.Repository("Book")
		require.NoError(t, err)

		require.Equal(t, 2, b.MetadataFactory().Loaded())
		_, err = run(t, b, "orm-library:clear-cache:metadata")
		require.NoError(t, err)
		assert.Zero(t, b.MetadataFactory().Loaded())

		after, err := em.Repository("Book")
		require.NoError(t, err)
		assert.NotSame(t, before, after, "repositories are rebuilt with the reloaded mapping")
		md, err := em.Metadata("Book")
		require.NoError(t, err)
		assert.Same(t, md, after.(*repository.Base).Metadata())
	})
}
