package metadata_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/silo/pkg/metadata"
)

type Author struct {
	ID    string `silo:"id"`
	Name  string `silo:"index"`
	Email string `silo:"unique"`
	Token string `silo:"transient"`
}

func (Author) TableName() string { return "writers" }

type Timestamps struct {
	CreatedAt int64
}

type Article struct {
	ID       int64
	Title    string
	AuthorID string
	Author   *Author
	Tags     []*Tag
	Timestamps
}

func (*Article) RepositoryName() string { return "articles" }

type Tag struct {
	Label string
}

func (Tag) IsEmbedded() bool { return true }

type Coded struct {
	Code  string
	Label string
}

func (*Coded) LoadMetadata(md *metadata.ClassMetadata) error {
	md.Storage = "codes"
	return md.SetIdentifier("code")
}

func newFactory(t *testing.T, driver metadata.Driver) *metadata.Factory {
	t.Helper()
	f := metadata.NewFactory(driver, metadata.DefaultNaming())
	require.NoError(t, f.Register(Author{}, &Article{}, reflect.TypeOf(Tag{}), Coded{}))
	return f
}

func TestFactoryIntrospection(t *testing.T) {
	f := newFactory(t, metadata.NewAttributeDriver())

	t.Run("Fields And Identifier", func(t *testing.T) {
		md, err := f.Metadata(&Article{})
		require.NoError(t, err)

		assert.Equal(t, "Article", md.Name)
		assert.Equal(t, "Article", md.Storage)
		assert.Equal(t, "id", md.Identifier)
		assert.Equal(t, []string{"id", "title", "authorId", "createdAt"}, md.FieldNames())
		assert.Equal(t, "articles", md.CustomRepository)

		key, ok := md.StorageKey("createdAt")
		require.True(t, ok)
		assert.Equal(t, "createdat", key)
	})

	t.Run("Associations", func(t *testing.T) {
		md, err := f.Metadata("Article")
		require.NoError(t, err)

		require.True(t, md.HasAssociation("author"))
		author, _ := md.Association("author")
		assert.Equal(t, "Author", author.Target)
		assert.False(t, author.Many)
		assert.Equal(t, "authorid", author.JoinKey)

		tags, _ := md.Association("tags")
		assert.True(t, tags.Many)
		assert.Equal(t, "", tags.JoinKey)

		key, ok := md.StorageKey("author")
		require.True(t, ok)
		assert.Equal(t, "authorid", key)
		assert.Equal(t, []string{"author", "tags"}, md.AssociationNames())
	})

	t.Run("Attribute Tags", func(t *testing.T) {
		md, err := f.Metadata(reflect.TypeOf(Author{}))
		require.NoError(t, err)

		assert.Equal(t, "writers", md.Storage)
		assert.True(t, md.Fields["name"].Indexed)
		assert.True(t, md.Fields["email"].Unique)
		assert.False(t, md.HasField("token"))
		assert.True(t, md.HasField("Email"), "lookup falls back to case-insensitive match")
	})

	t.Run("Embedded Class", func(t *testing.T) {
		md, err := f.Metadata("Tag")
		require.NoError(t, err)
		assert.True(t, md.Embedded)
		assert.Equal(t, "", md.Identifier)
	})

	t.Run("Memoized", func(t *testing.T) {
		a, err := f.Metadata("Author")
		require.NoError(t, err)
		b, err := f.Metadata(&Author{})
		require.NoError(t, err)
		assert.Same(t, a, b)

		f.Invalidate()
		c, err := f.Metadata("Author")
		require.NoError(t, err)
		assert.NotSame(t, a, c)
	})

	t.Run("Unknown Class", func(t *testing.T) {
		_, err := f.Metadata("Nope")
		assert.ErrorIs(t, err, metadata.ErrClassNotMapped)

		_, err = f.Metadata(struct{ A int }{})
		assert.ErrorIs(t, err, metadata.ErrClassNotMapped)
	})

	t.Run("All Metadata Sorted", func(t *testing.T) {
		all, err := f.AllMetadata()
		require.NoError(t, err)
		names := make([]string, 0, len(all))
		for _, md := range all {
			names = append(names, md.Name)
		}
		assert.Equal(t, []string{"Article", "Author", "Coded", "Tag"}, names)
	})
}

func TestRegisterConflict(t *testing.T) {
	f := metadata.NewFactory(metadata.NewAttributeDriver(), metadata.Naming{})
	require.NoError(t, f.Register(Author{}, &Author{}))

	type Author struct{ X int }
	err := f.Register(Author{})
	assert.ErrorIs(t, err, metadata.ErrInvalidMapping)

	err = f.Register(42)
	assert.ErrorIs(t, err, metadata.ErrInvalidMapping)
}

func TestInstanceHelpers(t *testing.T) {
	f := newFactory(t, metadata.NewAttributeDriver())
	md, err := f.Metadata("Article")
	require.NoError(t, err)

	obj := md.NewInstance()
	require.True(t, md.IsInstance(obj))
	assert.False(t, md.IsInstance(Article{}))
	assert.False(t, md.IsInstance(&Author{}))
	assert.False(t, md.HasIdentifierValue(obj))

	require.NoError(t, md.SetIdentifierValue(obj, 7))
	id, ok := md.IdentifierValue(obj)
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.True(t, md.HasIdentifierValue(obj))

	assert.Error(t, md.SetIdentifierValue(obj, "seven"))

	title, ok := md.FieldValue(&Article{Title: "Go"}, "title")
	require.True(t, ok)
	assert.Equal(t, "Go", title)

	_, isSlice := md.NewSlice().(*[]*Article)
	assert.True(t, isSlice)
}

func TestChain(t *testing.T) {
	t.Run("Code Driver First", func(t *testing.T) {
		f := newFactory(t, metadata.Chain{metadata.NewCodeDriver(), metadata.NewAttributeDriver()})

		md, err := f.Metadata("Coded")
		require.NoError(t, err)
		assert.Equal(t, "codes", md.Storage)
		assert.Equal(t, "code", md.Identifier)

		md, err = f.Metadata("Author")
		require.NoError(t, err)
		assert.Equal(t, "writers", md.Storage)
	})

	t.Run("No Driver Handles Class", func(t *testing.T) {
		f := newFactory(t, metadata.Chain{metadata.NewCodeDriver()})

		_, err := f.Metadata("Author")
		assert.ErrorIs(t, err, metadata.ErrClassNotMapped)
	})
}

func TestFieldName(t *testing.T) {
	assert.Equal(t, "firstName", metadata.FieldName("FirstName"))
	assert.Equal(t, "firstName", metadata.FieldName("first_name"))
	assert.Equal(t, "id", metadata.FieldName("ID"))
}

func TestFieldLookup(t *testing.T) {
	md := &metadata.ClassMetadata{
		Name: "Account",
		Fields: map[string]*metadata.FieldMapping{
			"userId": {Name: "userId", Key: "user_id"},
			"userID": {Name: "userID", Key: "legacy_user"},
			"email":  {Name: "email", Key: "email"},
		},
		Associations: map[string]*metadata.AssociationMapping{
			"owner": {Name: "owner", Target: "User"},
		},
	}

	f, ok := md.Field("userID")
	require.True(t, ok)
	assert.Equal(t, "legacy_user", f.Key)

	f, ok = md.Field("Email")
	require.True(t, ok)
	assert.Equal(t, "email", f.Key)

	for i := 0; i < 20; i++ {
		_, ok = md.Field("USERID")
		require.False(t, ok, "ambiguous names never resolve")
	}

	a, ok := md.Association("Owner")
	require.True(t, ok)
	assert.Equal(t, "User", a.Target)
	assert.False(t, md.HasAssociation("owners"))
}
