package metadata_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/silo/pkg/metadata"
)

func TestWatcherInvalidatesFactory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	file := filepath.Join(dir, "author.yaml")
	writeFile(t, file, "Author:\n  storage: before\n")

	f := newFactory(t, metadata.NewYAMLDriver(dir))
	md, err := f.Metadata("Author")
	require.NoError(t, err)
	require.Equal(t, "before", md.Storage)

	var changes atomic.Int32
	w := metadata.NewWatcher(f, []string{dir}, metadata.WithOnChange(func(string) {
		changes.Add(1)
	}))
	require.NoError(t, w.Start(ctx))
	require.Eventually(t, w.Active, time.Second, 10*time.Millisecond)

	writeFile(t, filepath.Join(dir, "notes.txt"), "not a mapping")
	writeFile(t, file, "Author:\n  storage: after\n")

	require.Eventually(t, func() bool {
		return changes.Load() > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		md, err := f.Metadata("Author")
		return err == nil && md.Storage == "after"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return !w.Active() }, time.Second, 10*time.Millisecond)
}

func TestWatcherMissingPath(t *testing.T) {
	f := newFactory(t, metadata.NewAttributeDriver())
	w := metadata.NewWatcher(f, []string{filepath.Join(t.TempDir(), "missing")})

	assert.Error(t, w.Start(context.Background()))
	assert.False(t, w.Active())
}
