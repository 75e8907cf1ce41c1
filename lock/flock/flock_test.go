package flock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/fcsdk/lock"
)

func TestTryLockExclusion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.lock")
	a, b := New(path), New(path)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "same instance must not re-enter")

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second fd must see the flock")

	require.NoError(t, a.Unlock(ctx))
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Unlock(ctx))
}

func TestLockHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.lock")
	holder := New(path)
	require.NoError(t, holder.Lock(context.Background()))
	defer holder.Unlock(context.Background()) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := New(path).Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, fmt.Sprintf("held by pid %d", os.Getpid()))
}

func TestHolderRecordedWhileLocked(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run", "gc.lock")
	l := New(path)
	assert.Zero(t, Holder(path))

	require.NoError(t, l.Lock(ctx))
	assert.FileExists(t, path, "lock directory is created on demand")
	assert.Equal(t, os.Getpid(), Holder(path))

	require.NoError(t, l.Unlock(ctx))
	assert.Zero(t, Holder(path))

	other := New(path)
	ok, err := other.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "rewriting the holder must not break the flock")
	require.NoError(t, other.Unlock(ctx))
}

func TestWithLock(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "registry.lock"))
	ran := false
	require.NoError(t, lock.WithLock(context.Background(), l, func() error {
		ran = true
		ok, err := l.TryLock(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
	assert.True(t, ran)
}
