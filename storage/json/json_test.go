package json

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counters struct {
	Hits map[string]int `json:"hits"`
}

func (c *counters) Init() {
	if c.Hits == nil {
		c.Hits = map[string]int{}
	}
}

func TestStoreUpdateAndRead(t *testing.T) {
	dir := t.TempDir()
	s := New[counters](filepath.Join(dir, "c.lock"), filepath.Join(dir, "c.json"))
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, func(c *counters) error {
				c.Hits["vm"]++
				return nil
			}))
		}()
	}
	wg.Wait()

	require.NoError(t, s.With(ctx, func(c *counters) error {
		assert.Equal(t, 8, c.Hits["vm"])
		return nil
	}))
}

func TestStoreUpdateErrorSkipsWrite(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "c.json")
	s := New[counters](filepath.Join(dir, "c.lock"), file)

	boom := errors.New("boom")
	err := s.Update(context.Background(), func(c *counters) error {
		c.Hits["x"] = 1
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, statErr := os.Stat(file)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "c.json")
	require.NoError(t, os.WriteFile(file, []byte("{"), 0o600))
	s := New[counters](filepath.Join(dir, "c.lock"), file)
	err := s.With(context.Background(), func(*counters) error { return nil })
	assert.Error(t, err)
}

func TestTryLockThenWrite(t *testing.T) {
	dir := t.TempDir()
	s := New[counters](filepath.Join(dir, "c.lock"), filepath.Join(dir, "c.json"))
	ctx := context.Background()

	ok, err := s.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	again, err := s.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, s.Write(func(c *counters) error {
		c.Hits["gc"] = 1
		return nil
	}))
	require.NoError(t, s.Unlock(ctx))

	require.NoError(t, s.With(ctx, func(c *counters) error {
		assert.Equal(t, 1, c.Hits["gc"])
		return nil
	}))
}
