// Package json stores a document as a JSON file guarded by a flock.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/projecteru2/fcsdk/lock"
	"github.com/projecteru2/fcsdk/lock/flock"
	"github.com/projecteru2/fcsdk/storage"
	"github.com/projecteru2/fcsdk/utils"
)

var _ storage.Store[struct{}] = (*Store[struct{}])(nil)

// Store keeps T in filePath and serializes access through lockPath.
// A missing file reads as the zero value of T.
type Store[T any] struct {
	locker   lock.Locker
	filePath string
}

func New[T any](lockPath, filePath string) *Store[T] {
	return &Store[T]{locker: flock.New(lockPath), filePath: filePath}
}

func (s *Store[T]) With(ctx context.Context, fn func(*T) error) error {
	return lock.WithLock(ctx, s.locker, func() error { return s.Read(fn) })
}

func (s *Store[T]) Update(ctx context.Context, fn func(*T) error) error {
	return lock.WithLock(ctx, s.locker, func() error { return s.Write(fn) })
}

func (s *Store[T]) Read(fn func(*T) error) error {
	data, err := s.load()
	if err != nil {
		return err
	}
	return fn(data)
}

func (s *Store[T]) Write(fn func(*T) error) error {
	return s.Read(func(data *T) error {
		if err := fn(data); err != nil {
			return err
		}
		return utils.AtomicWriteJSON(s.filePath, data)
	})
}

func (s *Store[T]) TryLock(ctx context.Context) (bool, error) { return s.locker.TryLock(ctx) }
func (s *Store[T]) Unlock(ctx context.Context) error          { return s.locker.Unlock(ctx) }

func (s *Store[T]) load() (*T, error) {
	data := new(T)
	raw, err := os.ReadFile(s.filePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", s.filePath, err)
	default:
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", s.filePath, err)
		}
	}
	if initer, ok := any(data).(storage.Initer); ok {
		initer.Init()
	}
	return data, nil
}
