// Package storage abstracts locked read/modify/write access to a document.
package storage

import "context"

// Initer is implemented by documents that need zero-value fields (nil maps)
// filled in after loading.
type Initer interface {
	Init()
}

// Store gives locked access to a document of type T.
type Store[T any] interface {
	// With loads the document under lock and passes it to fn. Changes are
	// not persisted.
	With(ctx context.Context, fn func(*T) error) error
	// Update is With plus an atomic write-back when fn returns nil.
	Update(ctx context.Context, fn func(*T) error) error

	// Read and Write are With and Update for callers that already hold the
	// lock through TryLock.
	Read(fn func(*T) error) error
	Write(fn func(*T) error) error
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}
