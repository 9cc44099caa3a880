// Package repository defines the storage contract for frames.
//
// The store is a dumb container: it knows users, slots and opaque names.
// The filename contract, numeric ordering and upload limits are enforced one
// layer up in the service package, so every backend behaves the same.
//
// There is deliberately no manifest or index. The backend's own listing is the
// single source of truth, and a listing is always a fresh scan.
package repository

import (
	"context"
	"io"
	"time"
)

// Entry is one item found in a slot container.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Object is an opened frame. The caller must Close it.
type Object struct {
	io.ReadCloser
	Size        int64
	ModTime     time.Time
	ContentType string // empty when the backend does not know it
}

// FrameStore is implemented by every storage backend (disk, memory, s3).
//
// user is always a sanitized identifier and slot is always 0..9; backends may
// rely on that. name is checked by backends only to keep it a single path
// segment.
type FrameStore interface {
	// Provision idempotently creates the user root and all slot containers.
	// Backends without a directory concept treat it as a no-op.
	Provision(ctx context.Context, user string) error

	// List returns the entries of a slot in backend order.
	// A slot that does not exist yet yields an empty list and no error.
	List(ctx context.Context, user string, slot int) ([]Entry, error)

	// Put stores r under name, replacing any existing entry with that name.
	// size is -1 when unknown.
	Put(ctx context.Context, user string, slot int, name string, r io.Reader, size int64, contentType string) error

	// Open returns the named entry or an apperror.NotFound error.
	Open(ctx context.Context, user string, slot int, name string) (*Object, error)

	// Clear removes every entry of the slot. Clearing an empty or missing slot
	// succeeds.
	Clear(ctx context.Context, user string, slot int) error
}
