// Package memory implements repository.FrameStore in process memory.
// It backs tests and the "memory" backend; nothing survives a restart.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/repository"
)

var _ repository.FrameStore = (*Store)(nil)

type object struct {
	data        []byte
	contentType string
	modTime     time.Time
}

type slotKey struct {
	user string
	slot int
}

// Store keeps every slot as a map of name to object.
type Store struct {
	mu    sync.RWMutex
	slots map[slotKey]map[string]object
	now   func() time.Time
}

func New() *Store {
	return &Store{
		slots: make(map[slotKey]map[string]object),
		now:   time.Now,
	}
}

func (s *Store) Provision(_ context.Context, _ string) error {
	return nil
}

// List returns entries sorted by name, mimicking a directory scan.
func (s *Store) List(_ context.Context, user string, slot int) ([]repository.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objs := s.slots[slotKey{user, slot}]
	entries := make([]repository.Entry, 0, len(objs))
	for name, o := range objs {
		entries = append(entries, repository.Entry{Name: name, Size: int64(len(o.data)), ModTime: o.modTime})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *Store) Put(_ context.Context, user string, slot int, name string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{user, slot}
	if s.slots[key] == nil {
		s.slots[key] = make(map[string]object)
	}
	s.slots[key][name] = object{data: data, contentType: contentType, modTime: s.now()}
	return nil
}

func (s *Store) Open(_ context.Context, user string, slot int, name string) (*repository.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.slots[slotKey{user, slot}][name]
	if !ok {
		return nil, apperror.NotFound("frame", name)
	}
	return &repository.Object{
		ReadCloser:  io.NopCloser(bytes.NewReader(o.data)),
		Size:        int64(len(o.data)),
		ModTime:     o.modTime,
		ContentType: o.contentType,
	}, nil
}

func (s *Store) Clear(_ context.Context, user string, slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.slots, slotKey{user, slot})
	return nil
}
