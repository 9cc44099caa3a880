// Package disk implements repository.FrameStore on the local filesystem.
//
// LAYOUT:
//
//	<root>/<user>/<slot>/<key>.<ext>
//
// The directory tree is the database. Uploads land in a temporary file inside
// the slot directory and are renamed into place, so a reader never sees a
// half-written frame. Temporary names start with ".upload-" and never match
// the frame pattern, so listings skip them.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/model"
	"github.com/sakif/protoface/internal/repository"
)

// Compile-time check: does *Store implement repository.FrameStore?
var _ repository.FrameStore = (*Store)(nil)

// Store is the filesystem-backed frame store.
type Store struct {
	root string
}

// New creates the data root if needed and returns a store rooted there.
func New(root string) (*Store, error) {
	// 0755 = owner can read/write/execute, others can read/execute.
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating data root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the data root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) slotDir(user string, slot int) string {
	return filepath.Join(s.root, user, strconv.Itoa(slot))
}

func (s *Store) Provision(_ context.Context, user string) error {
	for slot := 0; slot < model.SlotCount; slot++ {
		if err := os.MkdirAll(s.slotDir(user, slot), 0755); err != nil {
			return fmt.Errorf("provisioning %s slot %d: %w", user, slot, err)
		}
	}
	return nil
}

func (s *Store) List(_ context.Context, user string, slot int) ([]repository.Entry, error) {
	dirEntries, err := os.ReadDir(s.slotDir(user, slot))
	if errors.Is(err, fs.ErrNotExist) {
		return []repository.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading slot %d of %s: %w", slot, user, err)
	}

	entries := make([]repository.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		entries = append(entries, repository.Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

func (s *Store) Put(_ context.Context, user string, slot int, name string, r io.Reader, _ int64, _ string) error {
	if !singleSegment(name) {
		return apperror.BadFilename(name)
	}

	dir := s.slotDir(user, slot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating slot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storing %s: %w", name, err)
	}
	return nil
}

func (s *Store) Open(_ context.Context, user string, slot int, name string) (*repository.Object, error) {
	if !singleSegment(name) {
		return nil, apperror.NotFound("frame", name)
	}

	f, err := os.Open(filepath.Join(s.slotDir(user, slot), name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperror.NotFound("frame", name)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, apperror.NotFound("frame", name)
	}

	return &repository.Object{
		ReadCloser: f,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
	}, nil
}

// Clear removes every entry of the slot directory, one level deep. A
// non-empty subdirectory cannot be removed and fails the clear.
func (s *Store) Clear(_ context.Context, user string, slot int) error {
	dir := s.slotDir(user, slot)
	dirEntries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading slot %d of %s: %w", slot, user, err)
	}

	for _, de := range dirEntries {
		err := os.Remove(filepath.Join(dir, de.Name()))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", de.Name(), err)
		}
	}
	return nil
}

func singleSegment(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
