// Package service contains the business rules of the slot store.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces rules, orchestrates
//	Repository (data layer)  → reads/writes frames on disk, S3 or memory
//
// Backends are dumb containers. Everything a frame must satisfy (the
// "<digits>.<png|jpg|jpeg>" name, the declared content type, the size and
// count limits, the numeric ordering) is enforced here, once, so every
// backend behaves identically.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/model"
	"github.com/sakif/protoface/internal/repository"
)

// Default upload limits.
const (
	DefaultMaxFiles    = 100
	DefaultMaxFileSize = 20 << 20 // 20 MiB
)

// Unanchored on purpose: "image/png; charset=binary" is still a PNG.
var contentTypePattern = regexp.MustCompile(`(?i)image/(png|jpe?g)`)

// Limits bounds a single upload request.
type Limits struct {
	MaxFiles    int
	MaxFileSize int64
}

// DefaultLimits returns the stock 100 files / 20 MiB limits.
func DefaultLimits() Limits {
	return Limits{MaxFiles: DefaultMaxFiles, MaxFileSize: DefaultMaxFileSize}
}

// Upload is one file of an upload request.
type Upload struct {
	Name        string    // original client-side file name
	ContentType string    // declared content type
	Body        io.Reader // file bytes
}

// UploadIterator yields the files of a batch one at a time.
// Next returns io.EOF once the batch is exhausted.
type UploadIterator interface {
	Next() (*Upload, error)
}

// Rejection reports a file that was not stored.
type Rejection struct {
	Name  string `json:"name"`
	Error string `json:"error"`
	Cause error  `json:"-"`
}

// BatchResult summarizes an upload request.
type BatchResult struct {
	Count    int         `json:"count"`
	Rejected []Rejection `json:"rejected"`
}

// Failed reports whether nothing was stored although something was rejected.
// The HTTP layer turns such a batch into an error response.
func (b *BatchResult) Failed() bool {
	return b.Count == 0 && len(b.Rejected) > 0
}

// SlotService implements listing, clearing, uploading and retrieving frames.
type SlotService struct {
	store  repository.FrameStore
	limits Limits
	logger *slog.Logger
}

// NewSlotService creates a SlotService. Zero limits fall back to the defaults.
func NewSlotService(store repository.FrameStore, limits Limits, logger *slog.Logger) *SlotService {
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = DefaultMaxFiles
	}
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = DefaultMaxFileSize
	}
	return &SlotService{
		store:  store,
		limits: limits,
		logger: logger,
	}
}

func parseSlot(slot string) (int, error) {
	n, ok := model.ParseSlot(slot)
	if !ok {
		return 0, apperror.BadSlot(slot)
	}
	return n, nil
}

// ListFrames returns the frames of a slot in ascending numeric order.
//
// Entries that do not match the frame pattern are skipped. Frames with an
// equal numeric key keep the backend's (lexical) order. A slot that is
// missing or cannot be read yields an empty list, never an error; only a
// malformed slot is rejected.
func (s *SlotService) ListFrames(ctx context.Context, user, slot string) ([]model.Frame, error) {
	n, err := parseSlot(slot)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.List(ctx, user, n)
	if err != nil {
		s.logger.Warn("listing slot failed, returning empty list",
			slog.String("user", user),
			slog.Int("slot", n),
			slog.String("error", err.Error()),
		)
		return []model.Frame{}, nil
	}

	type keyed struct {
		key   string
		frame model.Frame
	}
	matched := make([]keyed, 0, len(entries))
	for _, e := range entries {
		fn, ok := model.ParseFrameName(e.Name)
		if !ok {
			continue
		}
		matched = append(matched, keyed{
			key: fn.Key,
			frame: model.Frame{
				Name: e.Name,
				URL:  FrameURL(user, n, e.Name),
				Type: frameType(e.Name),
			},
		})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return model.CompareKeys(matched[i].key, matched[j].key) < 0
	})

	frames := make([]model.Frame, len(matched))
	for i, m := range matched {
		frames[i] = m.frame
	}
	return frames, nil
}

// FrameURL is the public retrieval path of a stored frame.
func FrameURL(user string, slot int, name string) string {
	return "/data/" + url.PathEscape(user) + "/" + strconv.Itoa(slot) + "/" + url.PathEscape(name)
}

// frameType guesses the MIME type from the extension, falling back to image/*.
func frameType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		return t
	}
	return "image/*"
}

// ClearSlot removes every entry of the slot. Clearing an empty slot succeeds.
func (s *SlotService) ClearSlot(ctx context.Context, user, slot string) error {
	n, err := parseSlot(slot)
	if err != nil {
		return err
	}

	if err := s.store.Clear(ctx, user, n); err != nil {
		s.logger.Error("clearing slot failed",
			slog.String("user", user),
			slog.Int("slot", n),
			slog.String("error", err.Error()),
		)
		return apperror.ClearFailed(err)
	}

	s.logger.Info("slot cleared", slog.String("user", user), slog.Int("slot", n))
	return nil
}

// AcceptUpload validates and stores a single file.
//
// Checks run in order: slot, declared content type, file name, size. The
// file is stored as "<key>.<lowercase ext>", replacing any frame with the
// same name. On any failure nothing is stored.
func (s *SlotService) AcceptUpload(ctx context.Context, user, slot string, up *Upload) error {
	n, err := parseSlot(slot)
	if err != nil {
		return err
	}
	return s.accept(ctx, user, n, up)
}

func (s *SlotService) accept(ctx context.Context, user string, slot int, up *Upload) error {
	if !contentTypePattern.MatchString(up.ContentType) {
		return apperror.BadFiletype(up.Name, up.ContentType)
	}

	fn, ok := model.ParseFrameName(up.Name)
	if !ok {
		return apperror.BadFilename(up.Name)
	}

	// Read one byte past the limit to tell "exactly max" from "too large".
	var buf bytes.Buffer
	size, err := io.Copy(&buf, io.LimitReader(up.Body, s.limits.MaxFileSize+1))
	if err != nil {
		return apperror.BadRequest(fmt.Sprintf("reading %q: %v", up.Name, err))
	}
	if size > s.limits.MaxFileSize {
		return apperror.FileTooLarge(up.Name, s.limits.MaxFileSize)
	}

	name := fn.Normalized()
	if err := s.store.Put(ctx, user, slot, name, bytes.NewReader(buf.Bytes()), size, frameType(name)); err != nil {
		return fmt.Errorf("storing %s: %w", name, err)
	}

	s.logger.Debug("frame stored",
		slog.String("user", user),
		slog.Int("slot", slot),
		slog.String("name", name),
		slog.Int64("bytes", size),
	)
	return nil
}

// AcceptBatch stores every acceptable file of an upload request.
//
// A malformed slot fails the whole request. Otherwise the user's storage is
// provisioned and files are processed sequentially and independently: a
// rejected file is reported in the result and never affects files already
// stored. Files past the count limit are rejected with TOO_MANY_FILES. A
// storage failure aborts the batch; files stored before it stay stored.
// When the upload stream breaks, the partial result is returned together
// with a BAD_REQUEST error.
func (s *SlotService) AcceptBatch(ctx context.Context, user, slot string, files UploadIterator) (*BatchResult, error) {
	n, err := parseSlot(slot)
	if err != nil {
		return nil, err
	}

	if err := s.store.Provision(ctx, user); err != nil {
		return nil, fmt.Errorf("provisioning %s: %w", user, err)
	}

	result := &BatchResult{Rejected: []Rejection{}}
	for i := 0; ; i++ {
		up, err := files.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Warn("upload interrupted",
				slog.String("user", user),
				slog.Int("slot", n),
				slog.Int("stored", result.Count),
				slog.String("error", err.Error()),
			)
			return result, apperror.BadRequest(fmt.Sprintf("reading upload after %d stored files: %v", result.Count, err))
		}

		var fileErr error
		if i >= s.limits.MaxFiles {
			fileErr = apperror.TooManyFiles(up.Name, s.limits.MaxFiles)
		} else {
			fileErr = s.accept(ctx, user, n, up)
		}

		if fileErr == nil {
			result.Count++
			continue
		}
		var appErr *apperror.AppError
		if !errors.As(fileErr, &appErr) || !errors.Is(fileErr, apperror.ErrValidation) {
			return nil, fileErr
		}
		result.Rejected = append(result.Rejected, Rejection{
			Name:  up.Name,
			Error: appErr.Code,
			Cause: appErr,
		})
	}

	s.logger.Info("upload processed",
		slog.String("user", user),
		slog.Int("slot", n),
		slog.Int("stored", result.Count),
		slog.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}

// OpenFrame opens a stored frame for retrieval. The caller must close it.
func (s *SlotService) OpenFrame(ctx context.Context, user, slot, name string) (*repository.Object, error) {
	n, err := parseSlot(slot)
	if err != nil {
		return nil, err
	}
	if _, ok := model.ParseFrameName(name); !ok {
		return nil, apperror.NotFound("frame", name)
	}

	obj, err := s.store.Open(ctx, user, n, name)
	if err != nil {
		return nil, err
	}
	if obj.ContentType == "" {
		obj.ContentType = frameType(name)
	}
	return obj, nil
}
