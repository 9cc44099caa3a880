package handler

import (
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/auth"
	"github.com/sakif/protoface/internal/model"
	"github.com/sakif/protoface/internal/service"
)

// UploadField is the multipart field carrying the files.
const UploadField = "files"

// ExpressionsHandler serves the per-slot API: list, clear and upload.
// Every route must run behind auth.RequireUser.
type ExpressionsHandler struct {
	slots  *service.SlotService
	logger *slog.Logger
}

func NewExpressionsHandler(slots *service.SlotService, logger *slog.Logger) *ExpressionsHandler {
	return &ExpressionsHandler{slots: slots, logger: logger}
}

// ListResponse is returned by GET /api/expressions/{slot}.
type ListResponse struct {
	OK    bool          `json:"ok"`
	Files []model.Frame `json:"files"`
}

// UploadResponse is returned by POST /api/upload/{slot}.
type UploadResponse struct {
	OK       bool                `json:"ok"`
	Count    int                 `json:"count"`
	Rejected []service.Rejection `json:"rejected"`
}

func (h *ExpressionsHandler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.NoCookie())
	}
	return user, ok
}

// HandleList handles GET /api/expressions/{slot}.
func (h *ExpressionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	frames, err := h.slots.ListFrames(r.Context(), user, chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{OK: true, Files: frames})
}

// HandleClear handles DELETE /api/expressions/{slot}.
func (h *ExpressionsHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	if err := h.slots.ClearSlot(r.Context(), user, chi.URLParam(r, "slot")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// HandleUpload handles POST /api/upload/{slot}.
//
// The multipart body is streamed part by part; files are never buffered as a
// whole request. If at least one file was stored the response is 200 with the
// per-file rejections; if nothing was stored and something was rejected the
// first rejection becomes the error response.
func (h *ExpressionsHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	files := &multipartFiles{}
	files.mr, files.err = r.MultipartReader()

	res, err := h.slots.AcceptBatch(r.Context(), user, chi.URLParam(r, "slot"), files)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if res.Failed() {
		writeError(w, h.logger, res.Rejected[0].Cause)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{OK: true, Count: res.Count, Rejected: res.Rejected})
}

// multipartFiles adapts a multipart stream to service.UploadIterator,
// skipping every part that is not a file in the upload field.
type multipartFiles struct {
	mr  *multipart.Reader
	err error
}

func (m *multipartFiles) Next() (*service.Upload, error) {
	if m.err != nil {
		return nil, m.err
	}
	for {
		part, err := m.mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() != UploadField || part.FileName() == "" {
			continue
		}
		return &service.Upload{
			Name:        part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Body:        part,
		}, nil
	}
}
