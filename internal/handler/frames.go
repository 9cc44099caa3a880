package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/auth"
	"github.com/sakif/protoface/internal/service"
)

// FramesHandler serves stored frame bytes at /data/{user}/{slot}/{name}.
//
// Frames are public by URL, like the static file tree they replace: the
// display pages load them as plain <img> sources.
type FramesHandler struct {
	slots  *service.SlotService
	logger *slog.Logger
}

func NewFramesHandler(slots *service.SlotService, logger *slog.Logger) *FramesHandler {
	return &FramesHandler{slots: slots, logger: logger}
}

// HandleGet handles GET /data/{user}/{slot}/{name}.
func (h *FramesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	slot := chi.URLParam(r, "slot")
	name := chi.URLParam(r, "name")

	// Only identifiers that survive sanitizing unchanged can own storage.
	if user == "" || auth.Sanitize(user) != user {
		writeError(w, h.logger, apperror.NotFound("user", user))
		return
	}

	obj, err := h.slots.OpenFrame(r.Context(), user, slot, name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if !obj.ModTime.IsZero() {
		w.Header().Set("Last-Modified", obj.ModTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, obj); err != nil {
		h.logger.Warn("frame transfer interrupted",
			slog.String("user", user),
			slog.String("slot", slot),
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}
