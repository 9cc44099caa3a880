// Package handler contains the HTTP handlers of the face server.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming HTTP request (URL params, cookies, body)
//  2. Call the service layer
//  3. Write the HTTP response (status code, headers, body)
//
// Handlers hold no business rules; they are the glue between HTTP and the
// service package.
package handler

import (
	"log/slog"
	"net/http"
	"path/filepath"
)

// PublicCacheControl is sent with every static asset: one week.
const PublicCacheControl = "public, max-age=604800"

// PagesHandler serves the static page tree: the landing page, the two face
// displays and the control panel, plus everything under /public.
type PagesHandler struct {
	publicDir string
	assets    http.Handler
	logger    *slog.Logger
}

// NewPagesHandler serves files from publicDir.
func NewPagesHandler(publicDir string, logger *slog.Logger) *PagesHandler {
	// http.StripPrefix removes "/public/" before looking up the file,
	// so GET /public/js/face.js → {publicDir}/js/face.js
	fileServer := http.FileServer(http.Dir(publicDir))
	return &PagesHandler{
		publicDir: publicDir,
		assets:    http.StripPrefix("/public/", fileServer),
		logger:    logger,
	}
}

// HandleAssets handles GET /public/*.
func (h *PagesHandler) HandleAssets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", PublicCacheControl)
	h.assets.ServeHTTP(w, r)
}

// HandleIndex redirects / to the landing page.
func (h *PagesHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/public/index.html", http.StatusFound)
}

// Page returns a handler serving a single file from the public tree.
func (h *PagesHandler) Page(file string) http.HandlerFunc {
	path := filepath.Join(h.publicDir, file)
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, path)
	}
}
