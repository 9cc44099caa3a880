package handler

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/sakif/protoface/internal/auth"
	"github.com/sakif/protoface/internal/service"
)

// AuthHandler serves login, logout and whoami.
type AuthHandler struct {
	accounts     *service.AccountService
	cookieMaxAge time.Duration
	logger       *slog.Logger
}

func NewAuthHandler(accounts *service.AccountService, cookieMaxAge time.Duration, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts:     accounts,
		cookieMaxAge: cookieMaxAge,
		logger:       logger,
	}
}

type loginRequest struct {
	Username string `json:"username"`
}

// LoginResponse is returned by POST /api/login.
type LoginResponse struct {
	OK       bool   `json:"ok"`
	Username string `json:"username"`
}

// WhoAmIResponse is returned by GET /api/whoami. Username is null when the
// caller is anonymous.
type WhoAmIResponse struct {
	Username *string `json:"username"`
}

// HandleLogin handles POST /api/login.
//
// The body may be JSON ({"username": "..."}) or a classic form post. An
// unreadable body counts as an empty username, which fails BAD_USERNAME.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	raw := readUsername(w, r)

	user, err := h.accounts.Login(r.Context(), raw)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	auth.SetUserCookie(w, user, h.cookieMaxAge)
	writeJSON(w, http.StatusOK, LoginResponse{OK: true, Username: user})
}

func readUsername(w http.ResponseWriter, r *http.Request) string {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return r.FormValue("username")
	default:
		var req loginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			return ""
		}
		return req.Username
	}
}

// HandleLogout handles POST /api/logout.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearUserCookie(w)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// HandleWhoAmI handles GET /api/whoami. It must run behind auth.OptionalUser.
func (h *AuthHandler) HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	resp := WhoAmIResponse{}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		resp.Username = &user
	}
	writeJSON(w, http.StatusOK, resp)
}
