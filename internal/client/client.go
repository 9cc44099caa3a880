// Package client talks to a protoface server over its HTTP API.
//
// A Client keeps the identity cookie in a cookie jar, so after Login every
// call (including the WebSocket sync dial) runs as that user. Failures the
// server reports come back as *APIError carrying the HTTP status and the
// stable error code.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/protoface/internal/auth"
	"github.com/sakif/protoface/internal/model"
	"github.com/sakif/protoface/internal/playback"
)

// uploadField is the multipart field the server reads files from.
const uploadField = "files"

// Compile-time check: the engine can play straight from the server.
var _ playback.FrameSource = (*Client)(nil)

// APIError is a failure reported by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.Status)
}

// HasCode reports whether err is an *APIError with the given code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Rejection is a file the server refused to store.
type Rejection struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// UploadResult is the outcome of a successful upload request.
type UploadResult struct {
	Count    int         `json:"count"`
	Rejected []Rejection `json:"rejected"`
}

// Client is an HTTP API client bound to one server.
type Client struct {
	base   *url.URL
	http   *http.Client
	jar    http.CookieJar
	logger *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Jar is replaced by
// the Client's own jar.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.http = &cp
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client for the server at baseURL (e.g. "http://localhost:1146").
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: 5 * time.Minute},
		jar:    jar,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Jar = jar
	return c, nil
}

// SetUser puts an identity cookie in the jar without calling the server.
// It lets a CLI resume a previous session by name.
func (c *Client) SetUser(user string) {
	c.jar.SetCookies(c.base, []*http.Cookie{{
		Name:  auth.CookieName,
		Value: auth.Sanitize(user),
		Path:  "/",
	}})
}

// User returns the identity currently held in the jar.
func (c *Client) User() (string, bool) {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == auth.CookieName && ck.Value != "" {
			return ck.Value, true
		}
	}
	return "", false
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = c.base.Path + path
	return u.String()
}

// do sends req and decodes a 2xx JSON body into out (when non-nil).
// Any other status becomes an *APIError.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api call",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	}
	if apiErr.Code == "" {
		apiErr.Code = strings.ToUpper(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
	}
	return apiErr
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// =========================================================================
// SESSION
// =========================================================================

// Login claims username and stores the returned cookie. It returns the
// sanitized name the server settled on.
func (c *Client) Login(ctx context.Context, username string) (string, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/login", map[string]string{"username": username})
	if err != nil {
		return "", err
	}
	var out struct {
		Username string `json:"username"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Username, nil
}

// Logout clears the identity cookie.
func (c *Client) Logout(ctx context.Context) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/logout", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// WhoAmI asks the server which identity the jar carries.
func (c *Client) WhoAmI(ctx context.Context) (string, bool, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/api/whoami", nil)
	if err != nil {
		return "", false, err
	}
	var out struct {
		Username *string `json:"username"`
	}
	if err := c.do(req, &out); err != nil {
		return "", false, err
	}
	if out.Username == nil {
		return "", false, nil
	}
	return *out.Username, true, nil
}

// =========================================================================
// SLOTS
// =========================================================================

func slotPath(prefix string, slot int) string {
	return prefix + strconv.Itoa(slot)
}

// ListFrames returns a slot's frames in playback order.
func (c *Client) ListFrames(ctx context.Context, slot int) ([]model.Frame, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, slotPath("/api/expressions/", slot), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Files []model.Frame `json:"files"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.Files == nil {
		out.Files = []model.Frame{}
	}
	return out.Files, nil
}

// ClearSlot deletes every file in a slot.
func (c *Client) ClearSlot(ctx context.Context, slot int) error {
	req, err := c.newJSONRequest(ctx, http.MethodDelete, slotPath("/api/expressions/", slot), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// FrameURL turns a listing URL into an absolute URL on this server.
func (c *Client) FrameURL(f model.Frame) string {
	ref, err := url.Parse(f.URL)
	if err != nil {
		return c.endpoint(f.URL)
	}
	return c.base.ResolveReference(ref).String()
}

// Upload sends the files at paths to a slot in one multipart request.
//
// Every base name is checked locally first; one bad name aborts the whole
// batch before anything is sent. Files are streamed, not buffered.
func (c *Client) Upload(ctx context.Context, slot int, paths []string) (*UploadResult, error) {
	if !model.ValidSlot(slot) {
		return nil, fmt.Errorf("slot %d out of range 0-%d", slot, model.SlotCount-1)
	}
	if len(paths) == 0 {
		return nil, errors.New("no files to upload")
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	if err := ValidateFileNames(names); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, paths, names))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(slotPath("/api/upload/", slot)), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var out UploadResult
	if err := c.do(req, &out); err != nil {
		pr.Close()
		return nil, err
	}
	return &out, nil
}

func writeParts(mw *multipart.Writer, paths, names []string) error {
	for i, p := range paths {
		if err := writePart(mw, p, names[i]); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadField, name))
	h.Set("Content-Type", contentTypeOf(name))
	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func contentTypeOf(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}
