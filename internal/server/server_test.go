package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/protoface/internal/config"
	"github.com/sakif/protoface/internal/model"
	"github.com/sakif/protoface/internal/repository/disk"
	"github.com/sakif/protoface/internal/repository/memory"
	"github.com/sakif/protoface/internal/repository/s3store"
)

// =========================================================================
// HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestServer starts the full router over a disk store in a temp dir and
// returns an HTTP client with a cookie jar.
func newTestServer(t *testing.T) (*Server, *httptest.Server, *http.Client) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Server.PublicDir = filepath.Join(dir, "public")
	cfg.Storage.DataRoot = filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(cfg.Server.PublicDir, 0o755))
	for _, page := range []string{"index.html", "left.html", "right.html", "control.html"} {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Server.PublicDir, page), []byte("<!-- "+page+" -->"), 0o644))
	}

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	hc := ts.Client()
	hc.Jar = jar
	hc.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	return srv, ts, hc
}

func postJSON(t *testing.T, hc *http.Client, url, body string) *http.Response {
	t.Helper()
	resp, err := hc.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func send(t *testing.T, hc *http.Client, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := hc.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func uploadJPEGs(t *testing.T, hc *http.Client, url string, names ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range names {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		h.Set("Content-Type", "image/jpeg")
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := hc.Post(url, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func fileNames(t *testing.T, body map[string]any) []string {
	t.Helper()
	files, ok := body["files"].([]any)
	require.True(t, ok, "files is not a list: %v", body)
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.(map[string]any)["name"].(string))
	}
	return out
}

// =========================================================================
// END TO END
// =========================================================================

func TestEndToEnd_LoginUploadListClear(t *testing.T) {
	srv, ts, hc := newTestServer(t)
	dataRoot := srv.config.Storage.DataRoot

	resp := postJSON(t, hc, ts.URL+"/api/login", `{"username":"fox_99"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"ok": true, "username": "fox_99"}, decodeBody(t, resp))
	for slot := 0; slot < model.SlotCount; slot++ {
		assert.DirExists(t, filepath.Join(dataRoot, "fox_99", strconv.Itoa(slot)))
	}

	resp = uploadJPEGs(t, hc, ts.URL+"/api/upload/3", "0.jpg", "1.jpg", "2.jpg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(3), body["count"])
	assert.Empty(t, body["rejected"])

	resp = send(t, hc, http.MethodGet, ts.URL+"/api/expressions/3")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"0.jpg", "1.jpg", "2.jpg"}, fileNames(t, decodeBody(t, resp)))

	resp = send(t, hc, http.MethodGet, ts.URL+"/data/fox_99/3/1.jpg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0}, raw)

	resp = send(t, hc, http.MethodDelete, ts.URL+"/api/expressions/3")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"ok": true}, decodeBody(t, resp))

	resp = send(t, hc, http.MethodGet, ts.URL+"/api/expressions/3")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, fileNames(t, decodeBody(t, resp)))
}

func TestEndToEnd_Errors(t *testing.T) {
	_, ts, hc := newTestServer(t)

	resp := send(t, hc, http.MethodGet, ts.URL+"/api/expressions/3")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "NO_COOKIE", decodeBody(t, resp)["error"])

	resp = postJSON(t, hc, ts.URL+"/api/login", `{"username":"!!!"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, "punctuation sanitizes to underscores")

	resp = send(t, hc, http.MethodGet, ts.URL+"/api/expressions/10")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_SLOT", decodeBody(t, resp)["error"])

	resp = uploadJPEGs(t, hc, ts.URL+"/api/upload/1", "a.jpg")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_FILENAME", decodeBody(t, resp)["error"])

	resp = send(t, hc, http.MethodGet, ts.URL+"/data/___/1/0.jpg")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoutes_Pages(t *testing.T) {
	_, ts, hc := newTestServer(t)

	resp := send(t, hc, http.MethodGet, ts.URL+"/")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/public/index.html", resp.Header.Get("Location"))

	pages := map[string]string{
		"/left-face":  "left.html",
		"/right-face": "right.html",
		"/control":    "control.html",
	}
	for path, file := range pages {
		resp := send(t, hc, http.MethodGet, ts.URL+path)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "<!-- "+file+" -->", string(b))
	}

	resp = send(t, hc, http.MethodGet, ts.URL+"/public/left.html")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=604800", resp.Header.Get("Cache-Control"))
}

func TestEndToEnd_SyncRelay(t *testing.T) {
	srv, ts, hc := newTestServer(t)

	resp := postJSON(t, hc, ts.URL+"/api/login", `{"username":"fox_99"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dialer := websocket.Dialer{Jar: hc.Jar, HandshakeTimeout: 2 * time.Second}
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sync/protogen-face-sync"

	left, resp, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer left.Close()
	right, resp, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer right.Close()

	require.Eventually(t, func() bool {
		return len(srv.hub.Stats("fox_99/protogen-face-sync").Subscribers) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, left.WriteJSON(model.SlotMessage(7)))
	require.NoError(t, right.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg model.SyncMessage
	require.NoError(t, right.ReadJSON(&msg))
	assert.Equal(t, model.SlotMessage(7), msg)
}

// =========================================================================
// STORE SELECTION
// =========================================================================

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	store, err := OpenStore(ctx, config.StorageConfig{Backend: config.BackendFS, DataRoot: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &disk.Store{}, store)

	store, err = OpenStore(ctx, config.StorageConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)

	store, err = OpenStore(ctx, config.StorageConfig{
		Backend: config.BackendS3,
		S3: config.S3Config{
			Bucket:    "faces",
			Region:    "us-east-1",
			Endpoint:  "http://127.0.0.1:9000",
			AccessKey: "minio",
			SecretKey: "minio123",
		},
	})
	require.NoError(t, err)
	assert.IsType(t, &s3store.Store{}, store)

	_, err = OpenStore(ctx, config.StorageConfig{Backend: "tape"})
	assert.Error(t, err)
}
