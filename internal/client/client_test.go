package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/client"
	"github.com/sakif/protoface/internal/config"
	"github.com/sakif/protoface/internal/model"
	"github.com/sakif/protoface/internal/repository/memory"
	"github.com/sakif/protoface/internal/server"
)

// =========================================================================
// HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.PublicDir = t.TempDir()
	store := memory.New()

	srv := server.NewWithStore(cfg, store, testLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts, store
}

func newClient(t *testing.T, ts *httptest.Server) *client.Client {
	t.Helper()
	c, err := client.New(ts.URL, client.WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	return c
}

// writeFiles creates files named names in a temp dir and returns their paths.
func writeFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(paths[i], []byte("frame "+name), 0o644))
	}
	return paths
}

func names(frames []model.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Name
	}
	return out
}

// =========================================================================
// TESTS
// =========================================================================

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := client.New("localhost:1146")
	assert.Error(t, err)

	_, err = client.New("ftp://example.com")
	assert.Error(t, err)
}

func TestSession(t *testing.T) {
	ts, _ := newTestServer(t)
	c := newClient(t, ts)
	ctx := context.Background()

	_, ok, err := c.WhoAmI(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	user, err := c.Login(ctx, " fox 99 ")
	require.NoError(t, err)
	assert.Equal(t, "fox_99", user)

	jarUser, ok := c.User()
	require.True(t, ok)
	assert.Equal(t, "fox_99", jarUser)

	who, ok, err := c.WhoAmI(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fox_99", who)

	require.NoError(t, c.Logout(ctx))
	_, ok = c.User()
	assert.False(t, ok)
}

func TestLogin_BadUsername(t *testing.T) {
	ts, _ := newTestServer(t)
	c := newClient(t, ts)

	_, err := c.Login(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, client.HasCode(err, apperror.CodeBadUsername), "got %v", err)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestListFrames_RequiresLogin(t *testing.T) {
	ts, _ := newTestServer(t)
	c := newClient(t, ts)

	_, err := c.ListFrames(context.Background(), 0)
	assert.True(t, client.HasCode(err, apperror.CodeNoCookie), "got %v", err)
}

func TestUploadListClear(t *testing.T) {
	ts, _ := newTestServer(t)
	c := newClient(t, ts)
	ctx := context.Background()

	_, err := c.Login(ctx, "fox_99")
	require.NoError(t, err)

	res, err := c.Upload(ctx, 3, writeFiles(t, "10.png", "2.JPG", "0.jpeg"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Empty(t, res.Rejected)

	frames, err := c.ListFrames(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.jpeg", "2.jpg", "10.png"}, names(frames))
	assert.Equal(t, "/data/fox_99/3/0.jpeg", frames[0].URL)
	assert.Equal(t, ts.URL+"/data/fox_99/3/0.jpeg", c.FrameURL(frames[0]))

	// the frame is retrievable with the same client
	resp, err := ts.Client().Get(c.FrameURL(frames[1]))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "frame 2.JPG", string(body))

	require.NoError(t, c.ClearSlot(ctx, 3))
	frames, err = c.ListFrames(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestUpload_FailsFastOnBadName(t *testing.T) {
	ts, store := newTestServer(t)
	c := newClient(t, ts)
	ctx := context.Background()

	_, err := c.Login(ctx, "fox_99")
	require.NoError(t, err)

	_, err = c.Upload(ctx, 1, writeFiles(t, "0.png", "a.png"))
	require.Error(t, err)
	assert.Equal(t, apperror.CodeBadFilename, apperror.CodeOf(err))

	entries, err := store.List(ctx, "fox_99", 1)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is sent when one name is bad")
}

func TestUpload_BadSlotAndNoFiles(t *testing.T) {
	ts, _ := newTestServer(t)
	c := newClient(t, ts)
	ctx := context.Background()

	_, err := c.Upload(ctx, 10, writeFiles(t, "0.png"))
	assert.Error(t, err)

	_, err = c.Upload(ctx, 0, nil)
	assert.Error(t, err)
}

func TestValidateFileNames(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		bad   string
	}{
		{name: "all good", files: []string{"0.png", "1.JPG", "007.jpeg"}},
		{name: "empty batch", files: nil},
		{name: "letters", files: []string{"0.png", "a.png"}, bad: "a.png"},
		{name: "gif", files: []string{"1.gif"}, bad: "1.gif"},
		{name: "first bad wins", files: []string{"x.png", "y.png"}, bad: "x.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.ValidateFileNames(tt.files)
			if tt.bad == "" {
				assert.NoError(t, err)
				return
			}
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperror.CodeBadFilename, appErr.Code)
			assert.Equal(t, tt.bad, appErr.Field)
		})
	}
}

func TestSync_PublishAndRun(t *testing.T) {
	ts, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	left := newClient(t, ts)
	right := newClient(t, ts)
	left.SetUser("fox_99")
	right.SetUser("fox_99")

	leftConn, err := left.JoinSync(ctx, "")
	require.NoError(t, err)
	defer leftConn.Close()
	rightConn, err := right.JoinSync(ctx, "")
	require.NoError(t, err)
	defer rightConn.Close()

	got := make(chan model.SyncMessage, 1)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- rightConn.Run(runCtx, func(msg model.SyncMessage) {
			select {
			case got <- msg:
			default:
			}
		})
	}()

	// the hub may not have registered both surfaces yet; keep announcing
	// until the other side hears it
	require.Eventually(t, func() bool {
		leftConn.PublishSlot(4)
		select {
		case msg := <-got:
			return msg == model.SlotMessage(4)
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestJoinSync_RequiresLogin(t *testing.T) {
	ts, _ := newTestServer(t)
	c := newClient(t, ts)

	_, err := c.JoinSync(context.Background(), "face")
	assert.True(t, client.HasCode(err, apperror.CodeNoCookie), "got %v", err)
}
