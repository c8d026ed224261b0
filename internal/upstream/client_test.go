package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liteproxy/liteproxy/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Defaults().Upstream
	cfg.BaseURL = srv.URL + "/api/v9/"
	return NewClient(cfg, opts...)
}

func TestClient_InjectsHeaderSet(t *testing.T) {
	var got http.Header
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		assert.Equal(t, "/api/v9/users/@me/guilds", r.URL.Path)
		w.Write([]byte(`[]`))
	})

	resp, err := c.Get(context.Background(), "/users/@me/guilds", nil, "user-token")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, `[]`, string(resp.Body))

	assert.Equal(t, config.DefaultUserAgent, got.Get("User-Agent"))
	assert.Equal(t, "*/*", got.Get("Accept"))
	assert.Equal(t, "en-US,en;q=0.5", got.Get("Accept-Language"))
	assert.Equal(t, "en-GB", got.Get("X-Discord-Locale"))
	assert.Equal(t, "bugReporterEnabled", got.Get("X-Debug-Options"))
	assert.Equal(t, "empty", got.Get("Sec-Fetch-Dest"))
	assert.Equal(t, "cors", got.Get("Sec-Fetch-Mode"))
	assert.Equal(t, "same-origin", got.Get("Sec-Fetch-Site"))
	assert.Equal(t, "user-token", got.Get("Authorization"))
}

func TestClient_OmitsEmptyAuthorization(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["Authorization"]
		assert.False(t, present)
		w.Write([]byte(`{}`))
	})

	_, err := c.Get(context.Background(), "/users/@me", nil, "")
	require.NoError(t, err)
}

func TestClient_QueryPassThrough(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "123", r.URL.Query().Get("before"))
		w.Write([]byte(`[]`))
	})

	_, err := c.Get(context.Background(), "/channels/1/messages", url.Values{"limit": {"50"}, "before": {"123"}}, "t")
	require.NoError(t, err)
}

func TestClient_SendJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"content":"edited"}`, string(body))
		w.Write([]byte(`{"id":"m"}`))
	})

	_, err := c.SendJSON(context.Background(), http.MethodPatch, "/channels/1/messages/2", "t", []byte(`{"content":"edited"}`))
	require.NoError(t, err)
}

func TestClient_UpstreamErrorKeepsStatusAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Unknown Channel","code":10003}`))
	})

	_, err := c.Get(context.Background(), "/channels/1/messages", nil, "t")
	require.Error(t, err)

	ue, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, ue.Status)
	assert.Equal(t, "Not Found", ue.StatusText)
	assert.Equal(t, `{"message":"Unknown Channel","code":10003}`, string(ue.Body))
	assert.Equal(t, "application/json", ue.ContentType())
	assert.Contains(t, ue.Error(), "404")
}

func TestClient_TransportErrorIsNotUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	cfg := config.Defaults().Upstream
	cfg.BaseURL = base
	c := NewClient(cfg)

	_, err := c.Get(context.Background(), "/users/@me", nil, "t")
	require.Error(t, err)
	_, ok := AsError(err)
	assert.False(t, ok)
}

func TestClient_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))

	_, err := c.Get(context.Background(), "/slow", nil, "t")
	require.Error(t, err)
	_, ok := AsError(err)
	assert.False(t, ok, "timeout is a transport error")
}

func TestClient_ResponseTooLarge(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}, WithMaxBody(10))

	_, err := c.Get(context.Background(), "/big", nil, "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestClient_Upload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		files := r.MultipartForm.File["files[0]"]
		require.Len(t, files, 1)
		assert.Equal(t, `my "pic".png`, files[0].Filename)
		assert.Equal(t, "image/png", files[0].Header.Get("Content-Type"))

		f, err := files[0].Open()
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "PNGDATA", string(data))

		assert.Equal(t, "caption", r.FormValue("content"))
		w.Write([]byte(`{"id":"m"}`))
	})

	content := "caption"
	_, err := c.Upload(context.Background(), "/channels/1/messages", "t",
		&File{Name: `my "pic".png`, ContentType: "image/png", Data: strings.NewReader("PNGDATA")}, &content)
	require.NoError(t, err)
}

func TestClient_UploadTextOnly(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Empty(t, r.MultipartForm.File)
		assert.Equal(t, "just text", r.FormValue("content"))
		w.Write([]byte(`{}`))
	})

	content := "just text"
	_, err := c.Upload(context.Background(), "/channels/1/messages", "t", nil, &content)
	require.NoError(t, err)
}

func TestClient_BaseURLTrimsSlash(t *testing.T) {
	cfg := config.Defaults().Upstream
	cfg.BaseURL = "https://example.com/api/v9/"
	assert.Equal(t, "https://example.com/api/v9", NewClient(cfg).BaseURL())
}
