package webapp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (f *fakeRelay) Send(_ context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	return f.err
}

func (f *fakeRelay) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies
}

func writeSite(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "front")
	files := map[string]string{
		"index.html":     "<h1>index</h1>",
		"message.html":   "<form>message</form>",
		"error.html":     "<h1>not found</h1>",
		"style.css":      "body{}",
		"notes.zzz":      "plain",
		"img/logo.svg":   "<svg/>",
		"../secret.json": "{}",
	}
	for name, content := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return root
}

func testConfig(t *testing.T) *ApiConfig {
	t.Helper()
	return &ApiConfig{
		ListenAddr:  "127.0.0.1:0",
		StaticRoot:  writeSite(t),
		IndexPage:   "index.html",
		MessagePage: "message.html",
		ErrorPage:   "error.html",
	}
}

func newTestApi(t *testing.T, relay Relayer) *Api {
	t.Helper()
	return NewApi(relay, zerolog.Nop(), testConfig(t))
}

func do(api *Api, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	api := newTestApi(t, &fakeRelay{})

	tt := []struct {
		path   string
		status int
		ctype  string
		body   string
	}{
		{"/", http.StatusOK, "text/html", "<h1>index</h1>"},
		{"/message", http.StatusOK, "text/html", "<form>message</form>"},
		{"/style.css", http.StatusOK, "text/css", "body{}"},
		{"/img/logo.svg", http.StatusOK, "image/svg+xml", "<svg/>"},
		{"/notes.zzz", http.StatusOK, "text/plain", "plain"},
		{"/index.html", http.StatusOK, "text/html", "<h1>index</h1>"},
		{"/xyz123", http.StatusNotFound, "text/html", "<h1>not found</h1>"},
		{"/img", http.StatusNotFound, "text/html", "<h1>not found</h1>"},
		{"/../secret.json", http.StatusNotFound, "text/html", "<h1>not found</h1>"},
		{"/img/../../secret.json", http.StatusNotFound, "text/html", "<h1>not found</h1>"},
	}
	for _, tc := range tt {
		t.Run(tc.path, func(t *testing.T) {
			rec := do(api, http.MethodGet, tc.path, nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), tc.ctype), rec.Header().Get("Content-Type"))
			assert.Equal(t, tc.body, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
		})
	}
}

func TestHead(t *testing.T) {
	api := newTestApi(t, &fakeRelay{})
	rec := do(api, http.MethodHead, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestSubmitRelaysVerbatim(t *testing.T) {
	relay := &fakeRelay{}
	api := newTestApi(t, relay)

	rec := do(api, http.MethodPost, "/message", strings.NewReader("name=Alice&note=hi+there"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	require.Len(t, relay.sent(), 1)
	assert.Equal(t, "name=Alice&note=hi+there", string(relay.sent()[0]))

	rec = do(api, http.MethodPost, "/", strings.NewReader("not_a_kv_pair"))
	assert.Equal(t, http.StatusFound, rec.Code)
	require.Len(t, relay.sent(), 2)
	assert.Equal(t, "not_a_kv_pair", string(relay.sent()[1]))
}

func TestSubmitRedirectsOnRelayFailure(t *testing.T) {
	relay := &fakeRelay{err: errors.New("message too long")}
	api := newTestApi(t, relay)

	rec := do(api, http.MethodPost, "/message", strings.NewReader("a=1"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestSubmitLengthChecks(t *testing.T) {
	relay := &fakeRelay{}
	api := newTestApi(t, relay)

	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader("a=1"))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusLengthRequired, rec.Code)

	rec = do(api, http.MethodPost, "/message", strings.NewReader(strings.Repeat("a", DefaultMaxBodyBytes+1)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	assert.Empty(t, relay.sent())
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestApi(t, &fakeRelay{})
	rec := do(api, http.MethodPut, "/", strings.NewReader("a=1"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORS(t *testing.T) {
	config := testConfig(t)
	config.CORSOrigins = []string{"http://example.com"}
	api := NewApi(&fakeRelay{}, zerolog.Nop(), config)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRunServesAndStops(t *testing.T) {
	relay := &fakeRelay{}
	config := testConfig(t)
	config.MaxConnections = 1
	api := NewApi(relay, zerolog.Nop(), config)
	require.NoError(t, api.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- api.Run(ctx) }()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	base := "http://" + api.Addr().String()

	res, err := client.Get(base + "/xyz123")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, err = client.Post(base+"/message", "application/x-www-form-urlencoded", strings.NewReader("a=1"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusFound, res.StatusCode)
	assert.Len(t, relay.sent(), 1)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("api-server did not stop")
	}
}

func TestRequestID(t *testing.T) {
	api := newTestApi(t, &fakeRelay{})

	tt := map[string]bool{
		"edge-7f3a.01_b":            true,
		strings.Repeat("a", 64):     true,
		strings.Repeat("a", 65):     false,
		"id with spaces":            false,
		"id\u00e9":                  false,
		"<script>alert(1)</script>": false,
	}
	for id, kept := range tt {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, id)
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, req)

		got := rec.Header().Get(requestIDHeader)
		if kept {
			assert.Equal(t, id, got)
		} else {
			assert.NotEqual(t, id, got)
			assert.Len(t, got, 36)
		}
	}
}
