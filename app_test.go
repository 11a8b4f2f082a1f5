package aether

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/eringen/aether/chat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

const (
	testAdminPassword = "hunter2"
	testAccessCode    = "letmein"
)

// fakeProvider answers chat requests from a script.
type fakeProvider struct {
	mu      sync.Mutex
	chunks  []chat.Chunk
	err     error
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) script(chunks []chat.Chunk, err error) {
	f.mu.Lock()
	f.chunks, f.err = chunks, err
	f.mu.Unlock()
}

func (f *fakeProvider) Stream(ctx context.Context, history []chat.Message, prompt string) iter.Seq2[chat.Chunk, error] {
	f.calls.Add(1)
	f.mu.Lock()
	chunks, err, started, release := f.chunks, f.err, f.started, f.release
	f.mu.Unlock()
	return func(yield func(chat.Chunk, error) bool) {
		if started != nil {
			started <- struct{}{}
		}
		if release != nil {
			<-release
		}
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
		if err != nil {
			yield(chat.Chunk{}, err)
		}
	}
}

// fakeWorker is a stand-in for the rendering worker.
type fakeWorker struct {
	*httptest.Server
	mu        sync.Mutex
	status    int
	hits      int
	passwords []string
	started   chan struct{}
	release   chan struct{}
	png       []byte
}

func newFakeWorker(t *testing.T) *fakeWorker {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 512, 384))
	for y := 0; y < 384; y++ {
		for x := 0; x < 512; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 200, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	w := &fakeWorker{status: http.StatusOK, png: buf.Bytes()}
	w.Server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		w.hits++
		w.passwords = append(w.passwords, r.URL.Query().Get("password"))
		status, started, release := w.status, w.started, w.release
		w.mu.Unlock()

		if started != nil {
			started <- struct{}{}
		}
		if release != nil {
			<-release
		}
		if status != http.StatusOK {
			http.Error(rw, http.StatusText(status), status)
			return
		}
		rw.Header().Set("Content-Type", "image/png")
		rw.Write(w.png)
	}))
	t.Cleanup(w.Close)
	return w
}

func (w *fakeWorker) setStatus(code int) {
	w.mu.Lock()
	w.status = code
	w.mu.Unlock()
}

func (w *fakeWorker) hitCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hits
}

type testEnv struct {
	app      *App
	clock    *fakeClock
	provider *fakeProvider
	worker   *fakeWorker
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		clock:    newFakeClock(),
		provider: &fakeProvider{chunks: []chat.Chunk{{Text: "Glass "}, {Text: "and light."}}},
		worker:   newFakeWorker(t),
	}
	cfg := SiteConfig{
		URL:                  "https://aether.example.com",
		DatabasePath:         filepath.Join(dir, "aether.db"),
		ActivityEnabled:      true,
		ActivityDatabasePath: filepath.Join(dir, "activity.db"),
		AdminPassword:        testAdminPassword,
		SessionSecret:        "test-session-secret-0123456789abcdef",
		Image: ImageConfig{
			Endpoint:   env.worker.URL,
			AccessCode: testAccessCode,
		},
	}
	opts = append([]Option{WithChatProvider(env.provider), WithClock(env.clock.Now)}, opts...)
	env.app = New(cfg, opts...)
	require.NoError(t, env.app.Setup(context.Background()))
	t.Cleanup(func() { env.app.Close() })
	return env
}

// browser replays cookies between requests like a real client would.
type browser struct {
	t       *testing.T
	app     *App
	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

func (env *testEnv) browser(t *testing.T) *browser {
	t.Helper()
	b := &browser{t: t, app: env.app, cookies: make(map[string]*http.Cookie)}
	rec := b.get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	return b
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.mu.Lock()
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	if req.Method != http.MethodGet {
		if c, ok := b.cookies["_csrf"]; ok {
			req.Header.Set("X-CSRF-Token", c.Value)
		}
	}
	b.mu.Unlock()

	rec := httptest.NewRecorder()
	b.app.Echo.ServeHTTP(rec, req)

	b.mu.Lock()
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	b.mu.Unlock()
	return rec
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) partial(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("HX-Request", "true")
	return b.do(req)
}

func (b *browser) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
