package aether

import (
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/aether/imagegen"
)

func unlocked(t *testing.T, env *testEnv) *browser {
	t.Helper()
	b := env.browser(t)
	rec := b.postForm("/api/image/unlock", url.Values{"code": {testAccessCode}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "data-image-form")
	return b
}

func generate(b *browser, prompt string) *httptest.ResponseRecorder {
	return b.postForm("/api/image/generate", url.Values{
		"prompt": {prompt},
		"model":  {"flux-1-schnell"},
		"width":  {"512"},
		"height": {"512"},
	})
}

func TestImageGateUnlock(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	rec := b.postForm("/api/image/unlock", url.Values{"code": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "not valid")
	assert.NotContains(t, rec.Body.String(), "data-image-form")

	rec = b.postForm("/api/image/unlock", url.Values{"code": {testAccessCode}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data-image-form")

	// The code survives a reload.
	assert.Contains(t, b.get("/").Body.String(), "data-image-form")
}

func TestImageLockHidesControls(t *testing.T) {
	env := newTestEnv(t)
	b := unlocked(t, env)

	rec := b.postForm("/api/image/lock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "data-image-form")
	assert.Contains(t, rec.Body.String(), "Access code required")

	home := b.get("/").Body.String()
	assert.NotContains(t, home, "data-image-form")
	assert.Contains(t, home, "Access code required")
}

func TestImageGenerateRequiresUnlock(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	rec := generate(b, "a glass tower")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, env.worker.hitCount())
}

func TestImageBlankPromptIsNoop(t *testing.T) {
	env := newTestEnv(t)
	b := unlocked(t, env)

	rec := generate(b, "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.worker.hitCount())
}

func TestImageGenerateStoresRender(t *testing.T) {
	env := newTestEnv(t)
	b := unlocked(t, env)

	rec := generate(b, "a glass tower at dusk")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeJSON[imageResponse](t, rec)
	require.NotNil(t, st.Current)
	require.Len(t, st.History, 1)
	assert.Equal(t, st.History[0].ID, st.Current.ID)
	assert.Equal(t, "a glass tower at dusk", st.Current.Prompt)
	assert.Equal(t, 512, st.Current.Params.Width)
	assert.True(t, st.Unlocked)
	assert.Empty(t, st.Error)
	assert.False(t, st.Busy)

	env.worker.mu.Lock()
	assert.Equal(t, []string{testAccessCode}, env.worker.passwords)
	env.worker.mu.Unlock()

	img := b.get(st.Current.URL)
	require.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "image/png", img.Header().Get("Content-Type"))
	assert.Equal(t, env.worker.png, img.Body.Bytes())

	thumb := b.get(st.Current.ThumbURL)
	require.Equal(t, http.StatusOK, thumb.Code)
	assert.Equal(t, "image/jpeg", thumb.Header().Get("Content-Type"))
	cfg, err := jpeg.DecodeConfig(thumb.Body)
	require.NoError(t, err)
	assert.Equal(t, thumbWidth, cfg.Width)
	assert.Equal(t, 384*thumbWidth/512, cfg.Height)

	// Renders belong to the session that made them.
	other := env.browser(t)
	assert.Equal(t, http.StatusNotFound, other.get(st.Current.URL).Code)
}

func TestImageHistoryIsCapped(t *testing.T) {
	env := newTestEnv(t)
	b := unlocked(t, env)

	var first imagegen.Record
	var st imageResponse
	for i := 0; i < imagegen.HistoryLimit+1; i++ {
		rec := generate(b, "render")
		require.Equal(t, http.StatusOK, rec.Code)
		st = decodeJSON[imageResponse](t, rec)
		if i == 0 {
			first = *st.Current
		}
	}
	require.Len(t, st.History, imagegen.HistoryLimit)
	assert.Equal(t, st.Current.ID, st.History[0].ID, "newest first")
	for _, r := range st.History {
		assert.NotEqual(t, first.ID, r.ID)
	}
	assert.Equal(t, http.StatusNotFound, b.get(first.URL).Code, "evicted render is deleted")
}

func TestImageSelect(t *testing.T) {
	env := newTestEnv(t)
	b := unlocked(t, env)

	require.Equal(t, http.StatusOK, generate(b, "first").Code)
	require.Equal(t, http.StatusOK, generate(b, "second").Code)

	// Leave an error on the panel, then pick an older render.
	env.worker.setStatus(http.StatusBadGateway)
	rec := generate(b, "third")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	st := decodeJSON[imageResponse](t, rec)
	require.NotEmpty(t, st.Error)
	assert.Equal(t, imagegen.KindNetwork.String(), st.Kind)

	older := st.History[1]
	rec = b.postForm("/api/image/select/"+older.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st = decodeJSON[imageResponse](t, rec)
	require.NotNil(t, st.Current)
	assert.Equal(t, older.ID, st.Current.ID)
	assert.Equal(t, "first", st.Current.Prompt)
	assert.Empty(t, st.Error)

	rec = b.postForm("/api/image/select/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImageRateLimitStartsCooldown(t *testing.T) {
	env := newTestEnv(t)
	b := unlocked(t, env)
	env.worker.setStatus(http.StatusTooManyRequests)

	rec := generate(b, "a glass tower")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	st := decodeJSON[imageResponse](t, rec)
	assert.Equal(t, 60, st.Cooldown)
	assert.Equal(t, imagegen.KindRateLimited.String(), st.Kind)
	assert.Equal(t, 1, env.worker.hitCount())

	env.worker.setStatus(http.StatusOK)
	env.clock.Advance(30 * time.Second)
	rec = generate(b, "a glass tower")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, env.worker.hitCount(), "no upstream call while cooling down")

	state := decodeJSON[imageResponse](t, b.get("/api/image/state"))
	assert.Equal(t, 30, state.Cooldown)

	env.clock.Advance(31 * time.Second)
	rec = generate(b, "a glass tower")
	require.Equal(t, http.StatusOK, rec.Code)
	st = decodeJSON[imageResponse](t, rec)
	assert.Zero(t, st.Cooldown)
	assert.Empty(t, st.Error)
	assert.Equal(t, 2, env.worker.hitCount())
}

func TestImageUnauthorizedRelocks(t *testing.T) {
	env := newTestEnv(t)
	b := unlocked(t, env)
	env.worker.setStatus(http.StatusForbidden)

	rec := generate(b, "a glass tower")
	require.Equal(t, http.StatusForbidden, rec.Code)
	st := decodeJSON[imageResponse](t, rec)
	assert.False(t, st.Unlocked)
	assert.Equal(t, imagegen.KindUnauthorized.String(), st.Kind)

	home := b.get("/").Body.String()
	assert.NotContains(t, home, "data-image-form")
	assert.Contains(t, home, "Access code required")
	assert.Equal(t, http.StatusUnauthorized, generate(b, "again").Code)
}

func TestImageRejectsConcurrentGenerate(t *testing.T) {
	env := newTestEnv(t)
	b := unlocked(t, env)
	env.worker.mu.Lock()
	env.worker.started = make(chan struct{}, 1)
	env.worker.release = make(chan struct{})
	env.worker.mu.Unlock()

	first := make(chan *httptest.ResponseRecorder)
	go func() { first <- generate(b, "first") }()
	select {
	case <-env.worker.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first render never reached the worker")
	}

	assert.Equal(t, http.StatusConflict, generate(b, "second").Code)
	state := decodeJSON[imageResponse](t, b.get("/api/image/state"))
	assert.True(t, state.Busy)

	close(env.worker.release)
	assert.Equal(t, http.StatusOK, (<-first).Code)
	assert.Equal(t, 1, env.worker.hitCount())
}

// panicOnce panics on the first round trip and forwards the rest.
type panicOnce struct {
	fired atomic.Bool
}

func (p *panicOnce) RoundTrip(r *http.Request) (*http.Response, error) {
	if p.fired.CompareAndSwap(false, true) {
		panic("worker transport exploded")
	}
	return http.DefaultTransport.RoundTrip(r)
}

func TestImagePanelReleasedAfterPanic(t *testing.T) {
	rt := &panicOnce{}
	env := newTestEnv(t, func(a *App) {
		a.Images = imagegen.NewClient(a.Config.Image.Endpoint, 5*time.Second, nil, imagegen.WithTransport(rt))
	})
	b := unlocked(t, env)

	rec := generate(b, "a lighthouse")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, rt.fired.Load())

	st := decodeJSON[imageResponse](t, b.get("/api/image/state"))
	assert.False(t, st.Busy)

	rec = generate(b, "a lighthouse")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, env.worker.hitCount())
}

func TestImageInvalidParams(t *testing.T) {
	env := newTestEnv(t)
	b := unlocked(t, env)

	tests := []url.Values{
		{"prompt": {"x"}, "model": {"nope"}},
		{"prompt": {"x"}, "width": {"64"}},
		{"prompt": {"x"}, "steps": {"abc"}},
		{"prompt": {"x"}, "seed": {"-"}},
	}
	for _, form := range tests {
		rec := b.postForm("/api/image/generate", form)
		assert.Equal(t, http.StatusBadRequest, rec.Code, form.Encode())
	}
	assert.Zero(t, env.worker.hitCount())
}
