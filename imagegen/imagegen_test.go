package imagegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestParamsNormalizeAndQuery(t *testing.T) {
	seed := int64(42)
	p := Params{Prompt: "  neon city  ", Password: "letmein", Seed: &seed}
	p.Normalize()
	require.NoError(t, p.Validate())

	q := p.Query()
	want := map[string]string{
		"prompt":          "neon city",
		"model":           DefaultModel,
		"password":        "letmein",
		"negative_prompt": "",
		"width":           "1024",
		"height":          "1024",
		"steps":           "4",
		"guidance":        "7.5",
		"seed":            "42",
	}
	got := map[string]string{}
	for k := range q {
		got[k] = q.Get(k)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, q.Has("num_steps"))
}

func TestParamsQueryOmitsUnsetSeed(t *testing.T) {
	p := Params{Prompt: "x"}
	p.Normalize()
	assert.False(t, p.Query().Has("seed"))
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		ok     bool
	}{
		{"defaults", func(p *Params) {}, true},
		{"blank prompt", func(p *Params) { p.Prompt = "   " }, false},
		{"long prompt", func(p *Params) { p.Prompt = strings.Repeat("a", MaxPromptRunes+1) }, false},
		{"unknown model", func(p *Params) { p.Model = "dall-e" }, false},
		{"too small", func(p *Params) { p.Width = 64 }, false},
		{"too tall", func(p *Params) { p.Height = 4096 }, false},
		{"too many steps", func(p *Params) { p.Steps = 51 }, false},
		{"negative guidance", func(p *Params) { p.Guidance = -1 }, false},
		{"max guidance", func(p *Params) { p.Guidance = MaxGuidance }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Params{Prompt: "a lighthouse"}
			tt.mutate(&p)
			p.Normalize()
			err := p.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestClientGenerateSuccess(t *testing.T) {
	body := pngBytes(t)
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	res, err := c.Generate(context.Background(), Params{Prompt: "aurora", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, body, res.Data)
	assert.Equal(t, ParamsVersion, res.Params.Version)
	assert.Contains(t, gotQuery, "prompt=aurora")
	assert.Contains(t, gotQuery, "password=pw")
}

func TestClientGenerateClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
		kind   Kind
	}{
		{http.StatusForbidden, ErrUnauthorized, KindUnauthorized},
		{http.StatusTooManyRequests, ErrRateLimited, KindRateLimited},
		{http.StatusInternalServerError, nil, KindNetwork},
		{http.StatusBadRequest, nil, KindNetwork},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, nil).Generate(context.Background(), Params{Prompt: "x"})
			var ie *Error
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.kind, ie.Kind)
			assert.Equal(t, tt.status, ie.Status)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, int32(1), hits.Load(), "no retries")
		})
	}
}

func TestClientGenerateRejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>captcha</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, nil).Generate(context.Background(), Params{Prompt: "x"})
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindNetwork, ie.Kind)
}

func TestClientGenerateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second, nil).Generate(context.Background(), Params{Prompt: "x"})
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindNetwork, ie.Kind)
	assert.NotEmpty(t, ie.Message())
}

func TestClientGenerateBlankPromptSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, nil).Generate(context.Background(), Params{Prompt: " \n "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Equal(t, int32(0), hits.Load())
}

func TestHistoryCapsAtLimit(t *testing.T) {
	var h History
	for i := 1; i <= HistoryLimit; i++ {
		assert.Empty(t, h.Push(Record{ID: fmt.Sprint(i)}))
	}
	evicted := h.Push(Record{ID: "7"})
	require.Len(t, evicted, 1)
	assert.Equal(t, "1", evicted[0].ID)
	assert.Equal(t, HistoryLimit, h.Len())

	recs := h.Records()
	assert.Equal(t, "7", recs[0].ID)
	assert.Equal(t, "2", recs[len(recs)-1].ID)
	_, ok := h.Find("1")
	assert.False(t, ok)
}

func TestPanelSelectClearsError(t *testing.T) {
	var p Panel
	p.Record(Record{ID: "a", Prompt: "first"})
	p.Record(Record{ID: "b", Prompt: "second"})
	p.Fail(&Error{Kind: KindNetwork})
	require.NotEmpty(t, p.Snapshot().Error)

	require.True(t, p.Select("a"))
	st := p.Snapshot()
	require.NotNil(t, st.Current)
	assert.Equal(t, "a", st.Current.ID)
	assert.Empty(t, st.Error)

	assert.False(t, p.Select("missing"))
	assert.Equal(t, "a", p.Snapshot().Current.ID)
}

func TestPanelBeginIsExclusive(t *testing.T) {
	var p Panel
	require.True(t, p.Begin())
	assert.False(t, p.Begin())
	assert.True(t, p.Snapshot().Busy)
	p.End()
	assert.True(t, p.Begin())
}

type memCodeStore struct {
	code string
	err  error
}

func (m *memCodeStore) LoadCode() (string, error) { return m.code, m.err }

func (m *memCodeStore) SaveCode(code string) error {
	m.code = code
	return nil
}

func (m *memCodeStore) ClearCode() error {
	m.code = ""
	return nil
}

func TestGateWithConfiguredCode(t *testing.T) {
	store := &memCodeStore{}
	g := NewGate(store, "open-sesame")
	assert.False(t, g.Unlocked())

	assert.ErrorIs(t, g.Unlock("wrong"), ErrInvalidCode)
	assert.ErrorIs(t, g.Unlock("  "), ErrInvalidCode)
	assert.False(t, g.Unlocked())

	require.NoError(t, g.Unlock(" open-sesame "))
	assert.True(t, g.Unlocked())
	assert.Equal(t, "open-sesame", g.Code())

	require.NoError(t, g.Lock())
	assert.False(t, g.Unlocked())
}

func TestGatePassThrough(t *testing.T) {
	store := &memCodeStore{}
	g := NewGate(store, "")
	require.NoError(t, g.Unlock("anything"))
	assert.Equal(t, "anything", store.code)
}

func TestGateLoadErrorIsLocked(t *testing.T) {
	g := NewGate(&memCodeStore{code: "x", err: errors.New("bad cookie")}, "")
	assert.False(t, g.Unlocked())
}
