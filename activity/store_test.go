package activity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "activity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetSetting("missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetSetting("k", "one"))
	require.NoError(t, s.SetSetting("k", "two"))
	v, err = s.GetSetting("k")
	require.NoError(t, err)
	assert.Equal(t, "two", v)

	v, err = s.GetSetting("schema_version")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestRecordAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	events := []Event{
		{Kind: KindChatSent, VisitorHash: "a", Timestamp: now.Add(-time.Hour)},
		{Kind: KindChatSent, VisitorHash: "b", Timestamp: now.Add(-time.Hour)},
		{Kind: KindChatSent, VisitorHash: "a", Timestamp: now.Add(-30 * time.Minute)},
		{Kind: KindImageGenerated, VisitorHash: "a", Detail: "flux-1-schnell", Timestamp: now.Add(-10 * time.Minute)},
		{Kind: KindImageGenerated, VisitorHash: "c", Timestamp: now.AddDate(0, 0, -40)},
	}
	for _, e := range events {
		require.NoError(t, s.Record(ctx, e))
	}
	assert.Error(t, s.Record(ctx, Event{}))

	st, err := s.Stats(ctx, now.AddDate(0, 0, -7), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.Visitors)
	require.Len(t, st.ByKind, 2)
	assert.Equal(t, KindStat{Kind: KindChatSent, Count: 3, Visitors: 2}, st.ByKind[0])
	assert.Equal(t, KindStat{Kind: KindImageGenerated, Count: 1, Visitors: 1}, st.ByKind[1])
	require.NotEmpty(t, st.Daily)
}

func TestStatsIncludesUpperBound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	to := time.Date(2025, 10, 28, 12, 0, 0, 500_000_000, time.UTC)

	require.NoError(t, s.Record(ctx, Event{Kind: KindChatSent, VisitorHash: "a", Timestamp: to}))
	require.NoError(t, s.Record(ctx, Event{Kind: KindChatSent, VisitorHash: "b", Timestamp: to.Add(time.Second)}))

	st, err := s.Stats(ctx, to.AddDate(0, 0, -30), to)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Visitors)
	require.Len(t, st.Daily, 1)
	assert.Equal(t, "2025-10-28", st.Daily[0].Date)
}

func TestCleanupOldEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Record(ctx, Event{Kind: KindChatSent, VisitorHash: "a", Timestamp: now.AddDate(0, 0, -400)}))
	require.NoError(t, s.Record(ctx, Event{Kind: KindChatSent, VisitorHash: "a", Timestamp: now}))

	n, err := s.CleanupOldEvents(ctx, 365)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err := s.Stats(ctx, now.AddDate(-2, 0, 0), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
}

func TestCleanupSchedulerStopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartCleanupScheduler(ctx, 365, 10*time.Millisecond, nil)
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestInitSaltPersists(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, InitSalt(s))

	stored, err := s.GetSetting("hash_salt")
	require.NoError(t, err)
	assert.Len(t, stored, 64)

	h1 := HashVisitor("203.0.113.1", "Mozilla/5.0")
	h2 := HashVisitor("203.0.113.1", "Mozilla/5.0")
	h3 := HashVisitor("203.0.113.2", "Mozilla/5.0")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 16)
}
