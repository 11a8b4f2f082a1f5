package aether

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/eringen/aether/content"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "aether.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore(t *testing.T) {
	s := setupTestStore(t)
	if s.db == nil {
		t.Fatal("db should not be nil")
	}
}

func TestSaveAndGetPost(t *testing.T) {
	s := setupTestStore(t)

	post := content.BlogPost{
		ID:        "7",
		Slug:      "test-post",
		Title:     "Test Post",
		Date:      "2024-01-15",
		Excerpt:   "A test post excerpt",
		Content:   "# Test Content\n\nThis is test content.",
		Category:  "Engineering",
		Image:     "https://example.com/cover.jpg",
		Tags:      []string{"Go", " testing "},
		Published: true,
	}
	if err := s.SavePost(post); err != nil {
		t.Fatalf("SavePost failed: %v", err)
	}

	got, err := s.GetPost("7")
	if err != nil {
		t.Fatalf("GetPost failed: %v", err)
	}
	want := post
	want.Tags = []string{"go", "testing"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetPost mismatch (-want +got):\n%s", diff)
	}
	if got.Link() != "/blog/7/" {
		t.Errorf("Link = %q, want %q", got.Link(), "/blog/7/")
	}
}

func TestSavePostUpdate(t *testing.T) {
	s := setupTestStore(t)

	post := content.BlogPost{ID: "1", Title: "Original Title", Date: "2024-01-01", Tags: []string{"original"}, Published: true}
	if err := s.SavePost(post); err != nil {
		t.Fatalf("SavePost failed: %v", err)
	}
	post.Title = "Updated Title"
	post.Tags = []string{"updated", "modified"}
	if err := s.SavePost(post); err != nil {
		t.Fatalf("SavePost update failed: %v", err)
	}

	got, err := s.GetPost("1")
	if err != nil {
		t.Fatalf("GetPost failed: %v", err)
	}
	if got.Title != "Updated Title" {
		t.Errorf("Title = %q, want %q", got.Title, "Updated Title")
	}
	if len(got.Tags) != 2 {
		t.Errorf("Tags count = %d, want 2", len(got.Tags))
	}
}

func TestGetPostNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetPost("nonexistent")
	if err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestDraftsAreHidden(t *testing.T) {
	s := setupTestStore(t)

	posts := []content.BlogPost{
		{ID: "1", Title: "Post 1", Date: "2024-01-01", Published: true},
		{ID: "2", Title: "Post 2", Date: "2024-01-03", Published: true},
		{ID: "3", Title: "Post 3", Date: "2024-01-02", Published: true},
		{ID: "4", Title: "Draft", Date: "2024-01-04", Published: false},
	}
	for _, p := range posts {
		if err := s.SavePost(p); err != nil {
			t.Fatalf("SavePost failed: %v", err)
		}
	}

	got, err := s.ListPosts()
	if err != nil {
		t.Fatalf("ListPosts failed: %v", err)
	}
	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	if diff := cmp.Diff([]string{"2", "3", "1"}, ids); diff != "" {
		t.Errorf("ListPosts order (-want +got):\n%s", diff)
	}

	if _, err := s.GetPost("4"); err != sql.ErrNoRows {
		t.Errorf("GetPost should return ErrNoRows for drafts, got %v", err)
	}
	all, err := s.ListAllPosts()
	if err != nil {
		t.Fatalf("ListAllPosts failed: %v", err)
	}
	if len(all) != 4 || all[0].ID != "4" || all[0].Published {
		t.Errorf("ListAllPosts should include the draft first, got %+v", all)
	}
}

func TestDeletePost(t *testing.T) {
	s := setupTestStore(t)

	if err := s.SavePost(content.BlogPost{ID: "1", Title: "Gone", Date: "2024-01-01", Published: true}); err != nil {
		t.Fatalf("SavePost failed: %v", err)
	}
	if err := s.DeletePost("1"); err != nil {
		t.Fatalf("DeletePost failed: %v", err)
	}
	if _, err := s.GetPost("1"); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows after delete, got %v", err)
	}
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{",go,web,", []string{"go", "web"}},
		{",,", nil},
		{"", nil},
		{",a, ,b,", []string{"a", "b"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, ParseTags(tt.in)); diff != "" {
			t.Errorf("ParseTags(%q) (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestImagesAreScopedToSession(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	img := StoredImage{ID: "img-1", SessionID: "sess-a", Prompt: "a glass tower", ContentType: "image/png", Data: []byte{1, 2, 3}, Thumb: []byte{4}}
	if err := s.SaveImage(ctx, img); err != nil {
		t.Fatalf("SaveImage failed: %v", err)
	}

	got, err := s.GetImage(ctx, "sess-a", "img-1")
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}
	if got.Prompt != img.Prompt || string(got.Data) != string(img.Data) || got.CreatedAt.IsZero() {
		t.Errorf("GetImage = %+v", got)
	}

	if _, err := s.GetImage(ctx, "sess-b", "img-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("another session must not see the image, got %v", err)
	}
}

func TestDeleteImages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	for _, img := range []StoredImage{
		{ID: "a", SessionID: "s1", Data: []byte{1}, CreatedAt: old},
		{ID: "b", SessionID: "s1", Data: []byte{1}},
		{ID: "c", SessionID: "s2", Data: []byte{1}},
		{ID: "d", SessionID: "s2", Data: []byte{1}},
	} {
		if err := s.SaveImage(ctx, img); err != nil {
			t.Fatalf("SaveImage failed: %v", err)
		}
	}

	n, err := s.DeleteImagesBefore(ctx, time.Now().Add(-time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("DeleteImagesBefore = %d, %v; want 1", n, err)
	}
	if err := s.DeleteImages(ctx, "c"); err != nil {
		t.Fatalf("DeleteImages failed: %v", err)
	}
	if _, err := s.GetImage(ctx, "s2", "c"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("image c should be gone, got %v", err)
	}
	n, err = s.DeleteSessionImages(ctx, "s2")
	if err != nil || n != 1 {
		t.Fatalf("DeleteSessionImages = %d, %v; want 1", n, err)
	}
	if _, err := s.GetImage(ctx, "s1", "b"); err != nil {
		t.Errorf("image b should survive, got %v", err)
	}
}

func TestStoreSubscribe(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Subscribe(ctx, "Reader@Example.com"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := s.Subscribe(ctx, "reader@example.com"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("expected ErrAlreadySubscribed, got %v", err)
	}
	subs, err := s.ListSubscribers(ctx)
	if err != nil {
		t.Fatalf("ListSubscribers failed: %v", err)
	}
	if len(subs) != 1 || subs[0].Email != "reader@example.com" {
		t.Errorf("ListSubscribers = %+v", subs)
	}
}

func TestPostCache(t *testing.T) {
	s := setupTestStore(t)
	cache := NewPostCache(s, time.Hour)

	if err := s.SavePost(content.BlogPost{ID: "1", Title: "First", Date: "2024-01-01", Published: true}); err != nil {
		t.Fatal(err)
	}
	posts, err := cache.ListPosts()
	if err != nil || len(posts) != 1 {
		t.Fatalf("ListPosts = %v, %v", posts, err)
	}

	if err := s.SavePost(content.BlogPost{ID: "2", Title: "Second", Date: "2024-01-02", Published: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.GetPost("2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cache should still be stale, got %v", err)
	}

	cache.Invalidate()
	got, err := cache.GetPost("2")
	if err != nil || got.Title != "Second" {
		t.Errorf("GetPost after invalidate = %+v, %v", got, err)
	}
}
