package content

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbedded(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Aether", s.Name)
	require.Len(t, s.Nav, 3)
	assert.Equal(t, Link{Label: "Articles", Href: "#blog"}, s.Nav[0])
	assert.Len(t, s.Features.Items, 3)
	assert.NotEmpty(t, s.Chat.Greeting)

	var ids []string
	for _, p := range s.Posts {
		ids = append(ids, p.ID)
		assert.True(t, p.Published, "post %s should be published", p.ID)
		assert.NotEmpty(t, p.Slug)
	}
	if diff := cmp.Diff([]string{"4", "1", "2", "3"}, ids); diff != "" {
		t.Errorf("post order mismatch (-want +got):\n%s", diff)
	}
}

func TestPostTwo(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	var post BlogPost
	for _, p := range s.Posts {
		if p.ID == "2" {
			post = p
		}
	}
	assert.Equal(t, "Glassmorphism vs. Neomorphism: The Visual War", post.Title)
	assert.Equal(t, "glassmorphism-vs-neomorphism-the-visual-war", post.Slug)
	assert.Equal(t, "/blog/2/", post.Link())
	assert.Equal(t, "Sep 12, 2025", post.DisplayDate())
	assert.Contains(t, post.Content, "Glassmorphism provides the depth")
}

func TestParseRejectsBadPosts(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing id", "posts:\n  - title: a\n    date: \"2025-01-01\"\n"},
		{"duplicate id", "posts:\n  - id: \"1\"\n    title: a\n    date: \"2025-01-01\"\n  - id: \"1\"\n    title: b\n    date: \"2025-01-02\"\n"},
		{"missing title", "posts:\n  - id: \"1\"\n    date: \"2025-01-01\"\n"},
		{"bad date", "posts:\n  - id: \"1\"\n    title: a\n    date: Oct 28\n"},
		{"not yaml", "posts: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseDraft(t *testing.T) {
	s, err := Parse([]byte("posts:\n  - id: \"9\"\n    title: Hidden\n    date: \"2025-01-01\"\n    draft: true\n"))
	require.NoError(t, err)
	require.Len(t, s.Posts, 1)
	assert.False(t, s.Posts[0].Published)
}

type memWriter struct {
	saved []string
	fail  string
}

func (m *memWriter) SavePost(p BlogPost) error {
	if p.ID == m.fail {
		return errors.New("disk full")
	}
	m.saved = append(m.saved, p.ID)
	return nil
}

func TestSeed(t *testing.T) {
	posts := []BlogPost{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	w := &memWriter{}
	n, err := Seed(w, posts)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, w.saved)

	w = &memWriter{fail: "b"}
	n, err = Seed(w, posts)
	assert.ErrorContains(t, err, `"b"`)
	assert.Equal(t, 1, n)

	_, err = Seed(nil, posts)
	assert.Error(t, err)
}

func TestRelated(t *testing.T) {
	posts := []BlogPost{
		{ID: "1", Category: "Design", Tags: []string{"ui"}},
		{ID: "2", Category: "Engineering", Tags: []string{"edge"}},
		{ID: "3", Category: "design"},
		{ID: "4", Category: "Ops", Tags: []string{"UI "}},
		{ID: "5", Category: "Ops"},
	}
	got := Related(posts[0], posts, 0)
	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"3", "4"}, ids)

	assert.Len(t, Related(posts[0], posts, 1), 1)
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Hello World":           "hello-world",
		"  Go: the  Good Parts ": "go-the-good-parts",
		"100% Edge!":            "100-edge",
		"":                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), "Slugify(%q)", in)
	}
}
