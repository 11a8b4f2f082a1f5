// Package content holds the site's static copy and post table. Everything is
// read from an embedded YAML document so the binary carries its own content.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed site.yaml
var siteYAML []byte

// DateLayout is the storage format for post dates.
const DateLayout = "2006-01-02"

// BlogPost is the core content type stored in SQLite and rendered by templates.
type BlogPost struct {
	ID        string   `yaml:"id"`
	Slug      string   `yaml:"slug"`
	Title     string   `yaml:"title"`
	Date      string   `yaml:"date"`
	Excerpt   string   `yaml:"excerpt"`
	Content   string   `yaml:"content"`
	Category  string   `yaml:"category"`
	Image     string   `yaml:"image"`
	Tags      []string `yaml:"tags"`
	Published bool     `yaml:"-"`
	Draft     bool     `yaml:"draft"`
}

// Link is the site-relative URL of the post detail page.
func (p BlogPost) Link() string {
	return "/blog/" + p.ID + "/"
}

// Time parses Date. A malformed date yields the zero time.
func (p BlogPost) Time() time.Time {
	t, err := time.Parse(DateLayout, p.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DisplayDate formats Date for humans, e.g. "Oct 28, 2025".
func (p BlogPost) DisplayDate() string {
	t := p.Time()
	if t.IsZero() {
		return p.Date
	}
	return t.Format("Jan 02, 2006")
}

// Link is a labelled href.
type Link struct {
	Label string `yaml:"label"`
	Href  string `yaml:"href"`
}

type Hero struct {
	Badge     string `yaml:"badge"`
	Title     string `yaml:"title"`
	Highlight string `yaml:"highlight"`
	Subtitle  string `yaml:"subtitle"`
	Primary   Link   `yaml:"primary"`
	Secondary Link   `yaml:"secondary"`
	Preview   string `yaml:"preview"`
}

type Feature struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
}

type Callout struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
	Label string `yaml:"label"`
	Href  string `yaml:"href"`
}

type Features struct {
	Eyebrow string    `yaml:"eyebrow"`
	Title   string    `yaml:"title"`
	Items   []Feature `yaml:"items"`
	Callout Callout   `yaml:"callout"`
}

// Section is the heading block shared by most page sections.
type Section struct {
	Eyebrow     string `yaml:"eyebrow"`
	Title       string `yaml:"title"`
	Blurb       string `yaml:"blurb"`
	Greeting    string `yaml:"greeting"`
	Placeholder string `yaml:"placeholder"`
}

type Newsletter struct {
	Title   string `yaml:"title"`
	Body    string `yaml:"body"`
	Button  string `yaml:"button"`
	Success string `yaml:"success"`
}

type Channel struct {
	Label  string `yaml:"label"`
	Value  string `yaml:"value"`
	Href   string `yaml:"href"`
	Action string `yaml:"action"`
}

type Contact struct {
	Eyebrow  string    `yaml:"eyebrow"`
	Title    string    `yaml:"title"`
	Body     string    `yaml:"body"`
	Channels []Channel `yaml:"channels"`
	CTA      Callout   `yaml:"cta"`
}

type FooterColumn struct {
	Title string `yaml:"title"`
	Links []Link `yaml:"links"`
}

type Footer struct {
	About     string         `yaml:"about"`
	Copyright string         `yaml:"copyright"`
	Columns   []FooterColumn `yaml:"columns"`
}

// Site is the whole content table.
type Site struct {
	Name        string     `yaml:"name"`
	Tagline     string     `yaml:"tagline"`
	Description string     `yaml:"description"`
	Nav         []Link     `yaml:"nav"`
	Hero        Hero       `yaml:"hero"`
	Features    Features   `yaml:"features"`
	Blog        Section    `yaml:"blog"`
	Chat        Section    `yaml:"chat"`
	Image       Section    `yaml:"image"`
	Newsletter  Newsletter `yaml:"newsletter"`
	Contact     Contact    `yaml:"contact"`
	Footer      Footer     `yaml:"footer"`
	Posts       []BlogPost `yaml:"posts"`
}

// Load parses the embedded content table.
func Load() (*Site, error) {
	return Parse(siteYAML)
}

// Parse decodes and validates a content document. Post IDs must be unique;
// slugs default to the slugified title.
func Parse(data []byte) (*Site, error) {
	var s Site
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("content: decode: %w", err)
	}
	seen := make(map[string]struct{}, len(s.Posts))
	for i := range s.Posts {
		p := &s.Posts[i]
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("content: post %d has no id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("content: duplicate post id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if strings.TrimSpace(p.Title) == "" {
			return nil, fmt.Errorf("content: post %q has no title", p.ID)
		}
		if _, err := time.Parse(DateLayout, p.Date); err != nil {
			return nil, fmt.Errorf("content: post %q: bad date %q", p.ID, p.Date)
		}
		if p.Slug == "" {
			p.Slug = Slugify(p.Title)
		}
		p.Published = !p.Draft
	}
	return &s, nil
}

// PostWriter is the persistence side of seeding.
type PostWriter interface {
	SavePost(p BlogPost) error
}

// Seed upserts every post into w and returns how many were written.
func Seed(w PostWriter, posts []BlogPost) (int, error) {
	if w == nil {
		return 0, errors.New("content: nil post writer")
	}
	for i, p := range posts {
		if err := w.SavePost(p); err != nil {
			return i, fmt.Errorf("content: seed post %q: %w", p.ID, err)
		}
	}
	return len(posts), nil
}

// Slugify converts a title to a URL-safe slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prev := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prev = false
		default:
			if !prev && b.Len() > 0 {
				b.WriteByte('-')
				prev = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// Related returns up to limit posts sharing current's category or at least
// one tag, in the order given. limit <= 0 means no limit.
func Related(current BlogPost, posts []BlogPost, limit int) []BlogPost {
	tagSet := make(map[string]struct{})
	for _, t := range current.Tags {
		if tag := normalize(t); tag != "" {
			tagSet[tag] = struct{}{}
		}
	}
	category := normalize(current.Category)
	var related []BlogPost
	for _, p := range posts {
		if p.ID == current.ID {
			continue
		}
		if category != "" && normalize(p.Category) == category {
			related = append(related, p)
		} else {
			for _, t := range p.Tags {
				if _, ok := tagSet[normalize(t)]; ok {
					related = append(related, p)
					break
				}
			}
		}
		if limit > 0 && len(related) == limit {
			break
		}
	}
	return related
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
