package aether

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eringen/aether/content"
)

// Store wraps a SQLite database holding posts, rendered images and
// newsletter subscribers.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets readers proceed while a writer holds the lock; busy_timeout
	// makes writers wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
		PRAGMA cache_size=-8000;
		PRAGMA mmap_size=268435456;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    slug TEXT NOT NULL,
    title TEXT NOT NULL,
    date TEXT NOT NULL,
    excerpt TEXT NOT NULL,
    content TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    image TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT ',,',
    published INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS images (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    prompt TEXT NOT NULL,
    params_json TEXT NOT NULL,
    content_type TEXT NOT NULL,
    data BLOB NOT NULL,
    thumb BLOB,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_images_session ON images(session_id);

CREATE TABLE IF NOT EXISTS subscribers (
    email TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);
`)
	return err
}

const postColumns = `id, slug, title, date, excerpt, content, category, image, tags, published`

func scanPost(sc interface{ Scan(...any) error }) (content.BlogPost, error) {
	var p content.BlogPost
	var tags string
	var published int
	if err := sc.Scan(&p.ID, &p.Slug, &p.Title, &p.Date, &p.Excerpt, &p.Content, &p.Category, &p.Image, &tags, &published); err != nil {
		return content.BlogPost{}, err
	}
	p.Tags = ParseTags(tags)
	p.Published = published == 1
	p.Draft = !p.Published
	return p, nil
}

func (s *Store) queryPosts(query string, args ...any) ([]content.BlogPost, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []content.BlogPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ListPosts returns all published posts ordered by date descending.
func (s *Store) ListPosts() ([]content.BlogPost, error) {
	return s.queryPosts(`SELECT ` + postColumns + ` FROM posts WHERE published = 1 ORDER BY date DESC, id DESC`)
}

// ListAllPosts returns every post (published and drafts) ordered by date descending.
func (s *Store) ListAllPosts() ([]content.BlogPost, error) {
	return s.queryPosts(`SELECT ` + postColumns + ` FROM posts ORDER BY date DESC, id DESC`)
}

// GetPost returns a single published post by ID.
func (s *Store) GetPost(id string) (content.BlogPost, error) {
	return scanPost(s.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE id = ? AND published = 1`, id))
}

// SavePost upserts a blog post. Tags are normalized to lowercase.
func (s *Store) SavePost(p content.BlogPost) error {
	normalizedTags := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		if t = normalizeTag(t); t != "" {
			normalizedTags = append(normalizedTags, t)
		}
	}
	tagString := "," + strings.Join(normalizedTags, ",") + ","
	published := 0
	if p.Published {
		published = 1
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO posts (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Slug, p.Title, p.Date, p.Excerpt, p.Content, p.Category, p.Image, tagString, published)
	return err
}

// DeletePost removes a post by ID.
func (s *Store) DeletePost(id string) error {
	_, err := s.db.Exec(`DELETE FROM posts WHERE id = ?`, id)
	return err
}

// ParseTags splits a comma-delimited tag string (e.g. ",go,web,") into a slice.
func ParseTags(tagString string) []string {
	tagString = strings.Trim(tagString, ",")
	if tagString == "" {
		return nil
	}
	return FilterEmpty(strings.Split(tagString, ","))
}

// SaveImage stores a rendered image.
func (s *Store) SaveImage(ctx context.Context, img StoredImage) error {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO images (id, session_id, prompt, params_json, content_type, data, thumb, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.SessionID, img.Prompt, img.ParamsJSON, img.ContentType, img.Data, img.Thumb, img.CreatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save image %s: %w", img.ID, err)
	}
	return nil
}

// GetImage returns an image owned by sessionID. Images of other sessions are
// reported as sql.ErrNoRows.
func (s *Store) GetImage(ctx context.Context, sessionID, id string) (StoredImage, error) {
	var img StoredImage
	var created int64
	err := s.db.QueryRowContext(ctx, `SELECT id, session_id, prompt, params_json, content_type, data, thumb, created_at
		FROM images WHERE id = ? AND session_id = ?`, id, sessionID).
		Scan(&img.ID, &img.SessionID, &img.Prompt, &img.ParamsJSON, &img.ContentType, &img.Data, &img.Thumb, &created)
	if err != nil {
		return StoredImage{}, err
	}
	img.CreatedAt = time.UnixMilli(created).UTC()
	return img, nil
}

// DeleteImages removes images by ID.
func (s *Store) DeleteImages(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete image %s: %w", id, err)
		}
	}
	return nil
}

// DeleteSessionImages removes every image owned by sessionID.
func (s *Store) DeleteSessionImages(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteImagesBefore removes images created before t, used at startup to
// drop renders whose in-memory history is gone.
func (s *Store) DeleteImagesBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE created_at < ?`, t.UTC().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ErrAlreadySubscribed is returned by Subscribe for a known address.
var ErrAlreadySubscribed = errors.New("already subscribed")

// Subscribe records a newsletter sign-up. Emails are compared lowercased.
func (s *Store) Subscribe(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO subscribers (email, created_at) VALUES (?, ?)`,
		email, time.Now().UTC().Unix())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadySubscribed
	}
	return nil
}

// ListSubscribers returns subscribers newest first.
func (s *Store) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, created_at FROM subscribers ORDER BY created_at DESC, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscriber
	for rows.Next() {
		var sub Subscriber
		var created int64
		if err := rows.Scan(&sub.Email, &created); err != nil {
			return nil, err
		}
		sub.CreatedAt = time.Unix(created, 0).UTC()
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
