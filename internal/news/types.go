package news

import "time"

// Limits enforced across ingestion, matching and user settings.
const (
	DescriptionLimit    = 500
	MaxThemesPerUser    = 10
	MinArticleCount     = 1
	MaxArticleCount     = 30
	DefaultArticleCount = 5
)

// Source identifies a configured feed.
type Source string

const (
	SourceQiita  Source = "qiita"
	SourceZenn   Source = "zenn"
	SourceHatena Source = "hatena"
)

// Label returns the display name used in digests.
func (s Source) Label() string {
	switch s {
	case SourceQiita:
		return "Qiita"
	case SourceZenn:
		return "Zenn"
	case SourceHatena:
		return "Hatena Bookmark"
	default:
		return string(s)
	}
}

// RawArticle is a feed entry as fetched, before embedding and persistence.
// Empty Description and zero PublishedAt mean the feed did not provide them.
type RawArticle struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Source      Source    `json:"source"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Article is a persisted RawArticle. It always carries an embedding.
type Article struct {
	ID string `json:"id"`
	RawArticle
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredArticle is an Article with its best theme match.
type ScoredArticle struct {
	Article
	Score        float64 `json:"score"`
	MatchedTheme string  `json:"matched_theme"`
}

// User is a digest subscriber keyed by an external (messaging) identity.
type User struct {
	ID           string    `json:"id"`
	ExternalID   string    `json:"external_id"`
	ArticleCount int       `json:"article_count"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Theme is a named interest whose embedding is computed once at creation.
type Theme struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
