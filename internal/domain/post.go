package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Post is an article written by a user.
type Post struct {
	ID         uuid.UUID  `json:"id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Image      Image      `json:"image"`
	AuthorID   uuid.UUID  `json:"author"`
	CategoryID *uuid.UUID `json:"category,omitempty"`

	Claps     int64 `json:"claps"`
	Shares    int64 `json:"shares"`
	PostViews int64 `json:"post_views"`

	// ScheduledPublished is when the post becomes visible in feeds.
	ScheduledPublished *time.Time `json:"scheduled_published,omitempty"`
	IsPublished        bool       `json:"is_published"`

	// Likes, Dislikes and Comments are sets of ids loaded with the post.
	Likes    []uuid.UUID `json:"likes"`
	Dislikes []uuid.UUID `json:"dislikes"`
	Comments []uuid.UUID `json:"comments"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PostView is a post with its derived counters, as returned to clients.
type PostView struct {
	*Post
	LikesCount    int `json:"likes_count"`
	DislikesCount int `json:"dislikes_count"`
	CommentsCount int `json:"comments_count"`
}

// NewPostView wraps a post with its counters.
func NewPostView(p *Post) PostView {
	return PostView{
		Post:          p,
		LikesCount:    len(p.Likes),
		DislikesCount: len(p.Dislikes),
		CommentsCount: len(p.Comments),
	}
}

// NewPost creates a published post owned by authorID.
func NewPost(authorID uuid.UUID, title, content string) *Post {
	now := time.Now().UTC()
	return &Post{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(title),
		Content:     content,
		AuthorID:    authorID,
		IsPublished: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsVisibleAt reports whether the post has reached its scheduled time.
func (p *Post) IsVisibleAt(now time.Time) bool {
	return p.ScheduledPublished == nil || !p.ScheduledPublished.After(now)
}

// IsOwnedBy reports whether userID authored the post.
func (p *Post) IsOwnedBy(userID uuid.UUID) bool {
	return p.AuthorID == userID
}

// ValidatePost checks the title and content.
func ValidatePost(title, content string) error {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > 200 || strings.TrimSpace(content) == "" {
		return ErrInvalidPost
	}
	return nil
}

// Reaction is a like or dislike on a post.
type Reaction string

const (
	ReactionLike    Reaction = "like"
	ReactionDislike Reaction = "dislike"
)
