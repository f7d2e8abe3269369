package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Comment is a message left by a user on a post.
type Comment struct {
	ID       uuid.UUID `json:"id"`
	Message  string    `json:"message"`
	AuthorID uuid.UUID `json:"author"`
	PostID   uuid.UUID `json:"post"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewComment creates a comment by authorID on postID.
func NewComment(authorID, postID uuid.UUID, message string) *Comment {
	now := time.Now().UTC()
	return &Comment{
		ID:        uuid.New(),
		Message:   strings.TrimSpace(message),
		AuthorID:  authorID,
		PostID:    postID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidateCommentMessage checks the message length (1-500 characters).
func ValidateCommentMessage(message string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(message))
	if n < 1 || n > 500 {
		return ErrInvalidComment
	}
	return nil
}
