package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category groups posts under a unique name.
type Category struct {
	ID       uuid.UUID   `json:"id"`
	Name     string      `json:"name"`
	AuthorID uuid.UUID   `json:"author"`
	Shares   int64       `json:"shares"`
	Posts    []uuid.UUID `json:"posts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCategory creates a category owned by authorID.
func NewCategory(authorID uuid.UUID, name string) *Category {
	now := time.Now().UTC()
	return &Category{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(name),
		AuthorID:  authorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidateCategoryName checks the category name.
func ValidateCategoryName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 64 {
		return ErrInvalidCategory
	}
	return nil
}
