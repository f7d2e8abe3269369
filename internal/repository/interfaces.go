// Package repository defines data access interfaces for quill.
// These interfaces abstract database operations, allowing for different implementations
// (PostgreSQL, SQLite, in-memory for testing) while keeping the service layer clean.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/quill/internal/domain"
)

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for user data access.
// Implementations return domain.ErrUserNotFound and domain.ErrUserAlreadyExists.
type UserRepository interface {
	// Create creates a new user.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByUsername retrieves a user by username.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByPasswordResetDigest retrieves the user holding the given reset token digest.
	GetByPasswordResetDigest(ctx context.Context, digest string) (*domain.User, error)

	// GetByVerificationDigest retrieves the user holding the given verification token digest.
	GetByVerificationDigest(ctx context.Context, digest string) (*domain.User, error)

	// Update persists every scalar field of an existing user.
	Update(ctx context.Context, user *domain.User) error

	// List returns users with pagination, soft deleted ones included.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.User], error)

	// ExistsByUsername checks if a user with the given username exists.
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// ExistsByEmail checks if a user with the given email exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// CountExpiredSecrets counts outstanding secrets that expired before now.
	CountExpiredSecrets(ctx context.Context, now time.Time) (int64, error)

	// ClearExpiredSecrets clears every secret that expired before now.
	// Returns the number of user rows touched.
	ClearExpiredSecrets(ctx context.Context, now time.Time) (int64, error)
}

// =============================================================================
// Relationship Repository
// =============================================================================

// RelationshipRepository stores the social graph between users.
// Each follow is a single row, so following(A) contains B exactly when
// followers(B) contains A.
type RelationshipRepository interface {
	// Follow records that follower follows followee. Repeat calls are no-ops.
	Follow(ctx context.Context, followerID, followeeID uuid.UUID) error

	// Unfollow removes the follow if present. Repeat calls are no-ops.
	Unfollow(ctx context.Context, followerID, followeeID uuid.UUID) error

	// Block records that blocker blocks blocked.
	// Returns false if the block already existed.
	Block(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)

	// Unblock removes the block.
	// Returns false if there was no block.
	Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)

	// RecordProfileView adds viewer to subject's viewers if not already present.
	RecordProfileView(ctx context.Context, subjectID, viewerID uuid.UUID) error

	// BlockersOf returns the users that have blocked userID.
	BlockersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	// Relations loads every relationship set and content reference of userID.
	Relations(ctx context.Context, userID uuid.UUID) (*domain.Relations, error)
}

// =============================================================================
// Post Repository
// =============================================================================

// PostRepository defines the interface for post data access.
// Implementations return domain.ErrPostNotFound and domain.ErrPostTitleTaken.
type PostRepository interface {
	// Create creates a new post.
	Create(ctx context.Context, post *domain.Post) error

	// GetByID retrieves a post with its likes, dislikes and comment ids.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Post, error)

	// Update persists the scalar fields of an existing post.
	Update(ctx context.Context, post *domain.Post) error

	// Delete deletes the post row only. Dependents are removed by the caller.
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns posts matching the filter, newest first.
	List(ctx context.Context, filter PostFilter) (*ListResult[domain.Post], error)

	// GetReaction returns the reaction of userID on postID, or "" if none.
	GetReaction(ctx context.Context, postID, userID uuid.UUID) (domain.Reaction, error)

	// SetReaction sets the single reaction of userID on postID.
	SetReaction(ctx context.Context, postID, userID uuid.UUID, reaction domain.Reaction) error

	// ClearReaction removes the reaction of userID on postID.
	ClearReaction(ctx context.Context, postID, userID uuid.UUID) error

	// DeleteReactions removes every like and dislike on postID.
	DeleteReactions(ctx context.Context, postID uuid.UUID) (int64, error)

	// IncrementClaps atomically adds one clap and returns the new count.
	IncrementClaps(ctx context.Context, id uuid.UUID) (int64, error)

	// IncrementViews atomically adds one view.
	IncrementViews(ctx context.Context, id uuid.UUID) error

	// ClearCategory detaches every post from categoryID.
	ClearCategory(ctx context.Context, categoryID uuid.UUID) (int64, error)
}

// PostFilter narrows a post listing.
type PostFilter struct {
	ListOptions

	// ExcludeAuthors drops posts written by any of these users.
	ExcludeAuthors []uuid.UUID

	// VisibleAt drops posts scheduled after this time when non-zero.
	VisibleAt time.Time

	// AuthorID restricts to one author when set.
	AuthorID *uuid.UUID

	// CategoryID restricts to one category when set.
	CategoryID *uuid.UUID
}

// =============================================================================
// Category Repository
// =============================================================================

// CategoryRepository defines the interface for category data access.
// Implementations return domain.ErrCategoryNotFound and domain.ErrCategoryExists.
type CategoryRepository interface {
	// Create creates a new category.
	Create(ctx context.Context, category *domain.Category) error

	// GetByID retrieves a category with its post ids.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Category, error)

	// List returns every category ordered by name.
	List(ctx context.Context) ([]*domain.Category, error)

	// Update persists the name of an existing category.
	Update(ctx context.Context, category *domain.Category) error

	// Delete deletes a category.
	Delete(ctx context.Context, id uuid.UUID) error
}

// =============================================================================
// Comment Repository
// =============================================================================

// CommentRepository defines the interface for comment data access.
// Implementations return domain.ErrCommentNotFound.
type CommentRepository interface {
	// Create creates a new comment.
	Create(ctx context.Context, comment *domain.Comment) error

	// GetByID retrieves a comment by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Comment, error)

	// ListByPost returns the comments on a post, oldest first.
	ListByPost(ctx context.Context, postID uuid.UUID) ([]*domain.Comment, error)

	// Update persists the message of an existing comment.
	Update(ctx context.Context, comment *domain.Comment) error

	// Delete deletes a comment.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteByPost deletes every comment on a post.
	DeleteByPost(ctx context.Context, postID uuid.UUID) (int64, error)
}

// =============================================================================
// Common Types
// =============================================================================

// ListOptions contains common pagination options.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int
}

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// Total is the total number of items (without pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the current limit.
	Limit int
}

// =============================================================================
// Transaction Support
// =============================================================================

// TxManager defines the interface for transaction management.
type TxManager interface {
	// WithTx executes the given function within a transaction.
	// Repository calls made with the context passed to fn join the transaction.
	// If the function returns an error, the transaction is rolled back.
	// If the function succeeds, the transaction is committed.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
