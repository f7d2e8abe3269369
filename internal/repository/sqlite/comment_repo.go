package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

// commentRepository implements repository.CommentRepository for SQLite.
type commentRepository struct {
	db *DB
}

// NewCommentRepository creates a new SQLite comment repository.
func NewCommentRepository(db *DB) repository.CommentRepository {
	return &commentRepository{db: db}
}

func scanComment(row rowScanner) (*domain.Comment, error) {
	c := &domain.Comment{}
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.Message, &c.AuthorID, &c.PostID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// Create creates a new comment.
func (r *commentRepository) Create(ctx context.Context, comment *domain.Comment) error {
	_, err := r.db.conn(ctx).ExecContext(ctx, `
		INSERT INTO comments (id, message, author_id, post_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		comment.ID, comment.Message, comment.AuthorID, comment.PostID,
		formatTime(comment.CreatedAt), formatTime(comment.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrPostNotFound
		}
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// GetByID retrieves a comment by ID.
func (r *commentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Comment, error) {
	c, err := scanComment(r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT id, message, author_id, post_id, created_at, updated_at FROM comments WHERE id = ?`, id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrCommentNotFound
		}
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}
	return c, nil
}

// ListByPost returns the comments on a post, oldest first.
func (r *commentRepository) ListByPost(ctx context.Context, postID uuid.UUID) ([]*domain.Comment, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, `
		SELECT id, message, author_id, post_id, created_at, updated_at
		FROM comments WHERE post_id = ? ORDER BY created_at
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := []*domain.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}
	return comments, nil
}

// Update persists the message of a comment.
func (r *commentRepository) Update(ctx context.Context, comment *domain.Comment) error {
	comment.UpdatedAt = time.Now().UTC()

	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE comments SET message = ?, updated_at = ? WHERE id = ?`,
		comment.Message, formatTime(comment.UpdatedAt), comment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update comment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrCommentNotFound
	}
	return nil
}

// Delete deletes a comment.
func (r *commentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrCommentNotFound
	}
	return nil
}

// DeleteByPost deletes every comment on a post.
func (r *commentRepository) DeleteByPost(ctx context.Context, postID uuid.UUID) (int64, error) {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM comments WHERE post_id = ?`, postID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete post comments: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Ensure commentRepository implements repository.CommentRepository.
var _ repository.CommentRepository = (*commentRepository)(nil)
