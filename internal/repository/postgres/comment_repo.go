package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

const commentColumns = `id, message, author_id, post_id, created_at, updated_at`

// commentRepository implements repository.CommentRepository for PostgreSQL.
type commentRepository struct {
	db *DB
}

// NewCommentRepository creates a new PostgreSQL comment repository.
func NewCommentRepository(db *DB) repository.CommentRepository {
	return &commentRepository{db: db}
}

func scanComment(row pgx.Row) (*domain.Comment, error) {
	c := &domain.Comment{}
	if err := row.Scan(&c.ID, &c.Message, &c.AuthorID, &c.PostID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

// Create creates a new comment.
func (r *commentRepository) Create(ctx context.Context, comment *domain.Comment) error {
	_, err := r.db.conn(ctx).Exec(ctx,
		`INSERT INTO comments (`+commentColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		comment.ID, comment.Message, comment.AuthorID, comment.PostID, comment.CreatedAt, comment.UpdatedAt,
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
	c, err := scanComment(r.db.conn(ctx).QueryRow(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`, id,
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
	rows, err := r.db.conn(ctx).Query(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE post_id = $1 ORDER BY created_at`, postID,
	)
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

	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE comments SET message = $1, updated_at = $2 WHERE id = $3`,
		comment.Message, comment.UpdatedAt, comment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCommentNotFound
	}
	return nil
}

// Delete deletes a comment.
func (r *commentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCommentNotFound
	}
	return nil
}

// DeleteByPost deletes every comment on a post.
func (r *commentRepository) DeleteByPost(ctx context.Context, postID uuid.UUID) (int64, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM comments WHERE post_id = $1`, postID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete post comments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ensure commentRepository implements repository.CommentRepository.
var _ repository.CommentRepository = (*commentRepository)(nil)
