package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

const postColumns = `
	id, title, content, image_url, image_key, author_id, category_id,
	claps, shares, post_views, scheduled_published, is_published, created_at, updated_at`

// postRepository implements repository.PostRepository for SQLite.
type postRepository struct {
	db *DB
}

// NewPostRepository creates a new SQLite post repository.
func NewPostRepository(db *DB) repository.PostRepository {
	return &postRepository{db: db}
}

func scanPost(row rowScanner) (*domain.Post, error) {
	post := &domain.Post{}
	var (
		categoryID           uuid.NullUUID
		scheduled            sql.NullString
		isPublished          int
		createdAt, updatedAt string
	)

	err := row.Scan(
		&post.ID, &post.Title, &post.Content, &post.Image.URL, &post.Image.Key, &post.AuthorID, &categoryID,
		&post.Claps, &post.Shares, &post.PostViews, &scheduled, &isPublished, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if categoryID.Valid {
		id := categoryID.UUID
		post.CategoryID = &id
	}
	post.ScheduledPublished = timePtr(scheduled)
	post.IsPublished = isPublished != 0
	post.CreatedAt = parseTime(createdAt)
	post.UpdatedAt = parseTime(updatedAt)

	return post, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// Create creates a new post.
func (r *postRepository) Create(ctx context.Context, post *domain.Post) error {
	query := `INSERT INTO posts (` + postColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		post.ID, post.Title, post.Content, post.Image.URL, post.Image.Key, post.AuthorID, nullUUID(post.CategoryID),
		post.Claps, post.Shares, post.PostViews, nullTime(post.ScheduledPublished), boolToInt(post.IsPublished),
		formatTime(post.CreatedAt), formatTime(post.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrPostTitleTaken, "choose another title", post.Title)
		}
		if isForeignKeyViolation(err) {
			return domain.ErrCategoryNotFound
		}
		return fmt.Errorf("failed to create post: %w", err)
	}

	return nil
}

// GetByID retrieves a post with its reaction and comment sets.
func (r *postRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	post, err := scanPost(r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = ?`, id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	if err := r.loadSets(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

func (r *postRepository) loadSets(ctx context.Context, post *domain.Post) error {
	q := r.db.conn(ctx)
	var err error

	post.Likes, err = queryIDs(ctx, q,
		`SELECT user_id FROM post_reactions WHERE post_id = ? AND kind = 'like' ORDER BY created_at`, post.ID)
	if err != nil {
		return err
	}
	post.Dislikes, err = queryIDs(ctx, q,
		`SELECT user_id FROM post_reactions WHERE post_id = ? AND kind = 'dislike' ORDER BY created_at`, post.ID)
	if err != nil {
		return err
	}
	post.Comments, err = queryIDs(ctx, q,
		`SELECT id FROM comments WHERE post_id = ? ORDER BY created_at`, post.ID)
	return err
}

// Update persists the scalar fields of a post.
func (r *postRepository) Update(ctx context.Context, post *domain.Post) error {
	post.UpdatedAt = time.Now().UTC()

	result, err := r.db.conn(ctx).ExecContext(ctx, `
		UPDATE posts SET
			title = ?, content = ?, image_url = ?, image_key = ?, category_id = ?,
			shares = ?, scheduled_published = ?, is_published = ?, updated_at = ?
		WHERE id = ?
	`,
		post.Title, post.Content, post.Image.URL, post.Image.Key, nullUUID(post.CategoryID),
		post.Shares, nullTime(post.ScheduledPublished), boolToInt(post.IsPublished), formatTime(post.UpdatedAt),
		post.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrPostTitleTaken, "choose another title", post.Title)
		}
		if isForeignKeyViolation(err) {
			return domain.ErrCategoryNotFound
		}
		return fmt.Errorf("failed to update post: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// Delete deletes the post row.
func (r *postRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// List returns posts matching the filter, newest first.
func (r *postRepository) List(ctx context.Context, filter repository.PostFilter) (*repository.ListResult[domain.Post], error) {
	var (
		where []string
		args  []any
	)

	if len(filter.ExcludeAuthors) > 0 {
		marks := make([]string, len(filter.ExcludeAuthors))
		for i, id := range filter.ExcludeAuthors {
			marks[i] = "?"
			args = append(args, id)
		}
		where = append(where, "author_id NOT IN ("+strings.Join(marks, ", ")+")")
	}
	if !filter.VisibleAt.IsZero() {
		where = append(where, "(scheduled_published IS NULL OR scheduled_published <= ?)")
		args = append(args, formatTime(filter.VisibleAt))
	}
	if filter.AuthorID != nil {
		where = append(where, "author_id = ?")
		args = append(args, *filter.AuthorID)
	}
	if filter.CategoryID != nil {
		where = append(where, "category_id = ?")
		args = append(args, *filter.CategoryID)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := r.db.conn(ctx)

	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts`+clause+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	var posts []*domain.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	// Close before loading sets; SQLite runs on a single connection.
	rows.Close()

	for _, post := range posts {
		if err := r.loadSets(ctx, post); err != nil {
			return nil, err
		}
	}

	return &repository.ListResult[domain.Post]{
		Items:  posts,
		Total:  total,
		Offset: filter.Offset,
		Limit:  limit,
	}, nil
}

// GetReaction returns the reaction of userID on postID.
func (r *postRepository) GetReaction(ctx context.Context, postID, userID uuid.UUID) (domain.Reaction, error) {
	var kind string
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT kind FROM post_reactions WHERE post_id = ? AND user_id = ?`, postID, userID,
	).Scan(&kind)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get reaction: %w", err)
	}
	return domain.Reaction(kind), nil
}

// SetReaction sets the single reaction of userID on postID.
func (r *postRepository) SetReaction(ctx context.Context, postID, userID uuid.UUID, reaction domain.Reaction) error {
	_, err := r.db.conn(ctx).ExecContext(ctx, `
		INSERT INTO post_reactions (post_id, user_id, kind, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (post_id, user_id) DO UPDATE SET kind = excluded.kind, created_at = excluded.created_at
	`, postID, userID, string(reaction), formatTime(time.Now()))
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrPostNotFound
		}
		return fmt.Errorf("failed to set reaction: %w", err)
	}
	return nil
}

// ClearReaction removes the reaction of userID on postID.
func (r *postRepository) ClearReaction(ctx context.Context, postID, userID uuid.UUID) error {
	_, err := r.db.conn(ctx).ExecContext(ctx,
		`DELETE FROM post_reactions WHERE post_id = ? AND user_id = ?`, postID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear reaction: %w", err)
	}
	return nil
}

// DeleteReactions removes every reaction on postID.
func (r *postRepository) DeleteReactions(ctx context.Context, postID uuid.UUID) (int64, error) {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM post_reactions WHERE post_id = ?`, postID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reactions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// IncrementClaps adds one clap and returns the new count.
func (r *postRepository) IncrementClaps(ctx context.Context, id uuid.UUID) (int64, error) {
	var claps int64
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`UPDATE posts SET claps = claps + 1 WHERE id = ? RETURNING claps`, id,
	).Scan(&claps)
	if err != nil {
		if isNoRows(err) {
			return 0, domain.ErrPostNotFound
		}
		return 0, fmt.Errorf("failed to clap post: %w", err)
	}
	return claps, nil
}

// IncrementViews adds one view.
func (r *postRepository) IncrementViews(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `UPDATE posts SET post_views = post_views + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to count post view: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// ClearCategory detaches every post from categoryID.
func (r *postRepository) ClearCategory(ctx context.Context, categoryID uuid.UUID) (int64, error) {
	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE posts SET category_id = NULL WHERE category_id = ?`, categoryID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear post category: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// Ensure postRepository implements repository.PostRepository.
var _ repository.PostRepository = (*postRepository)(nil)
