package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

const postColumns = `
	id, title, content, image_url, image_key, author_id, category_id,
	claps, shares, post_views, scheduled_published, is_published, created_at, updated_at`

// postRepository implements repository.PostRepository for PostgreSQL.
type postRepository struct {
	db *DB
}

// NewPostRepository creates a new PostgreSQL post repository.
func NewPostRepository(db *DB) repository.PostRepository {
	return &postRepository{db: db}
}

func scanPost(row pgx.Row) (*domain.Post, error) {
	post := &domain.Post{}
	err := row.Scan(
		&post.ID, &post.Title, &post.Content, &post.Image.URL, &post.Image.Key, &post.AuthorID, &post.CategoryID,
		&post.Claps, &post.Shares, &post.PostViews, &post.ScheduledPublished, &post.IsPublished,
		&post.CreatedAt, &post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return post, nil
}

func postWriteError(err error, post *domain.Post, action string) error {
	if isUniqueViolation(err) {
		return domain.NewDomainError(domain.ErrPostTitleTaken, "choose another title", post.Title)
	}
	if isForeignKeyViolation(err) {
		return domain.ErrCategoryNotFound
	}
	return fmt.Errorf("failed to %s post: %w", action, err)
}

// Create creates a new post.
func (r *postRepository) Create(ctx context.Context, post *domain.Post) error {
	query := `INSERT INTO posts (` + postColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.conn(ctx).Exec(ctx, query,
		post.ID, post.Title, post.Content, post.Image.URL, post.Image.Key, post.AuthorID, post.CategoryID,
		post.Claps, post.Shares, post.PostViews, post.ScheduledPublished, post.IsPublished,
		post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return postWriteError(err, post, "create")
	}
	return nil
}

// GetByID retrieves a post with its reaction and comment sets.
func (r *postRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	post, err := scanPost(r.db.conn(ctx).QueryRow(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`, id,
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
		`SELECT user_id FROM post_reactions WHERE post_id = $1 AND kind = 'like' ORDER BY created_at`, post.ID)
	if err != nil {
		return err
	}
	post.Dislikes, err = queryIDs(ctx, q,
		`SELECT user_id FROM post_reactions WHERE post_id = $1 AND kind = 'dislike' ORDER BY created_at`, post.ID)
	if err != nil {
		return err
	}
	post.Comments, err = queryIDs(ctx, q,
		`SELECT id FROM comments WHERE post_id = $1 ORDER BY created_at`, post.ID)
	return err
}

// Update persists the scalar fields of a post.
func (r *postRepository) Update(ctx context.Context, post *domain.Post) error {
	post.UpdatedAt = time.Now().UTC()

	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE posts SET
			title = $1, content = $2, image_url = $3, image_key = $4, category_id = $5,
			shares = $6, scheduled_published = $7, is_published = $8, updated_at = $9
		WHERE id = $10
	`,
		post.Title, post.Content, post.Image.URL, post.Image.Key, post.CategoryID,
		post.Shares, post.ScheduledPublished, post.IsPublished, post.UpdatedAt,
		post.ID,
	)
	if err != nil {
		return postWriteError(err, post, "update")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// Delete deletes the post row.
func (r *postRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if len(filter.ExcludeAuthors) > 0 {
		where = append(where, "NOT (author_id = ANY("+next(filter.ExcludeAuthors)+"))")
	}
	if !filter.VisibleAt.IsZero() {
		where = append(where, "(scheduled_published IS NULL OR scheduled_published <= "+next(filter.VisibleAt)+")")
	}
	if filter.AuthorID != nil {
		where = append(where, "author_id = "+next(*filter.AuthorID))
	}
	if filter.CategoryID != nil {
		where = append(where, "category_id = "+next(*filter.CategoryID))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := r.db.conn(ctx)

	var total int64
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM posts`+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + postColumns + ` FROM posts` + clause +
		` ORDER BY created_at DESC LIMIT ` + next(limit) + ` OFFSET ` + next(filter.Offset)

	rows, err := q.Query(ctx, query, args...)
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
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}

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
	err := r.db.conn(ctx).QueryRow(ctx,
		`SELECT kind FROM post_reactions WHERE post_id = $1 AND user_id = $2`, postID, userID,
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
	_, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO post_reactions (post_id, user_id, kind)
		VALUES ($1, $2, $3)
		ON CONFLICT (post_id, user_id) DO UPDATE SET kind = EXCLUDED.kind, created_at = NOW()
	`, postID, userID, string(reaction))
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
	_, err := r.db.conn(ctx).Exec(ctx,
		`DELETE FROM post_reactions WHERE post_id = $1 AND user_id = $2`, postID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear reaction: %w", err)
	}
	return nil
}

// DeleteReactions removes every reaction on postID.
func (r *postRepository) DeleteReactions(ctx context.Context, postID uuid.UUID) (int64, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM post_reactions WHERE post_id = $1`, postID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IncrementClaps adds one clap and returns the new count.
func (r *postRepository) IncrementClaps(ctx context.Context, id uuid.UUID) (int64, error) {
	var claps int64
	err := r.db.conn(ctx).QueryRow(ctx,
		`UPDATE posts SET claps = claps + 1 WHERE id = $1 RETURNING claps`, id,
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
	tag, err := r.db.conn(ctx).Exec(ctx, `UPDATE posts SET post_views = post_views + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to count post view: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// ClearCategory detaches every post from categoryID.
func (r *postRepository) ClearCategory(ctx context.Context, categoryID uuid.UUID) (int64, error) {
	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE posts SET category_id = NULL WHERE category_id = $1`, categoryID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear post category: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ensure postRepository implements repository.PostRepository.
var _ repository.PostRepository = (*postRepository)(nil)
