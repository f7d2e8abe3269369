package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

// relationshipRepository implements repository.RelationshipRepository for SQLite.
type relationshipRepository struct {
	db *DB
}

// NewRelationshipRepository creates a new SQLite relationship repository.
func NewRelationshipRepository(db *DB) repository.RelationshipRepository {
	return &relationshipRepository{db: db}
}

// Follow records a follow. Repeat calls are no-ops.
func (r *relationshipRepository) Follow(ctx context.Context, followerID, followeeID uuid.UUID) error {
	_, err := r.db.conn(ctx).ExecContext(ctx, `
		INSERT INTO user_follows (follower_id, followee_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (follower_id, followee_id) DO NOTHING
	`, followerID, followeeID, formatTime(time.Now()))
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("failed to follow user: %w", err)
	}
	return nil
}

// Unfollow removes a follow if present.
func (r *relationshipRepository) Unfollow(ctx context.Context, followerID, followeeID uuid.UUID) error {
	_, err := r.db.conn(ctx).ExecContext(ctx,
		`DELETE FROM user_follows WHERE follower_id = ? AND followee_id = ?`,
		followerID, followeeID,
	)
	if err != nil {
		return fmt.Errorf("failed to unfollow user: %w", err)
	}
	return nil
}

// Block records a block. Returns false if it already existed.
func (r *relationshipRepository) Block(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	result, err := r.db.conn(ctx).ExecContext(ctx, `
		INSERT INTO user_blocks (blocker_id, blocked_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING
	`, blockerID, blockedID, formatTime(time.Now()))
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, domain.ErrUserNotFound
		}
		return false, fmt.Errorf("failed to block user: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Unblock removes a block. Returns false if there was none.
func (r *relationshipRepository) Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	result, err := r.db.conn(ctx).ExecContext(ctx,
		`DELETE FROM user_blocks WHERE blocker_id = ? AND blocked_id = ?`,
		blockerID, blockedID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to unblock user: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// RecordProfileView adds a viewer once.
func (r *relationshipRepository) RecordProfileView(ctx context.Context, subjectID, viewerID uuid.UUID) error {
	_, err := r.db.conn(ctx).ExecContext(ctx, `
		INSERT INTO profile_views (subject_id, viewer_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (subject_id, viewer_id) DO NOTHING
	`, subjectID, viewerID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record profile view: %w", err)
	}
	return nil
}

// BlockersOf returns the users that have blocked userID.
func (r *relationshipRepository) BlockersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return r.ids(ctx, `SELECT blocker_id FROM user_blocks WHERE blocked_id = ? ORDER BY created_at`, userID)
}

// Relations loads every relationship set and content reference of userID.
func (r *relationshipRepository) Relations(ctx context.Context, userID uuid.UUID) (*domain.Relations, error) {
	rel := &domain.Relations{}
	queries := []struct {
		dest  *[]uuid.UUID
		query string
	}{
		{&rel.Followers, `SELECT follower_id FROM user_follows WHERE followee_id = ? ORDER BY created_at`},
		{&rel.Following, `SELECT followee_id FROM user_follows WHERE follower_id = ? ORDER BY created_at`},
		{&rel.BlockedUsers, `SELECT blocked_id FROM user_blocks WHERE blocker_id = ? ORDER BY created_at`},
		{&rel.ProfileViewers, `SELECT viewer_id FROM profile_views WHERE subject_id = ? ORDER BY created_at`},
		{&rel.Posts, `SELECT id FROM posts WHERE author_id = ? ORDER BY created_at`},
		{&rel.LikedPosts, `SELECT post_id FROM post_reactions WHERE user_id = ? AND kind = 'like' ORDER BY created_at`},
	}

	for _, q := range queries {
		ids, err := r.ids(ctx, q.query, userID)
		if err != nil {
			return nil, err
		}
		*q.dest = ids
	}

	return rel, nil
}

func (r *relationshipRepository) ids(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	return queryIDs(ctx, r.db.conn(ctx), query, args...)
}

// queryIDs runs a single-column id query.
func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}
	return ids, nil
}

// Ensure relationshipRepository implements repository.RelationshipRepository.
var _ repository.RelationshipRepository = (*relationshipRepository)(nil)
