package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

// categoryRepository implements repository.CategoryRepository for SQLite.
type categoryRepository struct {
	db *DB
}

// NewCategoryRepository creates a new SQLite category repository.
func NewCategoryRepository(db *DB) repository.CategoryRepository {
	return &categoryRepository{db: db}
}

func scanCategory(row rowScanner) (*domain.Category, error) {
	c := &domain.Category{}
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.Name, &c.AuthorID, &c.Shares, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// Create creates a new category.
func (r *categoryRepository) Create(ctx context.Context, category *domain.Category) error {
	_, err := r.db.conn(ctx).ExecContext(ctx, `
		INSERT INTO categories (id, name, author_id, shares, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		category.ID, category.Name, category.AuthorID, category.Shares,
		formatTime(category.CreatedAt), formatTime(category.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrCategoryExists, "choose another name", category.Name)
		}
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

// GetByID retrieves a category with its post ids.
func (r *categoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	q := r.db.conn(ctx)

	c, err := scanCategory(q.QueryRowContext(ctx,
		`SELECT id, name, author_id, shares, created_at, updated_at FROM categories WHERE id = ?`, id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}

	c.Posts, err = queryIDs(ctx, q, `SELECT id FROM posts WHERE category_id = ? ORDER BY created_at`, c.ID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns every category ordered by name.
func (r *categoryRepository) List(ctx context.Context) ([]*domain.Category, error) {
	q := r.db.conn(ctx)

	rows, err := q.QueryContext(ctx,
		`SELECT id, name, author_id, shares, created_at, updated_at FROM categories ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	var categories []*domain.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	rows.Close()

	for _, c := range categories {
		c.Posts, err = queryIDs(ctx, q, `SELECT id FROM posts WHERE category_id = ? ORDER BY created_at`, c.ID)
		if err != nil {
			return nil, err
		}
	}
	return categories, nil
}

// Update persists the name of a category.
func (r *categoryRepository) Update(ctx context.Context, category *domain.Category) error {
	category.UpdatedAt = time.Now().UTC()

	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE categories SET name = ?, shares = ?, updated_at = ? WHERE id = ?`,
		category.Name, category.Shares, formatTime(category.UpdatedAt), category.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrCategoryExists, "choose another name", category.Name)
		}
		return fmt.Errorf("failed to update category: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrCategoryNotFound
	}
	return nil
}

// Delete deletes a category.
func (r *categoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrCategoryNotFound
	}
	return nil
}

// Ensure categoryRepository implements repository.CategoryRepository.
var _ repository.CategoryRepository = (*categoryRepository)(nil)
