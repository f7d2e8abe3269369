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

const userColumns = `
	id, username, email, password_hash, role, account_level,
	is_active, is_deleted, is_verified, deleted_at, last_login, password_changed_at,
	bio, location, gender, profile_pic_url, profile_pic_key, cover_photo_url, cover_photo_key,
	notify_email, notify_sms, notify_push,
	password_reset_digest, password_reset_expires, verification_digest, verification_expires,
	restore_otp_digest, restore_otp_expires, reactivate_otp_digest, reactivate_otp_expires,
	created_at, updated_at`

var secretColumns = [][2]string{
	{"password_reset_digest", "password_reset_expires"},
	{"verification_digest", "verification_expires"},
	{"restore_otp_digest", "restore_otp_expires"},
	{"reactivate_otp_digest", "reactivate_otp_expires"},
}

// userRepository implements repository.UserRepository for PostgreSQL.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

type secretCols struct {
	digest  *string
	expires *time.Time
}

func (s secretCols) digestValue() *domain.SecretDigest {
	if s.digest == nil || s.expires == nil {
		return nil
	}
	return &domain.SecretDigest{Digest: *s.digest, ExpiresAt: s.expires.UTC()}
}

func secretArgs(s *domain.SecretDigest) (*string, *time.Time) {
	if s == nil {
		return nil, nil
	}
	digest, expires := s.Digest, s.ExpiresAt.UTC()
	return &digest, &expires
}

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	var (
		role, level, gender string
		secrets             [4]secretCols
	)

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &role, &level,
		&user.IsActive, &user.IsDeleted, &user.IsVerified, &user.DeletedAt, &user.LastLogin, &user.PasswordChangedAt,
		&user.Bio, &user.Location, &gender,
		&user.ProfilePic.URL, &user.ProfilePic.Key, &user.CoverPhoto.URL, &user.CoverPhoto.Key,
		&user.NotificationPreferences.Email, &user.NotificationPreferences.SMS, &user.NotificationPreferences.Push,
		&secrets[0].digest, &secrets[0].expires, &secrets[1].digest, &secrets[1].expires,
		&secrets[2].digest, &secrets[2].expires, &secrets[3].digest, &secrets[3].expires,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role = domain.Role(role)
	user.AccountLevel = domain.AccountLevel(level)
	user.Gender = domain.Gender(gender)
	user.PasswordReset = secrets[0].digestValue()
	user.AccountVerification = secrets[1].digestValue()
	user.RestoreOTP = secrets[2].digestValue()
	user.ReactivateOTP = secrets[3].digestValue()

	return user, nil
}

// userArgs returns the column values in userColumns order, without id.
func userArgs(user *domain.User) []any {
	resetDigest, resetExpires := secretArgs(user.PasswordReset)
	verifyDigest, verifyExpires := secretArgs(user.AccountVerification)
	restoreDigest, restoreExpires := secretArgs(user.RestoreOTP)
	reactivateDigest, reactivateExpires := secretArgs(user.ReactivateOTP)

	return []any{
		user.Username, user.Email, user.PasswordHash, string(user.Role), string(user.AccountLevel),
		user.IsActive, user.IsDeleted, user.IsVerified, user.DeletedAt, user.LastLogin, user.PasswordChangedAt,
		user.Bio, user.Location, string(user.Gender),
		user.ProfilePic.URL, user.ProfilePic.Key, user.CoverPhoto.URL, user.CoverPhoto.Key,
		user.NotificationPreferences.Email, user.NotificationPreferences.SMS, user.NotificationPreferences.Push,
		resetDigest, resetExpires, verifyDigest, verifyExpires,
		restoreDigest, restoreExpires, reactivateDigest, reactivateExpires,
		user.CreatedAt, user.UpdatedAt,
	}
}

func uniqueUserError(err error) error {
	switch constraintName(err) {
	case "users_email_key":
		return domain.NewDomainError(domain.ErrUserAlreadyExists, "email is already registered", "email")
	case "users_username_key":
		return domain.NewDomainError(domain.ErrUserAlreadyExists, "username is already taken", "username")
	}
	return fmt.Errorf("%w: username or email already exists", domain.ErrUserAlreadyExists)
}

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	query := `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`

	args := append([]any{user.ID}, userArgs(user)...)
	if _, err := r.db.conn(ctx).Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return uniqueUserError(err)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *userRepository) getBy(ctx context.Context, column string, value any) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`

	user, err := scanUser(r.db.conn(ctx).QueryRow(ctx, query, value))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by %s: %w", column, err)
	}
	return user, nil
}

// GetByID retrieves a user by ID.
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getBy(ctx, "id", id)
}

// GetByUsername retrieves a user by username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getBy(ctx, "username", username)
}

// GetByEmail retrieves a user by email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getBy(ctx, "email", domain.NormalizeEmail(email))
}

// GetByPasswordResetDigest retrieves the user holding a reset token digest.
func (r *userRepository) GetByPasswordResetDigest(ctx context.Context, digest string) (*domain.User, error) {
	return r.getBy(ctx, "password_reset_digest", digest)
}

// GetByVerificationDigest retrieves the user holding a verification token digest.
func (r *userRepository) GetByVerificationDigest(ctx context.Context, digest string) (*domain.User, error) {
	return r.getBy(ctx, "verification_digest", digest)
}

// Update updates an existing user.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users SET
			username = $1, email = $2, password_hash = $3, role = $4, account_level = $5,
			is_active = $6, is_deleted = $7, is_verified = $8, deleted_at = $9, last_login = $10,
			password_changed_at = $11, bio = $12, location = $13, gender = $14,
			profile_pic_url = $15, profile_pic_key = $16, cover_photo_url = $17, cover_photo_key = $18,
			notify_email = $19, notify_sms = $20, notify_push = $21,
			password_reset_digest = $22, password_reset_expires = $23,
			verification_digest = $24, verification_expires = $25,
			restore_otp_digest = $26, restore_otp_expires = $27,
			reactivate_otp_digest = $28, reactivate_otp_expires = $29,
			created_at = $30, updated_at = $31
		WHERE id = $32
	`

	args := append(userArgs(user), user.ID)
	tag, err := r.db.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueUserError(err)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// List returns users with pagination.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	q := r.db.conn(ctx)

	var total int64
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at LIMIT $1 OFFSET $2`,
		limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return &repository.ListResult[domain.User]{
		Items:  users,
		Total:  total,
		Offset: opts.Offset,
		Limit:  limit,
	}, nil
}

// ExistsByUsername checks if a user with the given username exists.
func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "username", username)
}

// ExistsByEmail checks if a user with the given email exists.
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "email", domain.NormalizeEmail(email))
}

func (r *userRepository) exists(ctx context.Context, column, value string) (bool, error) {
	var exists bool
	err := r.db.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE `+column+` = $1)`, value,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", column, err)
	}
	return exists, nil
}

// CountExpiredSecrets counts outstanding secrets that expired before now.
func (r *userRepository) CountExpiredSecrets(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, cols := range secretColumns {
		var n int64
		err := r.db.conn(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM users WHERE `+cols[1]+` IS NOT NULL AND `+cols[1]+` <= $1`, now,
		).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count expired %s: %w", cols[0], err)
		}
		total += n
	}
	return total, nil
}

// ClearExpiredSecrets clears every secret that expired before now.
func (r *userRepository) ClearExpiredSecrets(ctx context.Context, now time.Time) (int64, error) {
	var total int64

	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		for _, cols := range secretColumns {
			tag, err := r.db.conn(ctx).Exec(ctx,
				`UPDATE users SET `+cols[0]+` = NULL, `+cols[1]+` = NULL
				 WHERE `+cols[1]+` IS NOT NULL AND `+cols[1]+` <= $1`, now,
			)
			if err != nil {
				return fmt.Errorf("failed to clear expired %s: %w", cols[0], err)
			}
			total += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
