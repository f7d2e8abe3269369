package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

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

// secretColumns maps each ephemeral secret to its digest and expiry columns.
var secretColumns = [][2]string{
	{"password_reset_digest", "password_reset_expires"},
	{"verification_digest", "verification_expires"},
	{"restore_otp_digest", "restore_otp_expires"},
	{"reactivate_otp_digest", "reactivate_otp_expires"},
}

// userRepository implements repository.UserRepository for SQLite.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var (
		role, level, gender                string
		isActive, isDeleted, isVerified    int
		notifyEmail, notifySMS, notifyPush int
		deletedAt, lastLogin, pwdChangedAt sql.NullString
		secrets                            [4][2]sql.NullString
		createdAt, updatedAt               string
	)

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &role, &level,
		&isActive, &isDeleted, &isVerified, &deletedAt, &lastLogin, &pwdChangedAt,
		&user.Bio, &user.Location, &gender,
		&user.ProfilePic.URL, &user.ProfilePic.Key, &user.CoverPhoto.URL, &user.CoverPhoto.Key,
		&notifyEmail, &notifySMS, &notifyPush,
		&secrets[0][0], &secrets[0][1], &secrets[1][0], &secrets[1][1],
		&secrets[2][0], &secrets[2][1], &secrets[3][0], &secrets[3][1],
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role = domain.Role(role)
	user.AccountLevel = domain.AccountLevel(level)
	user.Gender = domain.Gender(gender)
	user.IsActive = isActive != 0
	user.IsDeleted = isDeleted != 0
	user.IsVerified = isVerified != 0
	user.DeletedAt = timePtr(deletedAt)
	user.LastLogin = timePtr(lastLogin)
	user.PasswordChangedAt = timePtr(pwdChangedAt)
	user.NotificationPreferences = domain.NotificationPreferences{
		Email: notifyEmail != 0,
		SMS:   notifySMS != 0,
		Push:  notifyPush != 0,
	}
	user.PasswordReset = secretFrom(secrets[0])
	user.AccountVerification = secretFrom(secrets[1])
	user.RestoreOTP = secretFrom(secrets[2])
	user.ReactivateOTP = secretFrom(secrets[3])
	user.CreatedAt = parseTime(createdAt)
	user.UpdatedAt = parseTime(updatedAt)

	return user, nil
}

func secretFrom(cols [2]sql.NullString) *domain.SecretDigest {
	if !cols[0].Valid || !cols[1].Valid {
		return nil
	}
	return &domain.SecretDigest{Digest: cols[0].String, ExpiresAt: parseTime(cols[1].String)}
}

func secretArgs(s *domain.SecretDigest) (sql.NullString, sql.NullString) {
	if s == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: s.Digest, Valid: true},
		sql.NullString{String: formatTime(s.ExpiresAt), Valid: true}
}

// userArgs returns the column values in userColumns order, without id.
func userArgs(user *domain.User) []any {
	resetDigest, resetExpires := secretArgs(user.PasswordReset)
	verifyDigest, verifyExpires := secretArgs(user.AccountVerification)
	restoreDigest, restoreExpires := secretArgs(user.RestoreOTP)
	reactivateDigest, reactivateExpires := secretArgs(user.ReactivateOTP)

	return []any{
		user.Username, user.Email, user.PasswordHash, string(user.Role), string(user.AccountLevel),
		boolToInt(user.IsActive), boolToInt(user.IsDeleted), boolToInt(user.IsVerified),
		nullTime(user.DeletedAt), nullTime(user.LastLogin), nullTime(user.PasswordChangedAt),
		user.Bio, user.Location, string(user.Gender),
		user.ProfilePic.URL, user.ProfilePic.Key, user.CoverPhoto.URL, user.CoverPhoto.Key,
		boolToInt(user.NotificationPreferences.Email),
		boolToInt(user.NotificationPreferences.SMS),
		boolToInt(user.NotificationPreferences.Push),
		resetDigest, resetExpires, verifyDigest, verifyExpires,
		restoreDigest, restoreExpires, reactivateDigest, reactivateExpires,
		formatTime(user.CreatedAt), formatTime(user.UpdatedAt),
	}
}

func uniqueUserError(err error) error {
	switch uniqueColumn(err) {
	case "users.email":
		return domain.NewDomainError(domain.ErrUserAlreadyExists, "email is already registered", "email")
	case "users.username":
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	args := append([]any{user.ID}, userArgs(user)...)
	if _, err := r.db.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return uniqueUserError(err)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *userRepository) getBy(ctx context.Context, column string, value any) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = ?`

	user, err := scanUser(r.db.conn(ctx).QueryRowContext(ctx, query, value))
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
			username = ?, email = ?, password_hash = ?, role = ?, account_level = ?,
			is_active = ?, is_deleted = ?, is_verified = ?, deleted_at = ?, last_login = ?, password_changed_at = ?,
			bio = ?, location = ?, gender = ?, profile_pic_url = ?, profile_pic_key = ?, cover_photo_url = ?, cover_photo_key = ?,
			notify_email = ?, notify_sms = ?, notify_push = ?,
			password_reset_digest = ?, password_reset_expires = ?, verification_digest = ?, verification_expires = ?,
			restore_otp_digest = ?, restore_otp_expires = ?, reactivate_otp_digest = ?, reactivate_otp_expires = ?,
			created_at = ?, updated_at = ?
		WHERE id = ?
	`

	args := append(userArgs(user), user.ID)
	result, err := r.db.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueUserError(err)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// List returns users with pagination.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	q := r.db.conn(ctx)

	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at LIMIT ? OFFSET ?`,
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
	var count int
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE `+column+` = ?`, value,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", column, err)
	}
	return count > 0, nil
}

// CountExpiredSecrets counts outstanding secrets that expired before now.
func (r *userRepository) CountExpiredSecrets(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	ts := formatTime(now)
	for _, cols := range secretColumns {
		var n int64
		err := r.db.conn(ctx).QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE `+cols[1]+` IS NOT NULL AND `+cols[1]+` <= ?`, ts,
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
	ts := formatTime(now)

	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		for _, cols := range secretColumns {
			result, err := r.db.conn(ctx).ExecContext(ctx,
				`UPDATE users SET `+cols[0]+` = NULL, `+cols[1]+` = NULL
				 WHERE `+cols[1]+` IS NOT NULL AND `+cols[1]+` <= ?`, ts,
			)
			if err != nil {
				return fmt.Errorf("failed to clear expired %s: %w", cols[0], err)
			}
			n, _ := result.RowsAffected()
			total += n
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
