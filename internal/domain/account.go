package domain

import "time"

// AccountState is the lifecycle state of an account.
// Verification is orthogonal and tracked by User.IsVerified.
type AccountState string

const (
	StateActive   AccountState = "active"
	StateInactive AccountState = "inactive"
	StateDeleted  AccountState = "deleted"
)

// State returns the current lifecycle state. Deleted takes precedence.
func (u *User) State() AccountState {
	switch {
	case u.IsDeleted:
		return StateDeleted
	case !u.IsActive:
		return StateInactive
	default:
		return StateActive
	}
}

// CanLogin returns nil if the account may receive a session token.
func (u *User) CanLogin() error {
	switch u.State() {
	case StateDeleted:
		return ErrAccountDeleted
	case StateInactive:
		return ErrAccountInactive
	}
	return nil
}

// CanMutateContent returns nil if the account may change content.
func (u *User) CanMutateContent() error {
	return u.CanLogin()
}

// CanCreateContent returns nil if the account may create new content.
// Creation additionally requires a verified account.
func (u *User) CanCreateContent() error {
	if err := u.CanMutateContent(); err != nil {
		return err
	}
	if !u.IsVerified {
		return ErrAccountUnverified
	}
	return nil
}

// Verify marks the account verified.
func (u *User) Verify(now time.Time) error {
	if u.IsVerified {
		return ErrAlreadyVerified
	}
	u.IsVerified = true
	u.AccountVerification = nil
	u.UpdatedAt = now.UTC()
	return nil
}

// Deactivate moves an Active account to Inactive.
func (u *User) Deactivate(now time.Time) error {
	switch u.State() {
	case StateDeleted:
		return ErrAccountDeleted
	case StateInactive:
		return ErrAlreadyDeactivated
	}
	u.IsActive = false
	u.UpdatedAt = now.UTC()
	return nil
}

// Reactivate moves an Inactive account back to Active.
// The verified flag is preserved.
func (u *User) Reactivate(now time.Time) error {
	switch u.State() {
	case StateDeleted:
		return ErrAccountDeleted
	case StateActive:
		return ErrAlreadyActive
	}
	u.IsActive = true
	u.ReactivateOTP = nil
	u.UpdatedAt = now.UTC()
	return nil
}

// MarkDeleted soft deletes the account from any non-deleted state.
func (u *User) MarkDeleted(now time.Time) error {
	if u.IsDeleted {
		return ErrAlreadyDeleted
	}
	t := now.UTC()
	u.IsDeleted = true
	u.IsActive = false
	u.DeletedAt = &t
	u.UpdatedAt = t
	return nil
}

// CheckRestoreWindow returns nil if a deleted account is still within
// the restore window at now.
func (u *User) CheckRestoreWindow(now time.Time, window time.Duration) error {
	if !u.IsDeleted {
		return ErrAlreadyActive
	}
	if u.DeletedAt != nil && window > 0 && now.Sub(*u.DeletedAt) > window {
		return ErrDeleteWindowExpired
	}
	return nil
}

// Restore moves a Deleted account back to Active if within the window.
func (u *User) Restore(now time.Time, window time.Duration) error {
	if err := u.CheckRestoreWindow(now, window); err != nil {
		return err
	}
	u.IsDeleted = false
	u.IsActive = true
	u.DeletedAt = nil
	u.RestoreOTP = nil
	u.UpdatedAt = now.UTC()
	return nil
}
