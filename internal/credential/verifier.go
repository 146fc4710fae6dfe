package credential

import (
	"context"
	"time"

	"github.com/filehub/authd/internal/apperr"
	"github.com/filehub/authd/internal/enum"
	"github.com/filehub/authd/internal/store"
)

// dummyHash is a fixed Argon2id hash of an unguessable constant, checked
// against every login attempt for a username that doesn't exist — the same
// constant-time-padding trick as app_teacher_ref/server/auth/auth.go's
// IsValidUser, ported from bcrypt to this package's Argon2id hasher so a
// lookup miss costs the same wall-clock time as a real comparison and an
// attacker can't distinguish "no such user" from "wrong password" by timing.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Lockout holds the policy knobs for spec §4.1 step 4 (config/auth.yaml).
type Lockout struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockout matches spec §6's defaults (5 attempts, 30 minute lockout).
func DefaultLockout() Lockout {
	return Lockout{MaxAttempts: 5, Duration: 30 * time.Minute}
}

// Verifier is C1, the Credential Verifier.
type Verifier struct {
	store   *store.Store
	lockout Lockout
}

func New(s *store.Store, lockout Lockout) *Verifier {
	return &Verifier{store: s, lockout: lockout}
}

// Verify implements spec §4.1's five-step credential check:
//  1. case-insensitive username lookup
//  2. account status gate (must be Active)
//  3. lockout gate (locked_until in the future ⇒ reject without touching the counter)
//  4. password comparison; on mismatch, bump the failure counter and lock on
//     the Nth consecutive failure
//  5. on success, reset the counter and stamp last_login_at
//
// A nonexistent username still runs VerifyPassword against dummyHash before
// returning apperr.NoSuchUser(), so the two rejection paths take equal time.
func (v *Verifier) Verify(ctx context.Context, username, password, ip string) (store.User, error) {
	u, err := v.store.GetUserByUsername(ctx, username)
	if err != nil {
		VerifyPassword(password, dummyHash)
		return store.User{}, apperr.NoSuchUser()
	}

	status, serr := u.StatusEnum()
	if serr != nil {
		status = enum.StatusInactive
	}
	if status != enum.StatusActive {
		VerifyPassword(password, dummyHash)
		return store.User{}, apperr.AccountInactive()
	}

	if u.LockedUntil.Valid && time.Now().UTC().Before(u.LockedUntil.Time) {
		return store.User{}, apperr.AccountLocked()
	}

	if !VerifyPassword(password, u.PasswordHash) {
		// Both branches — mismatch under the threshold and the mismatch that
		// crosses it — return BadPassword. Only a later attempt against an
		// already-locked account (the gate above, on the next call) sees
		// AccountLocked; returning it here instead would tell the caller
		// exactly which attempt tripped the lock.
		if _, _, ferr := v.store.RecordLoginFailure(ctx, u.ID, v.lockout.MaxAttempts, v.lockout.Duration); ferr != nil {
			return store.User{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to record login failure", ferr)
		}
		return store.User{}, apperr.BadPassword()
	}

	if err := v.store.RecordLoginSuccess(ctx, u.ID); err != nil {
		return store.User{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to record login success", err)
	}

	return u, nil
}

// ChangePassword enforces the policy (spec §4.1's set/change path) before
// persisting the new hash. Reuse rejection is checked against the stored
// hash via PasswordPolicy.Validate, which takes the current hash, not an old
// plaintext.
func (v *Verifier) ChangePassword(ctx context.Context, userID, newPassword string, policy PasswordPolicy) error {
	u, err := v.store.GetUserByID(ctx, userID)
	if err != nil {
		return apperr.Wrap(apperr.NotFound, "NOT_FOUND", "user not found", err)
	}
	if verr := policy.Validate(newPassword, u.Username, u.PasswordHash); verr != nil {
		return apperr.New(apperr.Validation, "WEAK_PASSWORD", verr.Error())
	}
	hash, herr := HashPassword(newPassword)
	if herr != nil {
		return apperr.Wrap(apperr.Internal, "INTERNAL", "failed to hash password", herr)
	}
	if err := v.store.UpdatePassword(ctx, userID, hash); err != nil {
		return apperr.Wrap(apperr.Internal, "INTERNAL", "failed to persist password", err)
	}
	return nil
}
