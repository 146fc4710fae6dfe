// Package permission implements C7, the Permission Resolver: computing the
// effective permission level for a (user, resource) pair as the maximum of
// role floor, ownership, direct ACL and inherited ACL (with Block
// semantics). Share grants are not consulted. Caching is grounded on
// other_examples' session/authorization caches (short-TTL memoized lookups)
// generalized onto go-pkgz/lcw/v2, the teacher-pack's own in-memory cache
// library (see SPEC_FULL.md's DOMAIN STACK).
package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	lcw "github.com/go-pkgz/lcw/v2"

	"github.com/filehub/authd/internal/apperr"
	"github.com/filehub/authd/internal/config"
	"github.com/filehub/authd/internal/enum"
	"github.com/filehub/authd/internal/store"
)

// RoleFloor maps a role to the coarse minimum permission level granted on
// any reachable resource outside ACL/ownership (spec §4.7 rule 1, spec §6's
// RBAC action matrix). Admin always resolves to Owner regardless of this
// table — see Resolver.Effective.
type RoleFloor map[enum.Role]enum.PermLevel

// DefaultRoleFloor mirrors spec §6's RBAC excerpt: Manager gets broad
// access short of admin-only actions, Creator can create/read/update
// reachable resources, Viewer is read-only.
func DefaultRoleFloor() RoleFloor {
	return RoleFloor{
		enum.RoleViewer:  enum.PermViewer,
		enum.RoleCreator: enum.PermEditor,
		enum.RoleManager: enum.PermEditor,
	}
}

// Resolver is C7.
type Resolver struct {
	store     *store.Store
	roleFloor RoleFloor
	rbac      *config.RBACPolicy
	cache     *lcw.ExpirableCache[enum.PermLevel]
}

// New builds a Resolver with a short-TTL memoization cache (spec §4.7:
// "effective results may be memoized per (user, resource) with a short
// TTL"). rbac may be nil, in which case AllowedAction denies every system
// action for non-admins (see AllowedAction).
func New(s *store.Store, roleFloor RoleFloor, cacheTTL time.Duration, rbac *config.RBACPolicy) (*Resolver, error) {
	cache, err := lcw.NewExpirableCache[enum.PermLevel](lcw.TTL(cacheTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to build permission cache: %w", err)
	}
	return &Resolver{store: s, roleFloor: roleFloor, rbac: rbac, cache: cache}, nil
}

// AllowedAction reports whether role may perform a system action (e.g.
// "user:role_change:admin") per the RBAC action matrix of spec §6 — the
// "if the request is a system action outside the role's permission set,
// the resolver returns None regardless of ACL" half of rule 1, as distinct
// from the resource-ACL walk Effective performs. Admin is always allowed,
// matching the role floor step in compute. With no RBAC policy loaded,
// every non-admin system action is denied rather than silently permitted.
func (r *Resolver) AllowedAction(role enum.Role, action string) bool {
	if role == enum.RoleAdmin {
		return true
	}
	return r.rbac.Allowed(role, action)
}

func cacheKey(userID string, resourceType enum.ResourceType, resourceID string) string {
	return fmt.Sprintf("%s:%s:%s", userID, resourceType, resourceID)
}

// Invalidate drops a memoized (user, resource) entry. Call on ACL change or
// share change for the resource — the cache does not expose a
// by-resource-prefix sweep, so callers with more than one affected user
// must invalidate each key they know about (e.g. everyone with a direct ACL
// entry on the changed resource).
func (r *Resolver) Invalidate(userID string, resourceType enum.ResourceType, resourceID string) {
	r.cache.Delete(cacheKey(userID, resourceType, resourceID))
}

// InvalidateUser drops every memoized entry for a user — call on role
// change for the user, per spec §4.7's invalidation list.
func (r *Resolver) InvalidateUser(userID string) {
	r.cache.Purge()
	_ = userID // the cache library has no per-prefix sweep; a role change is rare enough to warrant a full purge
}

// Effective computes the permission level spec §4.7 defines, taking the
// maximum of every applicable contribution. ownerID and parentFolderID are
// optional (empty string means "not applicable" / "no parent"). Uses lcw's
// cache-aside Get(key, loader) shape: on a miss the loader runs and its
// result is memoized; on a hit the loader never runs.
func (r *Resolver) Effective(ctx context.Context, userID string, role enum.Role, resourceType enum.ResourceType, resourceID, ownerID, parentFolderID string) (enum.PermLevel, error) {
	key := cacheKey(userID, resourceType, resourceID)
	return r.cache.Get(key, func() (enum.PermLevel, error) {
		return r.compute(ctx, userID, role, resourceType, resourceID, ownerID, parentFolderID)
	})
}

func (r *Resolver) compute(ctx context.Context, userID string, role enum.Role, resourceType enum.ResourceType, resourceID, ownerID, parentFolderID string) (enum.PermLevel, error) {
	// 1. Role floor (Admin → Owner on everything).
	level := enum.PermNone
	if role == enum.RoleAdmin {
		level = enum.PermOwner
	} else if floor, ok := r.roleFloor[role]; ok {
		level = floor
	}

	// 2. Ownership.
	if ownerID != "" && ownerID == userID {
		level = enum.Max(level, enum.PermOwner)
	}

	// 3. Direct ACL.
	direct, err := r.contributionsAt(ctx, resourceType, resourceID, userID, time.Now().UTC())
	if err != nil {
		return enum.PermNone, err
	}
	level = enum.Max(level, direct)

	// 4. Inherited ACL: walk parent_folder_id upward, stopping the walk at
	// the first Block entry matching this user (or anyone) on an ancestor.
	// A Block does not erase grants already collected closer to the
	// resource (the direct-ACL contribution above, or inherited grants from
	// nearer ancestors already folded into `inherited` before the block was
	// hit).
	inherited, err := r.walkAncestors(ctx, parentFolderID, userID, time.Now().UTC())
	if err != nil {
		return enum.PermNone, err
	}
	level = enum.Max(level, inherited)

	return level, nil
}

// contributionsAt returns the max non-expired ACL entry's level at exactly
// one resource, matching the user or the anyone wildcard.
func (r *Resolver) contributionsAt(ctx context.Context, resourceType enum.ResourceType, resourceID, userID string, now time.Time) (enum.PermLevel, error) {
	entries, err := r.store.ListACLForResource(ctx, resourceType.String(), resourceID, userID)
	if err != nil {
		return enum.PermNone, fmt.Errorf("failed to list ACL for %s %q: %w", resourceType, resourceID, err)
	}
	level := enum.PermNone
	for _, e := range entries {
		if !e.IsLive(now) {
			continue
		}
		parsed, perr := enum.ParsePermLevel(e.Permission)
		if perr != nil {
			continue
		}
		level = enum.Max(level, parsed)
	}
	return level, nil
}

// contributionsWithMode is like contributionsAt but also reports whether any
// matching, live entry at this ancestor has inheritance=Block — used by
// walkAncestors to decide whether to continue upward.
func (r *Resolver) contributionsWithMode(ctx context.Context, folderID, userID string, now time.Time) (level enum.PermLevel, blocked bool, err error) {
	entries, err := r.store.ListACLForResource(ctx, enum.ResourceFolder.String(), folderID, userID)
	if err != nil {
		return enum.PermNone, false, fmt.Errorf("failed to list ACL for folder %q: %w", folderID, err)
	}
	level = enum.PermNone
	for _, e := range entries {
		if !e.IsLive(now) {
			continue
		}
		mode, merr := enum.ParseInheritMode(e.Inheritance)
		if merr != nil {
			continue
		}
		if mode == enum.InheritBlock {
			blocked = true
			continue // a Block entry itself contributes nothing, it only stops the walk
		}
		parsed, perr := enum.ParsePermLevel(e.Permission)
		if perr != nil {
			continue
		}
		level = enum.Max(level, parsed)
	}
	return level, blocked, nil
}

// walkAncestors implements spec §4.7 rule 4's upward walk with Block
// semantics: at each ancestor folder, Inherit entries contribute; any Block
// entry matching the user (or anyone) at that ancestor terminates the walk
// upward after folding in that ancestor's own Inherit contributions.
func (r *Resolver) walkAncestors(ctx context.Context, folderID, userID string, now time.Time) (enum.PermLevel, error) {
	level := enum.PermNone
	current := folderID
	for current != "" {
		contrib, blocked, err := r.contributionsWithMode(ctx, current, userID, now)
		if err != nil {
			return enum.PermNone, err
		}
		level = enum.Max(level, contrib)
		if blocked {
			break
		}

		folder, ferr := r.store.GetFolder(ctx, current)
		if ferr != nil {
			if errors.Is(ferr, store.ErrNotFound) {
				break
			}
			return enum.PermNone, fmt.Errorf("failed to walk to parent of folder %q: %w", current, ferr)
		}
		if !folder.ParentID.Valid {
			break
		}
		current = folder.ParentID.String
	}
	return level, nil
}

// Require fails Forbidden unless Effective(...) ≥ required (spec §4.7's
// require contract).
func (r *Resolver) Require(ctx context.Context, userID string, role enum.Role, resourceType enum.ResourceType, resourceID, ownerID, parentFolderID string, required enum.PermLevel) error {
	level, err := r.Effective(ctx, userID, role, resourceType, resourceID, ownerID, parentFolderID)
	if err != nil {
		return err
	}
	if !enum.HasAtLeast(level, required) {
		return apperr.New(apperr.Forbidden, "PERMISSION_DENIED", "insufficient permission")
	}
	return nil
}
