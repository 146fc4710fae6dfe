// Package enum holds small hand-written enumerated types shared across the
// auth/session/seat core. None of these are generated; they follow the
// Index()/String()/Values-slice texture the teacher uses for its generated
// enums (see app_teacher_ref/enum).
package enum

import "fmt"

// Role is a user's coarse RBAC role.
type Role int

const (
	RoleViewer Role = iota
	RoleCreator
	RoleManager
	RoleAdmin
)

// RoleValues lists every Role in ascending rank order.
var RoleValues = []Role{RoleViewer, RoleCreator, RoleManager, RoleAdmin}

func (r Role) Index() int { return int(r) }

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleCreator:
		return "creator"
	case RoleManager:
		return "manager"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole parses a role name, case-sensitive lowercase (config/API values).
func ParseRole(s string) (Role, error) {
	for _, r := range RoleValues {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// AtLeast reports whether r outranks or equals other.
func (r Role) AtLeast(other Role) bool { return r >= other }

// UserStatus is the account status gate for C1 credential verification.
type UserStatus int

const (
	StatusActive UserStatus = iota
	StatusInactive
	StatusLocked
)

var UserStatusValues = []UserStatus{StatusActive, StatusInactive, StatusLocked}

func (s UserStatus) Index() int { return int(s) }

func (s UserStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusLocked:
		return "locked"
	default:
		return "unknown"
	}
}

func ParseUserStatus(s string) (UserStatus, error) {
	for _, v := range UserStatusValues {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown user status %q", s)
}

// PermLevel is the effective-permission ordering of spec §4.7: None=0 .. Owner=4.
type PermLevel int

const (
	PermNone PermLevel = iota
	PermViewer
	PermCommenter
	PermEditor
	PermOwner
)

var PermLevelValues = []PermLevel{PermNone, PermViewer, PermCommenter, PermEditor, PermOwner}

func (p PermLevel) Index() int { return int(p) }

func (p PermLevel) String() string {
	switch p {
	case PermNone:
		return "none"
	case PermViewer:
		return "viewer"
	case PermCommenter:
		return "commenter"
	case PermEditor:
		return "editor"
	case PermOwner:
		return "owner"
	default:
		return "unknown"
	}
}

func ParsePermLevel(s string) (PermLevel, error) {
	for _, v := range PermLevelValues {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown permission level %q", s)
}

// HasAtLeast implements spec §4.7's has_at_least(a, b) helper.
func HasAtLeast(a, b PermLevel) bool { return a >= b }

// Max returns the higher of two permission levels (spec §4.7 composition rule).
func Max(a, b PermLevel) PermLevel {
	if a >= b {
		return a
	}
	return b
}

// TokenType distinguishes access from refresh claim sets (C2).
type TokenType int

const (
	TokenAccess TokenType = iota
	TokenRefresh
)

var TokenTypeValues = []TokenType{TokenAccess, TokenRefresh}

func (t TokenType) Index() int { return int(t) }

func (t TokenType) String() string {
	switch t {
	case TokenAccess:
		return "access"
	case TokenRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

func ParseTokenType(s string) (TokenType, error) {
	for _, v := range TokenTypeValues {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown token type %q", s)
}

// ResourceType is the kind of resource an ACL entry or permission check targets.
type ResourceType int

const (
	ResourceFile ResourceType = iota
	ResourceFolder
	ResourceStorage
)

var ResourceTypeValues = []ResourceType{ResourceFile, ResourceFolder, ResourceStorage}

func (t ResourceType) Index() int { return int(t) }

func (t ResourceType) String() string {
	switch t {
	case ResourceFile:
		return "file"
	case ResourceFolder:
		return "folder"
	case ResourceStorage:
		return "storage"
	default:
		return "unknown"
	}
}

func ParseResourceType(s string) (ResourceType, error) {
	for _, v := range ResourceTypeValues {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown resource type %q", s)
}

// InheritMode controls whether an ACL entry propagates to descendant folders.
type InheritMode int

const (
	InheritPropagate InheritMode = iota
	InheritBlock
)

var InheritModeValues = []InheritMode{InheritPropagate, InheritBlock}

func (m InheritMode) Index() int { return int(m) }

func (m InheritMode) String() string {
	switch m {
	case InheritPropagate:
		return "inherit"
	case InheritBlock:
		return "block"
	default:
		return "unknown"
	}
}

func ParseInheritMode(s string) (InheritMode, error) {
	for _, v := range InheritModeValues {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown inheritance mode %q", s)
}

// ShareType distinguishes the three share flavors of spec §3.
type ShareType int

const (
	SharePublicLink ShareType = iota
	SharePrivateLink
	ShareUser
)

var ShareTypeValues = []ShareType{SharePublicLink, SharePrivateLink, ShareUser}

func (t ShareType) Index() int { return int(t) }

func (t ShareType) String() string {
	switch t {
	case SharePublicLink:
		return "public_link"
	case SharePrivateLink:
		return "private_link"
	case ShareUser:
		return "user_share"
	default:
		return "unknown"
	}
}

func ParseShareType(s string) (ShareType, error) {
	for _, v := range ShareTypeValues {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown share type %q", s)
}

// OverflowStrategy is the per-role policy applied when a login exceeds the
// user's own session cap (C5).
type OverflowStrategy int

const (
	OverflowDeny OverflowStrategy = iota
	OverflowKickOldest
	OverflowKickIdle
)

var OverflowStrategyValues = []OverflowStrategy{OverflowDeny, OverflowKickOldest, OverflowKickIdle}

func (o OverflowStrategy) Index() int { return int(o) }

func (o OverflowStrategy) String() string {
	switch o {
	case OverflowDeny:
		return "deny"
	case OverflowKickOldest:
		return "kick_oldest"
	case OverflowKickIdle:
		return "kick_idle"
	default:
		return "unknown"
	}
}

func ParseOverflowStrategy(s string) (OverflowStrategy, error) {
	for _, v := range OverflowStrategyValues {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown overflow strategy %q", s)
}

// AllocatorStrategy picks the seat pool's concrete backing (C3).
type AllocatorStrategy int

const (
	AllocatorInProcess AllocatorStrategy = iota
	AllocatorSharedExternal
)

var AllocatorStrategyValues = []AllocatorStrategy{AllocatorInProcess, AllocatorSharedExternal}

func (a AllocatorStrategy) Index() int { return int(a) }

func (a AllocatorStrategy) String() string {
	switch a {
	case AllocatorInProcess:
		return "in_process"
	case AllocatorSharedExternal:
		return "shared_external"
	default:
		return "unknown"
	}
}

func ParseAllocatorStrategy(s string) (AllocatorStrategy, error) {
	for _, v := range AllocatorStrategyValues {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown allocator strategy %q", s)
}

// AuditAction classifies an auth-relevant audit event (login, refresh, etc).
// Narrower than the teacher's KV-CRUD AuditAction — scoped to auth events.
type AuditAction int

const (
	AuditActionLogin AuditAction = iota
	AuditActionLoginFailed
	AuditActionRefresh
	AuditActionLogout
	AuditActionTerminate
	AuditActionLockout
	AuditActionPermissionDenied
)

var AuditActionValues = []AuditAction{
	AuditActionLogin, AuditActionLoginFailed, AuditActionRefresh, AuditActionLogout,
	AuditActionTerminate, AuditActionLockout, AuditActionPermissionDenied,
}

func (a AuditAction) Index() int { return int(a) }

func (a AuditAction) String() string {
	switch a {
	case AuditActionLogin:
		return "login"
	case AuditActionLoginFailed:
		return "login_failed"
	case AuditActionRefresh:
		return "refresh"
	case AuditActionLogout:
		return "logout"
	case AuditActionTerminate:
		return "terminate"
	case AuditActionLockout:
		return "lockout"
	case AuditActionPermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// Label mirrors the teacher's secretsfilter_ext.go Label() extension: a
// human-facing rendering distinct from the wire/config String() form.
func (a AuditAction) Label() string {
	switch a {
	case AuditActionLogin:
		return "Login"
	case AuditActionLoginFailed:
		return "Login Failed"
	case AuditActionRefresh:
		return "Token Refresh"
	case AuditActionLogout:
		return "Logout"
	case AuditActionTerminate:
		return "Session Terminated"
	case AuditActionLockout:
		return "Account Locked"
	case AuditActionPermissionDenied:
		return "Permission Denied"
	default:
		return "Unknown"
	}
}

func ParseAuditAction(s string) (AuditAction, error) {
	for _, v := range AuditActionValues {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown audit action %q", s)
}

// ActorType distinguishes a real user from the system itself in audit entries.
type ActorType int

const (
	ActorUser ActorType = iota
	ActorSystem
)

var ActorTypeValues = []ActorType{ActorUser, ActorSystem}

func (a ActorType) Index() int { return int(a) }

func (a ActorType) String() string {
	switch a {
	case ActorUser:
		return "user"
	case ActorSystem:
		return "system"
	default:
		return "unknown"
	}
}

func ParseActorType(s string) (ActorType, error) {
	for _, v := range ActorTypeValues {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown actor type %q", s)
}

// AuditResult classifies the outcome of an auth-relevant audit event.
type AuditResult int

const (
	AuditResultSuccess AuditResult = iota
	AuditResultDenied
	AuditResultError
)

var AuditResultValues = []AuditResult{AuditResultSuccess, AuditResultDenied, AuditResultError}

func (r AuditResult) Index() int { return int(r) }

func (r AuditResult) String() string {
	switch r {
	case AuditResultSuccess:
		return "success"
	case AuditResultDenied:
		return "denied"
	case AuditResultError:
		return "error"
	default:
		return "unknown"
	}
}

func ParseAuditResult(s string) (AuditResult, error) {
	for _, v := range AuditResultValues {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown audit result %q", s)
}
