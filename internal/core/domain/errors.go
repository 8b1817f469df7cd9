package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the identity core reports to its callers.
// Anything that is not a *Error is an unclassified internal failure.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindDuplicateIdentity
	KindRoleCatalogUninitialized
	KindConcurrentModification
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDuplicateIdentity:
		return "duplicate_identity"
	case KindRoleCatalogUninitialized:
		return "role_catalog_uninitialized"
	case KindConcurrentModification:
		return "concurrent_modification"
	case KindValidation:
		return "validation_failure"
	default:
		return "internal"
	}
}

// Entity names used in NotFound errors.
const (
	EntityUser = "user"
	EntityRole = "role"
)

// Error is the closed error variant of the identity core. Callers match it
// with errors.Is against the sentinels below or with KindOf.
type Error struct {
	Kind ErrorKind
	// Entity is set for KindNotFound.
	Entity string
	// Key is the lookup key, conflicting identity, or failing field name.
	Key string
	Err error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindNotFound:
		msg = fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
	case KindDuplicateIdentity:
		msg = fmt.Sprintf("user already exists: %s", e.Key)
	case KindRoleCatalogUninitialized:
		msg = fmt.Sprintf("role catalog uninitialized: missing %s", e.Key)
	case KindConcurrentModification:
		msg = fmt.Sprintf("concurrent modification of %s", e.Key)
	case KindValidation:
		msg = fmt.Sprintf("invalid %s", e.Key)
	default:
		msg = "identity error"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Entity when the target names one. Keys never
// participate, so ErrUserNotFound matches NotFound(EntityUser, "any@x.com").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Entity == "" || t.Entity == e.Entity
}

var (
	ErrNotFound                 = &Error{Kind: KindNotFound}
	ErrUserNotFound             = &Error{Kind: KindNotFound, Entity: EntityUser}
	ErrRoleNotFound             = &Error{Kind: KindNotFound, Entity: EntityRole}
	ErrDuplicateIdentity        = &Error{Kind: KindDuplicateIdentity}
	ErrRoleCatalogUninitialized = &Error{Kind: KindRoleCatalogUninitialized}
	ErrConcurrentModification   = &Error{Kind: KindConcurrentModification}
	ErrValidation               = &Error{Kind: KindValidation}
)

func NotFound(entity, key string) error {
	return &Error{Kind: KindNotFound, Entity: entity, Key: key}
}

func DuplicateIdentity(key string) error {
	return &Error{Kind: KindDuplicateIdentity, Key: key}
}

func RoleCatalogUninitialized(kind RoleKind) error {
	return &Error{Kind: KindRoleCatalogUninitialized, Key: string(kind)}
}

func ConcurrentModification(key string) error {
	return &Error{Kind: KindConcurrentModification, Key: key}
}

// ValidationFailure reports an invalid input field. reason may be nil.
func ValidationFailure(field string, reason error) error {
	return &Error{Kind: KindValidation, Key: field, Err: reason}
}

// KindOf returns the kind of the first *Error in err's chain, or 0 when err
// is nil or unclassified.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
