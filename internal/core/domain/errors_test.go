package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindAndEntity(t *testing.T) {
	err := NotFound(EntityUser, "a@x.com")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NotErrorIs(t, err, ErrRoleNotFound)
	assert.NotErrorIs(t, err, ErrDuplicateIdentity)
}

func TestError_IsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("save: %w", ConcurrentModification("7"))

	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, KindConcurrentModification, KindOf(err))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, ErrorKind(0), KindOf(nil))
	assert.Equal(t, ErrorKind(0), KindOf(errors.New("boom")))
	assert.Equal(t, "internal", ErrorKind(0).String())
}

func TestError_Messages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{NotFound(EntityRole, "HR"), "role not found: HR"},
		{DuplicateIdentity("a@x.com"), "user already exists: a@x.com"},
		{RoleCatalogUninitialized(RoleUser), "role catalog uninitialized: missing USER"},
		{ConcurrentModification("3"), "concurrent modification of 3"},
		{ValidationFailure("email", errors.New("is required")), "invalid email: is required"},
		{ValidationFailure("roleName", nil), "invalid roleName"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestValidationFailure_UnwrapsReason(t *testing.T) {
	reason := errors.New("too long")
	err := ValidationFailure("name", reason)

	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, reason)
}
