package domain

import "time"

// User is the identity record reconciled from external identity claims.
// Email and ExternalID are each unique across users; ExternalID and
// CreatedAt never change after creation.
type User struct {
	ID         int64
	ExternalID string
	Email      string
	Name       string
	Picture    string
	// Roles is nil when the user was loaded without its role set.
	Roles     RoleSet
	CreatedAt time.Time
	UpdatedAt time.Time
	// Version is compared and incremented by the store on every save.
	Version int64
}

// NewUser builds an unsaved user holding exactly the given role.
func NewUser(email, externalID, name, picture string, role Role) *User {
	return &User{
		Email:      email,
		ExternalID: externalID,
		Name:       name,
		Picture:    picture,
		Roles:      NewRoleSet(role),
	}
}

// RolesLoaded reports whether Roles reflects persisted membership.
func (u *User) RolesLoaded() bool {
	return u.Roles != nil
}

// ApplyProfile sets each non-nil field that differs from the current value
// and reports whether anything changed.
func (u *User) ApplyProfile(name, picture *string) bool {
	changed := false
	if name != nil && *name != u.Name {
		u.Name = *name
		changed = true
	}
	if picture != nil && *picture != u.Picture {
		u.Picture = *picture
		changed = true
	}
	return changed
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = u.Roles.Clone()
	return &c
}
