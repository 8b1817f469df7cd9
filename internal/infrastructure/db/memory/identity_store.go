// Package memory is an in-process IdentityStore with the same uniqueness and
// optimistic-locking guarantees as the database adapters. It backs local
// development (STORE_DRIVER=memory) and the service tests.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/99minutos/identity-system/internal/core/domain"
)

type userRecord struct {
	user  domain.User // Roles always nil here
	roles map[domain.RoleKind]struct{}
}

// IdentityStore keeps users and roles in maps guarded by one mutex, so every
// call observes and produces a consistent snapshot.
type IdentityStore struct {
	mu         sync.RWMutex
	users      map[int64]*userRecord
	byEmail    map[string]int64
	byExternal map[string]int64
	roles      map[domain.RoleKind]domain.Role
	nextUserID int64
	nextRoleID int64
	now        func() time.Time
}

func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		users:      make(map[int64]*userRecord),
		byEmail:    make(map[string]int64),
		byExternal: make(map[string]int64),
		roles:      make(map[domain.RoleKind]domain.Role),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *IdentityStore) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(s.byEmail, email, false)
}

func (s *IdentityStore) FindByExternalID(_ context.Context, externalID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(s.byExternal, externalID, false)
}

func (s *IdentityStore) FindByEmailWithRoles(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(s.byEmail, email, true)
}

func (s *IdentityStore) FindByExternalIDWithRoles(_ context.Context, externalID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(s.byExternal, externalID, true)
}

func (s *IdentityStore) FindRoleByKind(_ context.Context, kind domain.RoleKind) (*domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[kind]
	if !ok {
		return nil, domain.NotFound(domain.EntityRole, kind.String())
	}
	return &role, nil
}

func (s *IdentityStore) Save(_ context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == 0 {
		return s.insert(user)
	}
	return s.update(user)
}

func (s *IdentityStore) SaveRoleIfAbsent(_ context.Context, role domain.Role) (*domain.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.roles[role.Kind]; ok {
		return &existing, nil
	}
	s.nextRoleID++
	role.ID = s.nextRoleID
	s.roles[role.Kind] = role
	return &role, nil
}

func (s *IdentityStore) Ping(context.Context) error { return nil }

func (s *IdentityStore) insert(user *domain.User) (*domain.User, error) {
	if _, taken := s.byEmail[user.Email]; taken {
		return nil, domain.DuplicateIdentity(user.Email)
	}
	if _, taken := s.byExternal[user.ExternalID]; taken {
		return nil, domain.DuplicateIdentity(user.ExternalID)
	}
	roles, err := s.membership(user.Roles)
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.nextUserID++
	rec := &userRecord{user: *user, roles: roles}
	rec.user.ID = s.nextUserID
	rec.user.Roles = nil
	rec.user.CreatedAt = now
	rec.user.UpdatedAt = now
	rec.user.Version = 1
	if rec.roles == nil {
		rec.roles = map[domain.RoleKind]struct{}{}
	}

	s.users[rec.user.ID] = rec
	s.byEmail[rec.user.Email] = rec.user.ID
	s.byExternal[rec.user.ExternalID] = rec.user.ID
	return s.snapshot(rec, true), nil
}

func (s *IdentityStore) update(user *domain.User) (*domain.User, error) {
	key := strconv.FormatInt(user.ID, 10)
	rec, ok := s.users[user.ID]
	if !ok {
		return nil, domain.NotFound(domain.EntityUser, key)
	}
	if rec.user.Version != user.Version {
		return nil, domain.ConcurrentModification(key)
	}
	if id, taken := s.byEmail[user.Email]; taken && id != user.ID {
		return nil, domain.DuplicateIdentity(user.Email)
	}

	var roles map[domain.RoleKind]struct{}
	if user.Roles != nil {
		var err error
		if roles, err = s.membership(user.Roles); err != nil {
			return nil, err
		}
	}

	if rec.user.Email != user.Email {
		delete(s.byEmail, rec.user.Email)
		s.byEmail[user.Email] = user.ID
	}
	rec.user.Email = user.Email
	rec.user.Name = user.Name
	rec.user.Picture = user.Picture
	rec.user.UpdatedAt = s.now()
	rec.user.Version++
	if roles != nil {
		rec.roles = roles
	}
	return s.snapshot(rec, true), nil
}

// membership checks every role against the catalog, like the foreign key on
// user_roles does.
func (s *IdentityStore) membership(set domain.RoleSet) (map[domain.RoleKind]struct{}, error) {
	if set == nil {
		return nil, nil
	}
	out := make(map[domain.RoleKind]struct{}, len(set))
	for kind := range set {
		if _, ok := s.roles[kind]; !ok {
			return nil, domain.NotFound(domain.EntityRole, kind.String())
		}
		out[kind] = struct{}{}
	}
	return out, nil
}

func (s *IdentityStore) find(index map[string]int64, key string, withRoles bool) (*domain.User, error) {
	id, ok := index[key]
	if !ok {
		return nil, domain.NotFound(domain.EntityUser, key)
	}
	return s.snapshot(s.users[id], withRoles), nil
}

func (s *IdentityStore) snapshot(rec *userRecord, withRoles bool) *domain.User {
	u := rec.user
	if withRoles {
		u.Roles = make(domain.RoleSet, len(rec.roles))
		for kind := range rec.roles {
			u.Roles[kind] = s.roles[kind]
		}
	}
	return &u
}
