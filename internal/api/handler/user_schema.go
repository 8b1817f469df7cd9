package handler

import (
	"time"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

// errorResponse is the standard error envelope returned on all 4xx/5xx responses.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// --- Request / Response types ---

// identityClaimRequest is the body of both POST /api/users and
// POST /api/users/create-or-update. Absent name or picture never clears a
// stored value. Length limits match the users table columns.
type identityClaimRequest struct {
	Email    string  `json:"email"    validate:"required,email,max=100"`
	GoogleID string  `json:"googleId" validate:"required,max=100"`
	Name     *string `json:"name"     validate:"omitempty,max=100"`
	Picture  *string `json:"picture"  validate:"omitempty,max=500"`
}

type updateProfileRequest struct {
	Name    *string `json:"name"    validate:"omitempty,max=100"`
	Picture *string `json:"picture" validate:"omitempty,max=500"`
}

type assignRoleRequest struct {
	RoleName string `json:"roleName" validate:"required"`
}

type userResponse struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	GoogleID  string     `json:"googleId"`
	Name      string     `json:"name,omitempty"`
	Picture   string     `json:"picture,omitempty"`
	Roles     []string   `json:"roles"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Version   int64      `json:"version"`
}

type reconcileResponse struct {
	userResponse
	Outcome string `json:"outcome"`
}

type authoritiesResponse struct {
	Authorities []string `json:"authorities"`
}

// --- Request → Service input ---

func toIdentityClaim(req identityClaimRequest) ports.IdentityClaim {
	return ports.IdentityClaim{
		Email:      req.Email,
		ExternalID: req.GoogleID,
		Name:       req.Name,
		Picture:    req.Picture,
	}
}

func toProfileUpdate(req updateProfileRequest) ports.ProfileUpdate {
	return ports.ProfileUpdate{Name: req.Name, Picture: req.Picture}
}

// --- Service result → HTTP response ---

func toUserResponse(u *domain.User) userResponse {
	resp := userResponse{
		ID:        u.ID,
		Email:     u.Email,
		GoogleID:  u.ExternalID,
		Name:      u.Name,
		Picture:   u.Picture,
		Roles:     u.Roles.Names(),
		CreatedAt: u.CreatedAt.UTC(),
		Version:   u.Version,
	}
	if !u.UpdatedAt.IsZero() {
		updated := u.UpdatedAt.UTC()
		resp.UpdatedAt = &updated
	}
	return resp
}

func toRoleNames(roles []domain.Role) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Kind.String()
	}
	return names
}
