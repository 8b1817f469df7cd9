package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/identity-system/internal/api/metrics"
	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
	"github.com/99minutos/identity-system/internal/core/service"
)

// UserHandler handles HTTP requests for users, role membership and
// authority lookups. Domain errors are returned to Echo's HTTPErrorHandler.
type UserHandler struct {
	users       ports.ReconciliationService
	membership  ports.MembershipService
	authorities ports.AuthorityService
	retries     int
}

// NewUserHandler builds a UserHandler. retries bounds the read-modify-write
// attempts of profile updates and role changes on version conflicts.
func NewUserHandler(
	users ports.ReconciliationService,
	membership ports.MembershipService,
	authorities ports.AuthorityService,
	retries int,
) *UserHandler {
	if retries < 1 {
		retries = 1
	}
	return &UserHandler{
		users:       users,
		membership:  membership,
		authorities: authorities,
		retries:     retries,
	}
}

// Create handles POST /api/users.
//
// @Summary      Create a user from an identity claim
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      identityClaimRequest  true  "Identity claim"
// @Success      201   {object}  userResponse
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /api/users [post]
func (h *UserHandler) Create(c echo.Context) error {
	var req identityClaimRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.users.CreateUser(c.Request().Context(), toIdentityClaim(req))
	if err != nil {
		return err
	}
	metrics.UsersCreatedTotal.WithLabelValues("create").Inc()

	return c.JSON(http.StatusCreated, toUserResponse(user))
}

// CreateOrUpdate handles POST /api/users/create-or-update.
//
// @Summary      Reconcile an identity claim into a user
// @Description  Creates the user when neither email nor googleId is known, otherwise updates the profile of the matching user.
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      identityClaimRequest  true  "Identity claim"
// @Success      200   {object}  reconcileResponse
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /api/users/create-or-update [post]
func (h *UserHandler) CreateOrUpdate(c echo.Context) error {
	var req identityClaimRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	claim := toIdentityClaim(req)
	var result *ports.ReconcileResult
	err := h.retry(c, "reconcile", func(ctx context.Context) error {
		var err error
		result, err = h.users.Reconcile(ctx, claim)
		return err
	})
	if err != nil {
		return err
	}

	metrics.ReconciliationsTotal.WithLabelValues(string(result.Outcome)).Inc()
	if result.Outcome == ports.OutcomeCreated {
		metrics.UsersCreatedTotal.WithLabelValues("reconcile").Inc()
	}

	return c.JSON(http.StatusOK, reconcileResponse{
		userResponse: toUserResponse(result.User),
		Outcome:      string(result.Outcome),
	})
}

// Update handles PUT /api/users/:email.
//
// @Summary      Update a user's profile
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        email  path      string                true  "User email"
// @Param        body   body      updateProfileRequest  true  "Profile fields; omitted fields are kept"
// @Success      200    {object}  userResponse
// @Failure      400    {object}  errorResponse
// @Failure      404    {object}  errorResponse
// @Failure      409    {object}  errorResponse
// @Router       /api/users/{email} [put]
func (h *UserHandler) Update(c echo.Context) error {
	email := pathParam(c, "email")
	var req updateProfileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	var user *domain.User
	err := h.retry(c, "update_profile", func(ctx context.Context) error {
		var err error
		user, err = h.users.UpdateProfile(ctx, email, toProfileUpdate(req))
		return err
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toUserResponse(user))
}

// GetByEmail handles GET /api/users/:email.
//
// @Summary      Get a user by email
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        email  path      string  true  "User email"
// @Success      200    {object}  userResponse
// @Failure      404    {object}  errorResponse
// @Router       /api/users/{email} [get]
func (h *UserHandler) GetByEmail(c echo.Context) error {
	user, err := h.users.GetByEmail(c.Request().Context(), pathParam(c, "email"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}

// GetByGoogleID handles GET /api/users/google/:googleId.
//
// @Summary      Get a user by Google ID
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        googleId  path      string  true  "External identity provider ID"
// @Success      200       {object}  userResponse
// @Failure      404       {object}  errorResponse
// @Router       /api/users/google/{googleId} [get]
func (h *UserHandler) GetByGoogleID(c echo.Context) error {
	user, err := h.users.GetByExternalID(c.Request().Context(), pathParam(c, "googleId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}

// AssignRole handles POST /api/users/:email/roles.
//
// @Summary      Assign a role to a user
// @Description  Assigning a role the user already holds is a no-op.
// @Tags         roles
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        email  path      string             true  "User email"
// @Param        body   body      assignRoleRequest  true  "Role to assign (ADMIN, HR, MANAGER, USER)"
// @Success      200    {object}  userResponse
// @Failure      400    {object}  errorResponse
// @Failure      404    {object}  errorResponse
// @Failure      409    {object}  errorResponse
// @Router       /api/users/{email}/roles [post]
func (h *UserHandler) AssignRole(c echo.Context) error {
	email := pathParam(c, "email")
	var req assignRoleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	kind, err := domain.ParseRoleKind(req.RoleName)
	if err != nil {
		return err
	}

	var result *ports.MembershipResult
	err = h.retry(c, "assign", func(ctx context.Context) error {
		var err error
		result, err = h.membership.AssignRole(ctx, email, kind)
		return err
	})
	if err != nil {
		return err
	}
	recordRoleChange("assign", kind, result.Changed)

	return c.JSON(http.StatusOK, toUserResponse(result.User))
}

// RemoveRole handles DELETE /api/users/:email/roles/:roleName.
//
// @Summary      Remove a role from a user
// @Description  Removing a role the user does not hold is a no-op.
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        email     path      string  true  "User email"
// @Param        roleName  path      string  true  "Role to remove (ADMIN, HR, MANAGER, USER)"
// @Success      200       {object}  userResponse
// @Failure      400       {object}  errorResponse
// @Failure      404       {object}  errorResponse
// @Failure      409       {object}  errorResponse
// @Router       /api/users/{email}/roles/{roleName} [delete]
func (h *UserHandler) RemoveRole(c echo.Context) error {
	email := pathParam(c, "email")
	kind, err := domain.ParseRoleKind(pathParam(c, "roleName"))
	if err != nil {
		return err
	}

	var result *ports.MembershipResult
	err = h.retry(c, "remove", func(ctx context.Context) error {
		var err error
		result, err = h.membership.RemoveRole(ctx, email, kind)
		return err
	})
	if err != nil {
		return err
	}
	recordRoleChange("remove", kind, result.Changed)

	return c.JSON(http.StatusOK, toUserResponse(result.User))
}

// GetRoles handles GET /api/users/:email/roles.
//
// @Summary      List a user's role names
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        email  path      string  true  "User email"
// @Success      200    {array}   string
// @Failure      404    {object}  errorResponse
// @Router       /api/users/{email}/roles [get]
func (h *UserHandler) GetRoles(c echo.Context) error {
	roles, err := h.membership.GetRoles(c.Request().Context(), pathParam(c, "email"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toRoleNames(roles))
}

// AuthoritiesByEmail handles GET /api/users/:email/authorities.
//
// @Summary      Get a user's authorities by email
// @Description  Unknown users yield an empty list, not 404.
// @Tags         authorities
// @Produce      json
// @Security     BearerAuth
// @Param        email  path      string  true  "User email"
// @Success      200    {object}  authoritiesResponse
// @Failure      500    {object}  errorResponse
// @Router       /api/users/{email}/authorities [get]
func (h *UserHandler) AuthoritiesByEmail(c echo.Context) error {
	authorities, err := h.authorities.AuthoritiesForEmail(c.Request().Context(), pathParam(c, "email"))
	if err != nil {
		return err
	}
	recordAuthorityLookup("email", authorities)
	return c.JSON(http.StatusOK, authoritiesResponse{Authorities: authorities})
}

// AuthoritiesByGoogleID handles GET /api/users/google/:googleId/authorities.
//
// @Summary      Get a user's authorities by Google ID
// @Description  Unknown users yield an empty list, not 404.
// @Tags         authorities
// @Produce      json
// @Security     BearerAuth
// @Param        googleId  path      string  true  "External identity provider ID"
// @Success      200       {object}  authoritiesResponse
// @Failure      500       {object}  errorResponse
// @Router       /api/users/google/{googleId}/authorities [get]
func (h *UserHandler) AuthoritiesByGoogleID(c echo.Context) error {
	authorities, err := h.authorities.AuthoritiesForExternalID(c.Request().Context(), pathParam(c, "googleId"))
	if err != nil {
		return err
	}
	recordAuthorityLookup("external_id", authorities)
	return c.JSON(http.StatusOK, authoritiesResponse{Authorities: authorities})
}

func (h *UserHandler) retry(c echo.Context, op string, fn func(context.Context) error) error {
	onConflict := func() { metrics.VersionConflictsTotal.WithLabelValues(op).Inc() }
	return service.RetryOnConflict(c.Request().Context(), h.retries, onConflict, fn)
}

// bindAndValidate binds the body into req and runs the registered validator.
// A malformed body is a 400 from Echo; a failed rule is a ValidationFailure.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if c.Echo().Validator == nil {
		return nil
	}
	return c.Validate(req)
}

// pathParam returns the unescaped path parameter, so "a%40x.com" and
// "a@x.com" address the same user.
func pathParam(c echo.Context, name string) string {
	raw := c.Param(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func recordRoleChange(op string, kind domain.RoleKind, changed bool) {
	result := "noop"
	if changed {
		result = "changed"
	}
	metrics.RoleChangesTotal.WithLabelValues(op, kind.String(), result).Inc()
}

func recordAuthorityLookup(by string, authorities []string) {
	result := "empty"
	if len(authorities) > 0 {
		result = "granted"
	}
	metrics.AuthorityLookupsTotal.WithLabelValues(by, result).Inc()
}
