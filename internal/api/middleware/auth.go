package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by Auth.
const (
	ContextSubject     = "subject"
	ContextEmail       = "email"
	ContextAuthorities = "authorities"
)

// Auth validates an HS256 bearer token and injects its subject, email and
// authorities claims into the context. The authorities claim is a list of
// strings such as ["ROLE_USER","ROLE_ADMIN"].
func Auth(jwtSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
			}

			claims := jwt.MapClaims{}
			tkn, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !tkn.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			sub, _ := claims.GetSubject()
			email, _ := claims["email"].(string)

			c.Set(ContextSubject, sub)
			c.Set(ContextEmail, email)
			c.Set(ContextAuthorities, authoritiesClaim(claims["authorities"]))

			return next(c)
		}
	}
}

// authoritiesClaim accepts a JSON array of strings or a single
// space-separated string; anything else yields no authorities.
func authoritiesClaim(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, a := range t {
			if s, ok := a.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(t)
	default:
		return []string{}
	}
}
