package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireAuthority lets the request through when the authorities injected
// by Auth contain at least one of allowed.
func RequireAuthority(allowed ...string) echo.MiddlewareFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			granted, _ := c.Get(ContextAuthorities).([]string)
			for _, a := range granted {
				if _, ok := set[a]; ok {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
		}
	}
}
