package api

import (
	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/99minutos/identity-system/docs"
	"github.com/99minutos/identity-system/internal/api/handler"
	"github.com/99minutos/identity-system/internal/api/middleware"
	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
)

// Dependencies are the collaborators the router wires into handlers.
type Dependencies struct {
	Users       ports.ReconciliationService
	Membership  ports.MembershipService
	Authorities ports.AuthorityService

	// Readiness holds the named dependency pings behind /health/ready.
	Readiness map[string]handler.PingFunc

	// JWTSecret enables bearer-token checks on /api when non-empty.
	JWTSecret string
	// ConflictRetries bounds retries of writes that lose a version race.
	ConflictRetries int

	// Registerer receives the HTTP request metrics. Nil means the default
	// Prometheus registerer.
	Registerer prometheus.Registerer

	Logger zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Logger)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware("identity.http")))
	e.Use(requestLogger(deps.Logger))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "identity",
		Subsystem:  "http",
		Registerer: deps.Registerer,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))

	// --- Health probes and metrics (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	healthDepsHandler := handler.NewHealthDependenciesHandler(deps.Readiness)

	e.GET("/health", healthHandler.Liveness)            // liveness  – is the process alive?
	e.GET("/health/ready", healthDepsHandler.Readiness) // readiness – are dependencies up?
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// --- User, role and authority routes ---
	users := handler.NewUserHandler(deps.Users, deps.Membership, deps.Authorities, deps.ConflictRetries)

	api := e.Group("/api/users")
	roleAdmin := []echo.MiddlewareFunc{}
	if deps.JWTSecret != "" {
		api.Use(middleware.Auth(deps.JWTSecret))
		roleAdmin = append(roleAdmin, middleware.RequireAuthority(domain.RoleAdmin.Authority()))
	} else {
		deps.Logger.Warn().Msg("JWT_SECRET is empty, /api routes are unauthenticated")
	}

	api.POST("", users.Create)
	api.POST("/create-or-update", users.CreateOrUpdate)
	api.GET("/google/:googleId", users.GetByGoogleID)
	api.GET("/google/:googleId/authorities", users.AuthoritiesByGoogleID)
	api.GET("/:email", users.GetByEmail)
	api.PUT("/:email", users.Update)
	api.GET("/:email/roles", users.GetRoles)
	api.POST("/:email/roles", users.AssignRole, roleAdmin...)
	api.DELETE("/:email/roles/:roleName", users.RemoveRole, roleAdmin...)
	api.GET("/:email/authorities", users.AuthoritiesByEmail)

	return e
}

// requestLogger emits one zerolog line per request.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			switch {
			case v.Status >= 500:
				ev = log.Error().Err(v.Error)
			case v.Error != nil:
				ev = log.Warn().Err(v.Error)
			}
			ev.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
