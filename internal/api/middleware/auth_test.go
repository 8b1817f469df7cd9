package middleware

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := echo.New()
	token := signed(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub":         "gateway",
		"email":       "admin@x.com",
		"authorities": []string{"ROLE_USER", "ROLE_ADMIN"},
		"exp":         time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	mw := Auth("secret")
	handler := mw(func(c echo.Context) error {
		called = true
		if c.Get(ContextSubject) != "gateway" {
			t.Fatalf("subject not set")
		}
		if c.Get(ContextEmail) != "admin@x.com" {
			t.Fatalf("email not set")
		}
		got, _ := c.Get(ContextAuthorities).([]string)
		if !reflect.DeepEqual(got, []string{"ROLE_USER", "ROLE_ADMIN"}) {
			t.Fatalf("authorities not set: %v", got)
		}
		return c.NoContent(http.StatusOK)
	})

	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !called {
		t.Fatalf("next not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware_SpaceSeparatedAuthorities(t *testing.T) {
	e := echo.New()
	token := signed(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub":         "svc",
		"authorities": "ROLE_USER ROLE_HR",
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	c := e.NewContext(req, httptest.NewRecorder())

	handler := Auth("secret")(func(c echo.Context) error {
		got, _ := c.Get(ContextAuthorities).([]string)
		if !reflect.DeepEqual(got, []string{"ROLE_USER", "ROLE_HR"}) {
			t.Fatalf("unexpected authorities: %v", got)
		}
		return nil
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	expired := signed(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub": "svc",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	wrongKey := signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "svc"})
	wrongAlg := signed(t, jwt.SigningMethodHS512, []byte("secret"), jwt.MapClaims{"sub": "svc"})

	tests := map[string]string{
		"missing header":  "",
		"invalid format":  "Token abc",
		"garbage token":   "Bearer not-a-token",
		"expired token":   "Bearer " + expired,
		"wrong key":       "Bearer " + wrongKey,
		"wrong algorithm": "Bearer " + wrongAlg,
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			handler := Auth("secret")(func(c echo.Context) error {
				t.Fatalf("should not reach next")
				return nil
			})
			if err := handler(c); err != nil {
				e.HTTPErrorHandler(err, c)
			}

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}
