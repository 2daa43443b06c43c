package middleware_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/breedhub/bhit-node/internal/server/middleware"
	"github.com/breedhub/bhit-node/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	next, called := okHandler()
	h := middleware.Chain(next,
		middleware.RequestMetadataMiddleware(),
		middleware.NewAuthMiddleware(newTestLogger(), secret),
	)

	t.Run("valid token", func(t *testing.T) {
		*called = false
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "trackerctl"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, *called)
	})

	t.Run("missing header", func(t *testing.T) {
		*called = false
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, *called)
	})

	t.Run("wrong secret", func(t *testing.T) {
		*called = false
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", "trackerctl"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, *called)
	})

	t.Run("missing subject", func(t *testing.T) {
		*called = false
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, secret, ""))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, *called)
	})
}

func TestConnectionLimiter(t *testing.T) {
	logger := newTestLogger()

	t.Run("reject over cap", func(t *testing.T) {
		next, called := okHandler()
		count := 0
		h := middleware.Chain(next,
			middleware.RequestMetadataMiddleware(),
			middleware.NewConnectionLimiter(logger,
				func(addr string) int { return count },
				func(addr string) {},
				config.ConnectionLimitConfig{MaxPerIP: 2, Mode: "reject"},
			),
		)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		count = 2
		*called = false
		w = httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.False(t, *called)
	})

	t.Run("cycle closes oldest and proceeds", func(t *testing.T) {
		next, called := okHandler()
		cycled := ""
		h := middleware.Chain(next,
			middleware.RequestMetadataMiddleware(),
			middleware.NewConnectionLimiter(logger,
				func(addr string) int { return 5 },
				func(addr string) { cycled = addr },
				config.ConnectionLimitConfig{MaxPerIP: 2, Mode: "cycle"},
			),
		)

		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, *called)
		assert.Equal(t, "203.0.113.7", cycled)
	})

	t.Run("disabled when cap is zero", func(t *testing.T) {
		next, called := okHandler()
		h := middleware.Chain(next,
			middleware.RequestMetadataMiddleware(),
			middleware.NewConnectionLimiter(logger,
				func(addr string) int { return 100 },
				func(addr string) {},
				config.ConnectionLimitConfig{},
			),
		)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, *called)
	})
}
