package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/privilege"
	"github.com/ahmetcoskunkizilkaya/mizan-backend/internal/store/memstore"
)

const testSecret = "middleware-secret"

func sign(t *testing.T, method jwt.SigningMethod, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func get(t *testing.T, app *fiber.App, path, bearer string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestJWTProtected(t *testing.T) {
	app := fiber.New()
	app.Get("/me", JWTProtected(&config.Config{JWTSecret: testSecret}), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, get(t, app, "/me", sign(t, jwt.SigningMethodHS256, uuid.NewString())))
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/me", ""))
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/me", sign(t, jwt.SigningMethodHS384, uuid.NewString())),
		"only HS256 session tokens")
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/me", sign(t, jwt.SigningMethodHS256, "oidc|42")),
		"sub must be an internal user id")
}

func TestModeratorRequired(t *testing.T) {
	st := memstore.New()
	mod := uuid.New()
	require.NoError(t, st.UpsertModRole(context.Background(), &models.ModRole{
		UserID: mod, Role: string(privilege.RoleReadOnly), GrantedAt: time.Now().UTC(),
	}))

	app := fiber.New()
	app.Get("/mod", JWTProtected(&config.Config{JWTSecret: testSecret}), ModeratorRequired(privilege.NewGate(st)),
		func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, get(t, app, "/mod", sign(t, jwt.SigningMethodHS256, mod.String())))
	assert.Equal(t, http.StatusForbidden, get(t, app, "/mod", sign(t, jwt.SigningMethodHS256, uuid.NewString())))
}

func TestCORS_ExposesRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(&config.Config{CORSOrigins: "https://app.example.com"}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-ID", resp.Header.Get("Access-Control-Expose-Headers"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestMetrics_LabelsByRouteTemplate(t *testing.T) {
	app := fiber.New()
	app.Use(Metrics())
	app.Get("/users/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusTeapot) })

	before := testutil.CollectAndCount(metrics.HTTPRequestDuration)
	get(t, app, "/users/"+uuid.NewString(), "")
	get(t, app, "/users/"+uuid.NewString(), "")

	// Two distinct ids share one series.
	assert.Equal(t, before+1, testutil.CollectAndCount(metrics.HTTPRequestDuration))
}
