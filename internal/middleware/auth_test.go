package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return signed
}

func requestWithToken(token string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	if token != "" {
		ctx.Request.Header.Set("Authorization", "Bearer "+token)
	}
	return ctx
}

func TestRequireAuth_ValidTokenSetsUserValues(t *testing.T) {
	am := NewAuthMiddleware(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "owner-42", "role": "admin"})

	called := false
	handler := am.RequireAuth(func(ctx *fasthttp.RequestCtx) {
		called = true
		assert.Equal(t, "owner-42", ctx.UserValue("ownerId"))
		assert.Equal(t, "admin", ctx.UserValue("role"))
	})
	handler(requestWithToken(token))

	assert.True(t, called)
}

func TestRequireAuth_MissingRoleDefaultsToUser(t *testing.T) {
	am := NewAuthMiddleware(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "owner-1"})

	handler := am.RequireAuth(func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, RoleUser, ctx.UserValue("role"))
	})
	handler(requestWithToken(token))
}

func TestRequireAuth_RejectsMissingHeader(t *testing.T) {
	am := NewAuthMiddleware(testSecret)

	ctx := requestWithToken("")
	am.RequireAuth(func(ctx *fasthttp.RequestCtx) {
		t.Fatal("handler must not run without a token")
	})(ctx)

	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestRequireAuth_RejectsWrongSecret(t *testing.T) {
	am := NewAuthMiddleware(testSecret)
	token := signToken(t, "some-other-secret", jwt.MapClaims{"sub": "owner-1"})

	ctx := requestWithToken(token)
	am.RequireAuth(func(ctx *fasthttp.RequestCtx) {
		t.Fatal("handler must not run with a forged token")
	})(ctx)

	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestRequireAuth_RejectsExpiredToken(t *testing.T) {
	am := NewAuthMiddleware(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "owner-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	ctx := requestWithToken(token)
	am.RequireAuth(func(ctx *fasthttp.RequestCtx) {
		t.Fatal("handler must not run with an expired token")
	})(ctx)

	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestRequireAuth_RejectsTokenWithoutSubject(t *testing.T) {
	am := NewAuthMiddleware(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{"role": "admin"})

	ctx := requestWithToken(token)
	am.RequireAuth(func(ctx *fasthttp.RequestCtx) {
		t.Fatal("handler must not run without a subject claim")
	})(ctx)

	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestRequireRole_EnforcesRole(t *testing.T) {
	am := NewAuthMiddleware(testSecret)
	userToken := signToken(t, testSecret, jwt.MapClaims{"sub": "owner-1", "role": "user"})
	adminToken := signToken(t, testSecret, jwt.MapClaims{"sub": "owner-2", "role": "admin"})

	ctx := requestWithToken(userToken)
	am.RequireRole(RoleAdmin, func(ctx *fasthttp.RequestCtx) {
		t.Fatal("handler must not run for a non-admin")
	})(ctx)
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	called := false
	am.RequireRole(RoleAdmin, func(ctx *fasthttp.RequestCtx) {
		called = true
	})(requestWithToken(adminToken))
	assert.True(t, called)
}
