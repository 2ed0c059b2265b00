package middleware

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// AuthMiddleware validates the bearer token issued by the upstream identity
// service and exposes the caller as ownerId/role user values. Issuing tokens
// and managing identities is not this server's job.
type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

func (am *AuthMiddleware) RequireAuth(handler fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ownerID, role, err := am.validateRequest(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("Authentication failed")
			ctx.Error("Unauthorized", fasthttp.StatusUnauthorized)
			return
		}

		ctx.SetUserValue("ownerId", ownerID)
		ctx.SetUserValue("role", role)

		handler(ctx)
	}
}

func (am *AuthMiddleware) RequireRole(role string, handler fasthttp.RequestHandler) fasthttp.RequestHandler {
	return am.RequireAuth(func(ctx *fasthttp.RequestCtx) {
		actual, ok := ctx.UserValue("role").(string)
		if !ok || actual != role {
			log.Debug().Str("required", role).Msg("Insufficient permissions")
			ctx.Error("Forbidden", fasthttp.StatusForbidden)
			return
		}

		handler(ctx)
	})
}

func (am *AuthMiddleware) validateRequest(ctx *fasthttp.RequestCtx) (ownerID, role string, err error) {
	header := string(ctx.Request.Header.Peek("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "", fmt.Errorf("missing bearer token")
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return am.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("invalid token claims")
	}

	ownerID, _ = claims["sub"].(string)
	if ownerID == "" {
		return "", "", fmt.Errorf("token is missing subject")
	}
	role, _ = claims["role"].(string)
	if role == "" {
		role = RoleUser
	}
	return ownerID, role, nil
}
