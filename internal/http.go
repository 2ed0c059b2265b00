package internal

import (
	"strings"

	"github.com/filegate/filegate_server/internal/audit"
	"github.com/filegate/filegate_server/internal/file"
	"github.com/filegate/filegate_server/internal/health"
	"github.com/filegate/filegate_server/internal/middleware"
	"github.com/valyala/fasthttp"
)

func NewRequestHandler(config *Config, fileEndpoints *file.Endpoints, healthEndpoints *health.HealthEndpoints, auditHandler *audit.Handler) fasthttp.RequestHandler {
	authMiddleware := middleware.NewAuthMiddleware(config.Auth.Secret)
	corsMiddleware := middleware.NewCORSMiddleware(config.Server.AllowedOrigins)

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())

		switch {
		case path == "/health":
			healthEndpoints.Health(ctx)

		case path == "/files/upload":
			method := string(ctx.Method())
			if method == "POST" {
				authMiddleware.RequireAuth(fileEndpoints.Upload)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case path == "/files":
			method := string(ctx.Method())
			if method == "GET" {
				authMiddleware.RequireAuth(fileEndpoints.ListFiles)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case strings.HasPrefix(path, "/files/") && strings.HasSuffix(path, "/download"):
			parts := strings.Split(path, "/")
			if len(parts) == 4 && parts[3] == "download" {
				ctx.SetUserValue("fileID", parts[2])
				authMiddleware.RequireAuth(fileEndpoints.Download)(ctx)
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}
		case strings.HasPrefix(path, "/files/"):
			parts := strings.Split(path, "/")
			if len(parts) == 3 {
				ctx.SetUserValue("fileID", parts[2])
				method := string(ctx.Method())
				switch method {
				case "GET":
					authMiddleware.RequireAuth(fileEndpoints.GetFile)(ctx)
				case "DELETE":
					authMiddleware.RequireAuth(fileEndpoints.DeleteFile)(ctx)
				default:
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		case path == "/admin/storage/stats":
			method := string(ctx.Method())
			if method == "GET" {
				authMiddleware.RequireRole(middleware.RoleAdmin, fileEndpoints.Stats)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case path == "/admin/storage/cleanup":
			method := string(ctx.Method())
			if method == "POST" {
				authMiddleware.RequireRole(middleware.RoleAdmin, fileEndpoints.Cleanup)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}

		case path == "/audit/ws":
			authMiddleware.RequireRole(middleware.RoleAdmin, auditHandler.HandleFastHTTP)(ctx)

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return corsMiddleware.Handle(handler)
}
