package health

import (
	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping() error
}

type HealthEndpoints struct {
	version string
	db      Pinger
}

func NewEndpoints(version string, db Pinger) *HealthEndpoints {
	return &HealthEndpoints{
		version: version,
		db:      db,
	}
}

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

func (h *HealthEndpoints) Health(ctx *fasthttp.RequestCtx) {
	response := HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Database: "ok",
	}

	statusCode := fasthttp.StatusOK
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			response.Status = "degraded"
			response.Database = "unreachable"
			statusCode = fasthttp.StatusServiceUnavailable
		}
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(statusCode)

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetBody(responseJSON)
}
