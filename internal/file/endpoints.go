package file

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/filegate/filegate_server/internal/inspect"
	"github.com/filegate/filegate_server/internal/pathguard"
)

type Endpoints struct {
	service *Service
	reaper  *Reaper
}

func NewEndpoints(service *Service, reaper *Reaper) *Endpoints {
	return &Endpoints{service: service, reaper: reaper}
}

// Upload accepts a multipart request with one or more "file" parts plus a
// declared category. Each part is normalized into an owned buffer before the
// pipeline sees it.
func (e *Endpoints) Upload(ctx *fasthttp.RequestCtx) {
	ownerID, ok := requireOwner(ctx)
	if !ok {
		return
	}

	contentType := string(ctx.Request.Header.ContentType())
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		ctx.Error("Content-Type must be multipart/form-data", fasthttp.StatusBadRequest)
		return
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		ctx.Error("Failed to parse multipart form", fasthttp.StatusBadRequest)
		return
	}

	files := form.File["file"]
	if len(files) == 0 {
		ctx.Error("No file uploaded", fasthttp.StatusBadRequest)
		return
	}

	category := inspect.CategoryResource
	if values := form.Value["category"]; len(values) > 0 {
		parsed, ok := inspect.ParseCategory(values[0])
		if !ok {
			ctx.Error("Unknown category", fasthttp.StatusBadRequest)
			return
		}
		category = parsed
	}

	isPublic := false
	if values := form.Value["isPublic"]; len(values) > 0 {
		isPublic = values[0] == "true"
	}

	var metadata map[string]interface{}
	if values := form.Value["metadata"]; len(values) > 0 && values[0] != "" {
		if err := json.Unmarshal([]byte(values[0]), &metadata); err != nil {
			ctx.Error("Invalid metadata JSON", fasthttp.StatusBadRequest)
			return
		}
	}

	uploads := make([]Upload, 0, len(files))
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			ctx.Error("Failed to open uploaded file", fasthttp.StatusInternalServerError)
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			ctx.Error("Failed to read uploaded file", fasthttp.StatusInternalServerError)
			return
		}

		uploads = append(uploads, Upload{
			Name:         header.Filename,
			DeclaredType: header.Header.Get("Content-Type"),
			Category:     category,
			Content:      content,
			IsPublic:     isPublic,
			Metadata:     metadata,
		})
	}

	report, err := e.service.ProcessUpload(ctx, ownerID, uploads)
	if err != nil {
		if errors.Is(err, ErrTooManyFiles) || errors.Is(err, ErrRequestSize) {
			ctx.Error(err.Error(), fasthttp.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Upload request failed")
		ctx.Error("Upload failed", fasthttp.StatusInternalServerError)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, report)
}

func (e *Endpoints) GetFile(ctx *fasthttp.RequestCtx) {
	ownerID, ok := requireOwner(ctx)
	if !ok {
		return
	}
	fileID, ok := ctx.UserValue("fileID").(string)
	if !ok || fileID == "" {
		ctx.Error("File ID is required", fasthttp.StatusBadRequest)
		return
	}

	rec, err := e.service.GetFile(fileID, ownerID)
	if err != nil {
		ctx.Error("File not found", fasthttp.StatusNotFound)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, rec)
}

// Download resolves the physical path through the path guard on every
// request and streams the bytes. Quarantined and deleted files are
// indistinguishable from missing ones.
func (e *Endpoints) Download(ctx *fasthttp.RequestCtx) {
	ownerID, ok := requireOwner(ctx)
	if !ok {
		return
	}
	fileID, ok := ctx.UserValue("fileID").(string)
	if !ok || fileID == "" {
		ctx.Error("File ID is required", fasthttp.StatusBadRequest)
		return
	}
	variantKind := string(ctx.QueryArgs().Peek("variant"))

	resolved, rec, err := e.service.DownloadPath(ctx, fileID, variantKind, ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, pathguard.ErrNotFound) {
			ctx.Error("File not found", fasthttp.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("fileId", fileID).Msg("Download resolution failed")
		ctx.Error("Failed to retrieve file", fasthttp.StatusInternalServerError)
		return
	}

	mimeType := rec.DetectedType
	if variantKind != "" {
		for _, v := range rec.Variants {
			if v.Kind == variantKind {
				mimeType = v.MimeType
			}
		}
	}
	ctx.SetContentType(mimeType)
	ctx.Response.Header.Set("Content-Disposition", "inline; filename=\""+rec.OriginalName+"\"")
	ctx.SendFile(resolved)
}

func (e *Endpoints) DeleteFile(ctx *fasthttp.RequestCtx) {
	ownerID, ok := requireOwner(ctx)
	if !ok {
		return
	}
	fileID, ok := ctx.UserValue("fileID").(string)
	if !ok || fileID == "" {
		ctx.Error("File ID is required", fasthttp.StatusBadRequest)
		return
	}

	if err := e.service.DeleteFile(fileID, ownerID); err != nil {
		switch {
		case errors.Is(err, ErrNotAuthorized):
			ctx.Error("Not authorized to delete this file", fasthttp.StatusForbidden)
		case errors.Is(err, ErrNotFound):
			ctx.Error("File not found", fasthttp.StatusNotFound)
		default:
			log.Error().Err(err).Str("fileId", fileID).Msg("Delete failed")
			ctx.Error("Failed to delete file", fasthttp.StatusInternalServerError)
		}
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (e *Endpoints) ListFiles(ctx *fasthttp.RequestCtx) {
	ownerID, ok := requireOwner(ctx)
	if !ok {
		return
	}

	filter := ListFilter{}
	if v := string(ctx.QueryArgs().Peek("category")); v != "" {
		if parsed, ok := inspect.ParseCategory(v); ok {
			filter.Category = parsed
		}
	}
	if v, err := strconv.Atoi(string(ctx.QueryArgs().Peek("limit"))); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(string(ctx.QueryArgs().Peek("offset"))); err == nil {
		filter.Offset = v
	}

	records, err := e.service.ListFiles(ownerID, filter)
	if err != nil {
		log.Error().Err(err).Msg("List files failed")
		ctx.Error("Failed to list files", fasthttp.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*FileRecord{}
	}
	writeJSON(ctx, fasthttp.StatusOK, records)
}

// Stats is the admin ops surface: disk capacity, ledger counts and recent
// uploads.
func (e *Endpoints) Stats(ctx *fasthttp.RequestCtx) {
	snapshot, err := e.service.HealthSnapshot()
	if err != nil {
		log.Error().Err(err).Msg("Health snapshot failed")
		ctx.Error("Failed to collect storage stats", fasthttp.StatusInternalServerError)
		return
	}
	recent, err := e.service.RecentUploads(10)
	if err != nil {
		log.Error().Err(err).Msg("Recent uploads query failed")
		ctx.Error("Failed to collect storage stats", fasthttp.StatusInternalServerError)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, struct {
		*HealthSnapshot
		RecentUploads []*FileRecord `json:"recentUploads"`
	}{snapshot, recent})
}

// Cleanup triggers a reaper pass out of band.
func (e *Endpoints) Cleanup(ctx *fasthttp.RequestCtx) {
	go e.reaper.RunNow()
	ctx.SetStatusCode(fasthttp.StatusAccepted)
}

func requireOwner(ctx *fasthttp.RequestCtx) (string, bool) {
	ownerID, ok := ctx.UserValue("ownerId").(string)
	if !ok || ownerID == "" {
		ctx.Error("Unauthorized", fasthttp.StatusUnauthorized)
		return "", false
	}
	return ownerID, true
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}
