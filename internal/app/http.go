package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lexicms/api/internal/auth"
	"lexicms/api/internal/draft"
	"lexicms/api/internal/export"
	"lexicms/api/internal/media"
	"lexicms/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Del("Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		identity, err := s.service.IdentityFromToken(token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        identity.UserID,
			"email":         identity.Email,
			"role":          identity.Role,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/blocks/types" {
		writeJSON(w, http.StatusOK, map[string]any{"types": BlockTypes()})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "public" {
		s.handlePublic(w, r, parts)
		return
	}

	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "pages" {
		s.handlePages(w, r, identity, parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "blocks" {
		s.handleBlocks(w, r, identity, parts)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "composer" {
		s.handleComposer(w, r, identity, parts[2])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "editor" && parts[2] == "public-content" && r.Method == http.MethodGet {
		resolution, err := s.service.LoadPublicContent(r.Context(), identity, parts[3])
		writeResolution(w, resolution, err)
		return
	}

	if len(parts) == 2 && parts[0] == "api" && parts[1] == "media" && r.Method == http.MethodPost {
		s.handleMediaUpload(w, r, identity)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePublic(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 3 && parts[2] == "search" {
		query := search.Query{
			Text:   strings.TrimSpace(r.URL.Query().Get("q")),
			Limit:  queryInt(r, "limit", 20),
			Offset: queryInt(r, "offset", 0),
		}
		if query.Text == "" {
			writeJSON(w, http.StatusOK, search.Response{Results: []search.Result{}, Query: ""})
			return
		}
		writeJSON(w, http.StatusOK, s.service.Search(query))
		return
	}

	if len(parts) == 4 && parts[2] == "pages" {
		payload, err := s.service.PublicPage(r.Context(), parts[3])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[2] == "pages" && parts[4] == "export" {
		format, ok := export.ParseFormat(r.URL.Query().Get("format"))
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "format must be 'pdf' or 'docx'", nil)
			return
		}
		result, err := s.service.Export(r.Context(), parts[3], format)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePages(w http.ResponseWriter, r *http.Request, identity auth.Identity, parts []string) {
	ctx := r.Context()

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			pages, err := s.service.ListPages(ctx, identity)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
		case http.MethodPost:
			var body CreatePageInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			page, err := s.service.CreatePage(ctx, identity, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"page": page})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	pageID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			page, err := s.service.GetPage(ctx, identity, pageID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"page": page})
		case http.MethodPut, http.MethodPatch:
			var body UpdatePageInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			page, err := s.service.UpdatePage(ctx, identity, pageID, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"page": page})
		case http.MethodDelete:
			if err := s.service.DeletePage(ctx, identity, pageID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch {
	case len(parts) == 4 && parts[3] == "commit" && r.Method == http.MethodPost:
		var body CommitInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.CommitPage(ctx, identity, pageID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 4 && parts[3] == "versions" && r.Method == http.MethodGet:
		versions, err := s.service.ListVersions(ctx, identity, pageID, r.URL.Query().Get("state"), queryInt(r, "limit", 50))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versions})

	case len(parts) == 4 && parts[3] == "versions" && r.Method == http.MethodPost:
		var body struct {
			Title   string `json:"title"`
			Content string `json:"content"`
			State   string `json:"state"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		version, err := s.service.AppendVersion(ctx, identity, pageID, body.Title, body.Content, body.State)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"version": version})

	case len(parts) == 5 && parts[3] == "versions" && parts[4] == "latest" && r.Method == http.MethodGet:
		state := r.URL.Query().Get("state")
		if state == "" {
			state = "published"
		}
		version, err := s.service.LatestVersion(ctx, identity, pageID, state)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": version})

	case len(parts) == 4 && parts[3] == "open" && r.Method == http.MethodGet:
		resolution, err := s.service.OpenForEdit(ctx, identity, pageID)
		writeResolution(w, resolution, err)

	case len(parts) == 4 && parts[3] == "reload" && r.Method == http.MethodPost:
		resolution, err := s.service.ReloadFromServer(ctx, identity, pageID)
		writeResolution(w, resolution, err)

	case len(parts) == 4 && parts[3] == "draft":
		s.handleDraft(w, r, identity, draft.EditKey(pageID))

	case len(parts) == 5 && parts[3] == "draft" && parts[4] == "diff" && r.Method == http.MethodGet:
		diff, found, err := s.service.DraftDiff(ctx, identity, pageID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if !found {
			writeJSON(w, http.StatusOK, map[string]any{"found": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"found": true, "diff": diff})

	case len(parts) == 4 && parts[3] == "blocks" && r.Method == http.MethodGet:
		items, err := s.service.ListBlocks(ctx, identity, pageID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"blocks": items})

	case len(parts) == 4 && parts[3] == "blocks" && r.Method == http.MethodPost:
		var body CreateBlockInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateBlock(ctx, identity, pageID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"block": item})

	case len(parts) == 4 && parts[3] == "archive" && r.Method == http.MethodGet:
		history, err := s.service.ArchiveHistory(ctx, identity, pageID, queryInt(r, "limit", 50))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": history})

	case len(parts) == 5 && parts[3] == "archive" && r.Method == http.MethodGet:
		snap, err := s.service.ArchiveSnapshot(ctx, identity, pageID, parts[4])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap, "content": snap.Content})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDraft(w http.ResponseWriter, r *http.Request, identity auth.Identity, key string) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		entry, err := s.service.ReadDraft(ctx, identity, key)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if entry == nil {
			writeJSON(w, http.StatusOK, map[string]any{"found": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"found": true, "draft": entry})
	case http.MethodPut:
		var body draft.Entry
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		entry, err := s.service.WriteDraft(ctx, identity, key, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"draft": entry})
	case http.MethodDelete:
		if err := s.service.ClearDraft(ctx, identity, key); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleComposer(w http.ResponseWriter, r *http.Request, identity auth.Identity, action string) {
	switch {
	case action == "draft":
		s.handleDraft(w, r, identity, draft.NewKey)
	case action == "restore" && r.Method == http.MethodPost:
		var body draft.Entry
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		entry, restored, err := s.service.RestoreComposer(r.Context(), identity, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"restored": restored, "draft": entry})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBlocks(w http.ResponseWriter, r *http.Request, identity auth.Identity, parts []string) {
	ctx := r.Context()
	blockID := parts[2]

	switch {
	case len(parts) == 3 && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		var body UpdateBlockInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.UpdateBlock(ctx, identity, blockID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"block": item})

	case len(parts) == 3 && r.Method == http.MethodDelete:
		if err := s.service.DeleteBlock(ctx, identity, blockID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 4 && parts[3] == "duplicate" && r.Method == http.MethodPost:
		item, err := s.service.DuplicateBlock(ctx, identity, blockID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"block": item})

	case len(parts) == 4 && parts[3] == "move" && r.Method == http.MethodPost:
		var body struct {
			Direction string `json:"direction"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		items, err := s.service.MoveBlock(ctx, identity, blockID, body.Direction)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"blocks": items})

	case len(parts) == 4 && parts[3] == "publish" && r.Method == http.MethodPost:
		var body struct {
			Published bool `json:"published"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.SetBlockPublished(ctx, identity, blockID, body.Published)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"block": item})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMediaUpload(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field 'file' is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, media.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read upload", nil)
		return
	}
	object, err := s.service.UploadMedia(r.Context(), identity, header.Filename, data)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"media": object})
}

// writeResolution reports an empty cascade as a normal answer, not a failure.
func writeResolution(w http.ResponseWriter, resolution Resolution, err error) {
	if errors.Is(err, ErrNoContentAvailable) {
		var domainErr *DomainError
		errors.As(err, &domainErr)
		writeJSON(w, http.StatusOK, map[string]any{"found": false, "code": CodeNoContentAvailable, "message": domainErr.Message})
		return
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": true, "resolution": resolution})
}

func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Identity{}, false
	}
	identity, err := s.service.IdentityFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Identity{}, false
	}
	return identity, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, export.ErrContentUnavailable) {
		return http.StatusNotFound, "NOT_FOUND", "Page is not published", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
