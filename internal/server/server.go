package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"enviobox/internal/legacy"
	"enviobox/internal/ratelimit"
	"enviobox/internal/util"
	"enviobox/pkg/auth"
	"enviobox/pkg/domain"
	"enviobox/pkg/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App    *legacy.App
	Tokens *auth.TokenIssuer

	// Optional abuse controls for the public claim endpoint.
	ClaimLimiter *ratelimit.FixedWindowLimiter
	ClaimGuard   *ratelimit.ClaimGuard

	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the legacy migration service.
type Server struct {
	app            *legacy.App
	tokens         *auth.TokenIssuer
	claimLimiter   *ratelimit.FixedWindowLimiter
	claimGuard     *ratelimit.ClaimGuard
	trustedProxies *util.TrustedProxies
	maxUploadBytes int64

	mux *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		tokens:         cfg.Tokens,
		claimLimiter:   cfg.ClaimLimiter,
		claimGuard:     cfg.ClaimGuard,
		trustedProxies: cfg.TrustedProxies,
		maxUploadBytes: cfg.MaxUploadBytes,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with shared middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestLog(util.WithRequestID(util.WithCORS(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// public claim flow
	s.mux.HandleFunc("/legacy/claim", s.handleClaim)
	s.mux.HandleFunc("/legacy/verify-box", s.handleVerifyBox)
	s.mux.HandleFunc("/legacy/verify-name", s.handleVerifyName)

	// admin
	s.mux.Handle("/legacy/admin/import", s.adminOnly(s.handleImport))
	s.mux.Handle("/legacy/admin/records", s.adminOnly(s.handleRecords))
	s.mux.Handle("/legacy/admin/records/", s.adminOnly(s.handleRecordByID))
	s.mux.Handle("/legacy/admin/stats", s.adminOnly(s.handleStats))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) adminOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Sesión no válida")
			return
		}
		claims, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Sesión no válida")
			return
		}
		if claims.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Se requiere rol de administrador")
			return
		}
		next(w, r)
	})
}

// public claim flow

type claimRequest struct {
	BoxID    string `json:"boxId"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	FullName string `json:"fullName"`
}

type claimResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Token   string         `json:"token"`
	User    domain.Account `json:"user"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.claimLimiter != nil {
		ip := util.ClientIP(r, s.trustedProxies)
		if !s.claimLimiter.Allow(ip) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Demasiadas solicitudes, intenta más tarde")
			return
		}
	}
	var req claimRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Cuerpo JSON inválido")
		return
	}
	boxID := strings.ToUpper(strings.TrimSpace(req.BoxID))
	if s.claimGuard != nil && boxID != "" && s.claimGuard.Blocked(boxID) {
		writeError(w, http.StatusTooManyRequests, "CLAIM_BLOCKED", "Demasiados intentos fallidos para este casillero, intenta más tarde")
		return
	}
	result, err := s.app.Claim(legacy.ClaimRequest{
		BoxID:    req.BoxID,
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
		FullName: req.FullName,
	})
	if err != nil {
		if s.claimGuard != nil && boxID != "" && errors.Is(err, legacy.ErrDataMismatch) {
			s.claimGuard.RecordFailure(boxID)
		}
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claimResponse{
		Success: true,
		Message: "Casillero reclamado correctamente",
		Token:   result.Token,
		User:    result.Account,
	})
}

func (s *Server) handleVerifyBox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	boxID := r.URL.Query().Get("boxId")
	if boxID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "El parámetro boxId es obligatorio")
		return
	}
	verification, err := s.app.VerifyBoxExists(boxID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verification)
}

type verifyNameRequest struct {
	BoxID    string `json:"boxId"`
	FullName string `json:"fullName"`
}

func (s *Server) handleVerifyName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req verifyNameRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Cuerpo JSON inválido")
		return
	}
	verification, err := s.app.VerifyName(req.BoxID, req.FullName)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verification)
}

// admin handlers

type importResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Stats   domain.ImportStats `json:"stats"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Formulario inválido o archivo demasiado grande")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "El archivo es obligatorio (campo: file)")
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "legacy-import-*")
	if err != nil {
		slog.Error("create temp upload", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Ocurrió un error inesperado, intenta de nuevo")
		return
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		slog.Error("spool upload", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Ocurrió un error inesperado, intenta de nuevo")
		return
	}
	tmp.Close()

	stats, err := s.app.ImportFile(tmp.Name(), filepath.Base(header.Filename))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{
		Success: true,
		Message: "Importación completada",
		Stats:   stats,
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	filters := store.SearchFilters{Search: strings.TrimSpace(q.Get("search"))}
	if raw := q.Get("claimed"); raw != "" {
		claimed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "El parámetro claimed debe ser true o false")
			return
		}
		filters.Claimed = &claimed
	}
	page := store.Page{Number: parsePositiveInt(q.Get("page"), 1), Size: parsePositiveInt(q.Get("pageSize"), defaultPageSize)}
	if page.Size > maxPageSize {
		page.Size = maxPageSize
	}
	records, total, err := s.app.ListRecords(filters, page)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    records,
		"total":    total,
		"page":     page.Number,
		"pageSize": page.Size,
	})
}

func (s *Server) handleRecordByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/legacy/admin/records/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteRecord(id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Registro eliminado",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.Stats()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Método no permitido")
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// writeAppError maps a legacy.Error kind onto an HTTP status. Unknown errors
// are reported as a generic 500 without leaking the cause.
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *legacy.Error
	if !errors.As(err, &appErr) {
		slog.Error("unhandled error", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Ocurrió un error inesperado, intenta de nuevo")
		return
	}
	status := http.StatusInternalServerError
	switch appErr.Kind {
	case legacy.KindInvalidInput:
		status = http.StatusBadRequest
	case legacy.KindNotFound:
		status = http.StatusNotFound
	case legacy.KindConflict:
		status = http.StatusConflict
	case legacy.KindForbidden:
		status = http.StatusForbidden
	case legacy.KindInternal:
		slog.Error("internal error", "code", appErr.Code, "err", appErr)
	}
	writeError(w, status, appErr.Code, appErr.Message)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"code":    code,
		"message": msg,
	})
}
