package httphandler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ericfisherdev/keyvault/internal/application"
	"github.com/ericfisherdev/keyvault/internal/domain/model"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	accounts  *application.AccountService
	health    *application.HealthService
	maxUpload int64
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. maxUpload is
// the attachment size cap in bytes.
func NewHandler(
	accounts *application.AccountService,
	health *application.HealthService,
	maxUpload int64,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		accounts:  accounts,
		health:    health,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. Every route except health requires a
// bearer token.
func NewServeMux(h *Handler, auth *Authenticator, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	protect := func(fn http.HandlerFunc) http.Handler {
		return auth.Require(fn)
	}

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /api/v1/accounts", protect(h.ListAccounts))
	mux.Handle("POST /api/v1/accounts", protect(h.CreateAccount))
	mux.Handle("GET /api/v1/accounts/generate-password", protect(h.GeneratePassword))
	mux.Handle("GET /api/v1/accounts/files/{filename}", protect(h.GetAttachment))
	mux.Handle("GET /api/v1/accounts/{id}", protect(h.GetAccount))
	mux.Handle("PUT /api/v1/accounts/{id}", protect(h.UpdateAccount))
	mux.Handle("DELETE /api/v1/accounts/{id}", protect(h.DeleteAccount))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns process liveness and the storage connection state.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toHealthResponse(h.health.Report()))
}

// ListAccounts returns the caller's accounts in serial order.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	accounts, err := h.accounts.List(r.Context(), principal)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAccount returns a single account readable by the caller.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	account, err := h.accounts.Get(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// CreateAccount stores a new account owned by the caller.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	req, err := parseAccountRequest(w, r, h.maxUpload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer req.Close()

	account, err := h.accounts.Create(r.Context(), principal, req.input, req.upload)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/accounts/"+account.ID)
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

// UpdateAccount replaces the editable fields of an account owned by the caller.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	req, err := parseAccountRequest(w, r, h.maxUpload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer req.Close()

	account, err := h.accounts.Update(r.Context(), principal, r.PathValue("id"), req.input, req.upload)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// DeleteAccount removes an account owned by the caller.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	if err := h.accounts.Delete(r.Context(), principal, r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Account removed"})
}

// GeneratePassword returns a random password. The optional length query
// parameter selects its size.
func (h *Handler) GeneratePassword(w http.ResponseWriter, r *http.Request) {
	length := 0
	if raw := r.URL.Query().Get("length"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, model.KindValidation, "invalid length")
			return
		}
		length = n
	}

	password, err := h.accounts.GeneratePassword(length)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PasswordResponse{Password: password})
}

// GetAttachment streams a stored attachment inline. Range requests are
// honored; streaming stops when the client goes away.
func (h *Handler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())

	att, err := h.accounts.OpenAttachment(r.Context(), principal, r.PathValue("filename"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer att.Content.Close()

	header := w.Header()
	header.Set("Content-Type", att.ContentType)
	header.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", att.Name))
	header.Set("Cache-Control", "no-cache")
	header.Set("Accept-Ranges", "bytes")
	if strings.HasPrefix(att.ContentType, "image/") {
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET")
		header.Set("Access-Control-Allow-Headers", "Content-Type")
		header.Set("Cross-Origin-Resource-Policy", "cross-origin")
	}

	h.logger.Debug("streaming attachment", "name", att.Name, "bytes", att.Size)
	http.ServeContent(w, r, att.Name, att.ModTime, att.Content)
}
