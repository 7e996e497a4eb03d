package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/ericfisherdev/keyvault/internal/application"
	"github.com/ericfisherdev/keyvault/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error","kind":"internal_error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code, kind and message.
func writeError(w http.ResponseWriter, status int, kind model.ErrorKind, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: string(kind)})
}

// writeServiceError renders an application error. Only the classified
// message and field details reach the client.
func writeServiceError(w http.ResponseWriter, err error) {
	var classified *model.Error
	if !errors.As(err, &classified) {
		writeError(w, http.StatusInternalServerError, model.KindInternal, "internal server error")
		return
	}

	writeJSON(w, statusForKind(classified.Kind), errorResponse{
		Error:  classified.Message,
		Kind:   string(classified.Kind),
		Fields: classified.Fields,
	})
}

func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindUnauthorized:
		return http.StatusUnauthorized
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

// AccountResponse is the JSON representation of a stored account.
type AccountResponse struct {
	ID              string `json:"id"`
	SerialNumber    int64  `json:"serial_number"`
	Website         string `json:"website"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	Logo            string `json:"logo"`
	Note            string `json:"note"`
	NoteHTML        string `json:"note_html"`
	AttachedFile    string `json:"attached_file,omitempty"`
	AttachedFileURL string `json:"attached_file_url,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// PasswordResponse is the JSON body of the password generator endpoint.
type PasswordResponse struct {
	Password string `json:"password"`
}

// MessageResponse is returned by endpoints with no resource to echo.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status        string           `json:"status"`
	Time          string           `json:"time"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Database      DatabaseResponse `json:"database"`
}

// DatabaseResponse describes the storage connection.
type DatabaseResponse struct {
	Status      string `json:"status"`
	Reconnects  int    `json:"reconnects"`
	LastError   string `json:"last_error,omitempty"`
	ConnectedAt string `json:"connected_at,omitempty"`
}

// toAccountResponse converts a domain Account to its JSON response representation.
func toAccountResponse(a model.Account) AccountResponse {
	resp := AccountResponse{
		ID:           a.ID,
		SerialNumber: a.SerialNumber,
		Website:      a.Website,
		Name:         a.Name,
		Username:     a.Username,
		Email:        a.Email,
		Password:     a.Password,
		Logo:         a.Logo,
		Note:         a.Note,
		NoteHTML:     renderNote(a.Note),
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.HasAttachment() {
		resp.AttachedFile = a.AttachedFile
		resp.AttachedFileURL = "/api/v1/accounts/files/" + url.PathEscape(a.AttachedFile)
	}
	return resp
}

// toHealthResponse converts an application HealthReport to its JSON representation.
func toHealthResponse(r application.HealthReport) HealthResponse {
	db := DatabaseResponse{
		Status:     string(r.Database.State),
		Reconnects: r.Database.Reconnects,
		LastError:  r.Database.LastError,
	}
	if !r.Database.ConnectedAt.IsZero() {
		db.ConnectedAt = r.Database.ConnectedAt.UTC().Format(time.RFC3339)
	}

	return HealthResponse{
		Status:        r.Status,
		Time:          r.Timestamp.Format(time.RFC3339),
		UptimeSeconds: int64(r.Uptime / time.Second),
		Database:      db,
	}
}
