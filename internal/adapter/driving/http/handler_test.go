package httphandler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keyvault/internal/adapter/driven/filesystem"
	"github.com/ericfisherdev/keyvault/internal/adapter/driven/logo"
	"github.com/ericfisherdev/keyvault/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/keyvault/internal/adapter/driving/http"
	"github.com/ericfisherdev/keyvault/internal/application"
	"github.com/ericfisherdev/keyvault/internal/domain/model"
)

var testSecret = []byte("handler-test-secret")

const maxUpload = 64

type fixedStatus struct{}

func (fixedStatus) Status() model.ConnectionStatus {
	return model.ConnectionStatus{State: model.ConnStateConnected, Path: "test.db"}
}

type testServer struct {
	srv       *httptest.Server
	uploadDir string
}

// setupServer wires the real adapters behind the router: a temp-file SQLite
// database, a temp upload directory and a static-only logo resolver.
func setupServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.NewDB(ctx, filepath.Join(t.TempDir(), "keyvault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Bootstrap(ctx, db))

	repo, err := sqlite.NewAccountRepo(db, nil)
	require.NoError(t, err)

	uploadDir := filepath.Join(t.TempDir(), "uploads")
	attachments := filesystem.NewAttachmentStore(uploadDir, maxUpload, logger)
	logos := logo.NewResolver("https://avatars.test", logger, logo.KnownLogos)

	accounts := application.NewAccountService(repo, logos, attachments, logger)
	health := application.NewHealthService(fixedStatus{})

	h := httphandler.NewHandler(accounts, health, maxUpload, logger)
	srv := httptest.NewServer(httphandler.NewServeMux(h, httphandler.NewAuthenticator(testSecret), logger))
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, uploadDir: uploadDir}
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	claims := httphandler.PrincipalClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func (ts *testServer) do(t *testing.T, method, path, tok string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, body)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (ts *testServer) doJSON(t *testing.T, method, path, tok string, v any) *http.Response {
	t.Helper()
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return ts.do(t, method, path, tok, body, "application/json")
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type errorBody struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields"`
}

func githubBody() map[string]string {
	return map[string]string{
		"website":  "github.com",
		"name":     "GH",
		"username": "alice",
		"email":    "a@x.com",
		"password": "p",
	}
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("attached_file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth_NoAuth(t *testing.T) {
	ts := setupServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/health", "", nil, "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[httphandler.HealthResponse](t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "connected", body.Database.Status)
	assert.NotEmpty(t, body.Time)
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	ts := setupServer(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, httphandler.PrincipalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString([]byte("other-secret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{name: "missing", token: "", want: "Not authorized, no token"},
		{name: "garbage", token: "not-a-jwt", want: "Not authorized, token failed"},
		{name: "expired", token: expired, want: "Not authorized, token failed"},
		{name: "wrong secret", token: foreign, want: "Not authorized, token failed"},
		{name: "no subject", token: noSubject, want: "Not authorized, token failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodGet, "/api/v1/accounts", tt.token, nil, "")

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			body := decode[errorBody](t, resp)
			assert.Equal(t, tt.want, body.Error)
			assert.Equal(t, "unauthorized", body.Kind)
		})
	}
}

// TestAccounts_Scenario drives create, duplicate, update, foreign update,
// delete and lookup through the HTTP surface.
func TestAccounts_Scenario(t *testing.T) {
	ts := setupServer(t)
	alice := token(t, "u-alice", "")
	mallory := token(t, "u-mallory", "")

	resp := ts.doJSON(t, http.MethodPost, "/api/v1/accounts", alice, githubBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[httphandler.AccountResponse](t, resp)
	assert.Equal(t, "https://github.githubassets.com/favicons/favicon.svg", created.Logo)
	assert.Equal(t, int64(1), created.SerialNumber)
	assert.Equal(t, "p", created.Password)
	assert.Equal(t, "/api/v1/accounts/"+created.ID, resp.Header.Get("Location"))

	dup := githubBody()
	dup["email"] = "b@y.com"
	resp = ts.doJSON(t, http.MethodPost, "/api/v1/accounts", alice, dup)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", decode[errorBody](t, resp).Kind)

	edit := githubBody()
	edit["note"] = "**2FA** on phone"
	resp = ts.doJSON(t, http.MethodPut, "/api/v1/accounts/"+created.ID, alice, edit)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[httphandler.AccountResponse](t, resp)
	assert.Equal(t, created.Logo, updated.Logo)
	assert.Contains(t, updated.NoteHTML, "<strong>2FA</strong>")

	resp = ts.doJSON(t, http.MethodPut, "/api/v1/accounts/"+created.ID, mallory, edit)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/api/v1/accounts/"+created.ID, alice, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/accounts/"+created.ID, alice, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[errorBody](t, resp).Kind)
}

func TestAccounts_ValidationError(t *testing.T) {
	ts := setupServer(t)
	body := githubBody()
	body["email"] = "nope"
	delete(body, "password")

	resp := ts.doJSON(t, http.MethodPost, "/api/v1/accounts", token(t, "u1", ""), body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	got := decode[errorBody](t, resp)
	assert.Equal(t, "validation_error", got.Kind)
	assert.Contains(t, got.Fields, "email")
	assert.Contains(t, got.Fields, "password")
}

func TestAccounts_MalformedJSON(t *testing.T) {
	ts := setupServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/accounts", token(t, "u1", ""),
		strings.NewReader("{"), "application/json")

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAccounts_ListIsolatesOwnersAndAdminReads(t *testing.T) {
	ts := setupServer(t)
	alice := token(t, "u-alice", "")
	bob := token(t, "u-bob", "")
	admin := token(t, "u-admin", model.RoleAdmin)

	resp := ts.doJSON(t, http.MethodPost, "/api/v1/accounts", alice, githubBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[httphandler.AccountResponse](t, resp)

	resp = ts.do(t, http.MethodGet, "/api/v1/accounts", bob, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]httphandler.AccountResponse](t, resp))

	resp = ts.do(t, http.MethodGet, "/api/v1/accounts", alice, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]httphandler.AccountResponse](t, resp), 1)

	resp = ts.do(t, http.MethodGet, "/api/v1/accounts/"+created.ID, bob, nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/accounts/"+created.ID, admin, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, "/api/v1/accounts/"+created.ID, admin, nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "admins cannot delete")
}

func TestAttachments_UploadServeAndCleanup(t *testing.T) {
	ts := setupServer(t)
	alice := token(t, "u-alice", "")
	bob := token(t, "u-bob", "")

	body, ct := multipartBody(t, githubBody(), "shot.PNG", []byte("png-bytes"))
	resp := ts.do(t, http.MethodPost, "/api/v1/accounts", alice, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[httphandler.AccountResponse](t, resp)
	require.NotEmpty(t, created.AttachedFile)
	assert.True(t, strings.HasSuffix(created.AttachedFile, ".png"))
	assert.Equal(t, "/api/v1/accounts/files/"+created.AttachedFile, created.AttachedFileURL)

	resp = ts.do(t, http.MethodGet, created.AttachedFileURL, bob, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, `inline; filename="`+created.AttachedFile+`"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, "cross-origin", resp.Header.Get("Cross-Origin-Resource-Policy"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	// Replacing the file removes the previous one.
	body, ct = multipartBody(t, githubBody(), "scan.pdf", []byte("pdf-bytes"))
	resp = ts.do(t, http.MethodPut, "/api/v1/accounts/"+created.ID, alice, body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[httphandler.AccountResponse](t, resp)
	assert.NotEqual(t, created.AttachedFile, updated.AttachedFile)
	_, err = os.Stat(filepath.Join(ts.uploadDir, created.AttachedFile))
	assert.ErrorIs(t, err, os.ErrNotExist)

	resp = ts.do(t, http.MethodDelete, "/api/v1/accounts/"+created.ID, alice, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = os.Stat(filepath.Join(ts.uploadDir, updated.AttachedFile))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAttachments_RangeRequest(t *testing.T) {
	ts := setupServer(t)
	alice := token(t, "u-alice", "")

	body, ct := multipartBody(t, githubBody(), "doc.pdf", []byte("0123456789"))
	resp := ts.do(t, http.MethodPost, "/api/v1/accounts", alice, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[httphandler.AccountResponse](t, resp)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+created.AttachedFileURL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice)
	req.Header.Set("Range", "bytes=2-4")
	rangeResp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer rangeResp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, rangeResp.StatusCode)
	data, err := io.ReadAll(rangeResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "234", string(data))
}

func TestAttachments_TooLarge(t *testing.T) {
	ts := setupServer(t)

	body, ct := multipartBody(t, githubBody(), "big.pdf", bytes.Repeat([]byte("x"), maxUpload+1))
	resp := ts.do(t, http.MethodPost, "/api/v1/accounts", token(t, "u1", ""), body, ct)

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "payload_too_large", decode[errorBody](t, resp).Kind)

	resp = ts.do(t, http.MethodGet, "/api/v1/accounts", token(t, "u1", ""), nil, "")
	assert.Empty(t, decode[[]httphandler.AccountResponse](t, resp))
}

func TestAttachments_TraversalIsNotFound(t *testing.T) {
	ts := setupServer(t)
	alice := token(t, "u-alice", "")
	require.NoError(t, os.MkdirAll(ts.uploadDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(ts.uploadDir), "secret.txt"), []byte("x"), 0o600))

	for _, name := range []string{"..%2Fsecret.txt", "%2e%2e%2fsecret.txt", "..%5Csecret.txt", "missing.png"} {
		t.Run(name, func(t *testing.T) {
			resp := ts.do(t, http.MethodGet, "/api/v1/accounts/files/"+name, alice, nil, "")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}
}

func TestGeneratePassword(t *testing.T) {
	ts := setupServer(t)
	tok := token(t, "u1", "")

	resp := ts.do(t, http.MethodGet, "/api/v1/accounts/generate-password", tok, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[httphandler.PasswordResponse](t, resp).Password, application.DefaultPasswordLength)

	resp = ts.do(t, http.MethodGet, "/api/v1/accounts/generate-password?length=24", tok, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[httphandler.PasswordResponse](t, resp).Password, 24)

	resp = ts.do(t, http.MethodGet, "/api/v1/accounts/generate-password?length=abc", tok, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/accounts/generate-password?length=4", tok, nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/accounts/generate-password", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNoteIsSanitized(t *testing.T) {
	ts := setupServer(t)
	body := githubBody()
	body["note"] = `hello <script>alert("x")</script> ~~old~~`

	resp := ts.doJSON(t, http.MethodPost, "/api/v1/accounts", token(t, "u1", ""), body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	got := decode[httphandler.AccountResponse](t, resp)

	assert.NotContains(t, got.NoteHTML, "<script>")
	assert.Contains(t, got.NoteHTML, "<del>old</del>")
	assert.Equal(t, body["note"], got.Note)
}
