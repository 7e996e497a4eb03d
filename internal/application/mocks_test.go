package application

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/keyvault/internal/domain/model"
	"github.com/ericfisherdev/keyvault/internal/domain/port/driven"
)

// --- Mock implementations of the driven ports ---

// mockAccountStore is an in-memory AccountStore enforcing both uniqueness pairs.
type mockAccountStore struct {
	mu       sync.Mutex
	accounts map[string]model.Account
	serial   int64

	createErr error
	updateErr error
	deleteErr error
	getErr    error
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{accounts: make(map[string]model.Account)}
}

func (m *mockAccountStore) conflict(a model.Account) error {
	for _, other := range m.accounts {
		if other.ID == a.ID || other.Website != a.Website {
			continue
		}
		if other.Username == a.Username {
			return driven.ErrUsernameTaken
		}
		if other.Email == a.Email {
			return driven.ErrEmailTaken
		}
	}
	return nil
}

func (m *mockAccountStore) Create(_ context.Context, a model.Account) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return model.Account{}, m.createErr
	}
	if err := m.conflict(a); err != nil {
		return model.Account{}, err
	}
	m.serial++
	a.ID = uuid.NewString()
	a.SerialNumber = m.serial
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	m.accounts[a.ID] = a
	return a, nil
}

func (m *mockAccountStore) CheckUnique(_ context.Context, website, username, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conflict(model.Account{Website: website, Username: username, Email: email})
}

func (m *mockAccountStore) ListByOwner(_ context.Context, owner string) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Account{}
	for _, a := range m.accounts {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out, nil
}

func (m *mockAccountStore) GetByID(_ context.Context, id string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return model.Account{}, m.getErr
	}
	a, ok := m.accounts[id]
	if !ok {
		return model.Account{}, driven.ErrAccountNotFound
	}
	return a, nil
}

func (m *mockAccountStore) Update(_ context.Context, a model.Account) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return model.Account{}, m.updateErr
	}
	current, ok := m.accounts[a.ID]
	if !ok {
		return model.Account{}, driven.ErrAccountNotFound
	}
	if err := m.conflict(a); err != nil {
		return model.Account{}, driven.ErrAccountConflict
	}
	a.Owner = current.Owner
	a.SerialNumber = current.SerialNumber
	a.CreatedAt = current.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	m.accounts[a.ID] = a
	return a, nil
}

func (m *mockAccountStore) Delete(_ context.Context, id string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return model.Account{}, m.deleteErr
	}
	a, ok := m.accounts[id]
	if !ok {
		return model.Account{}, driven.ErrAccountNotFound
	}
	delete(m.accounts, id)
	return a, nil
}

// mockLogoResolver returns a deterministic URL per website and counts calls.
type mockLogoResolver struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockLogoResolver) Resolve(_ context.Context, website string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, website)
	if website == "github.com" {
		return "https://github.githubassets.com/favicons/favicon.svg"
	}
	return "https://logos.test/" + website
}

func (m *mockLogoResolver) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockAttachmentStore keeps files in memory and records removals.
type mockAttachmentStore struct {
	mu      sync.Mutex
	files   map[string]string
	removed []string
	next    int
	saveErr error
}

func newMockAttachmentStore() *mockAttachmentStore {
	return &mockAttachmentStore{files: make(map[string]string)}
}

func (m *mockAttachmentStore) Save(_ context.Context, u driven.Upload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	data, err := io.ReadAll(u.Content)
	if err != nil {
		return "", err
	}
	m.next++
	name := strings.Repeat("f", m.next) + ".bin"
	m.files[name] = string(data)
	return name, nil
}

func (m *mockAttachmentStore) Open(_ context.Context, name string) (*driven.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, driven.ErrAttachmentNotFound
	}
	return &driven.Attachment{
		Name:        name,
		ContentType: "application/octet-stream",
		Size:        int64(len(data)),
		Content:     nopSeekCloser{strings.NewReader(data)},
	}, nil
}

func (m *mockAttachmentStore) Remove(_ context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, name)
	delete(m.files, name)
}

func (m *mockAttachmentStore) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[name]
	return ok
}

func (m *mockAttachmentStore) removals() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

type nopSeekCloser struct{ *strings.Reader }

func (nopSeekCloser) Close() error { return nil }

type mockStatusReader struct {
	status model.ConnectionStatus
}

func (m mockStatusReader) Status() model.ConnectionStatus { return m.status }

// --- Helper functions ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serviceFixture struct {
	svc         *AccountService
	store       *mockAccountStore
	logos       *mockLogoResolver
	attachments *mockAttachmentStore
}

func newServiceFixture() serviceFixture {
	f := serviceFixture{
		store:       newMockAccountStore(),
		logos:       &mockLogoResolver{},
		attachments: newMockAttachmentStore(),
	}
	f.svc = NewAccountService(f.store, f.logos, f.attachments, discardLogger())
	return f
}

func githubInput() model.AccountInput {
	return model.AccountInput{
		Website:  "github.com",
		Name:     "GH",
		Username: "alice",
		Email:    "a@x.com",
		Password: "p",
	}
}

func upload(content string) *driven.Upload {
	return &driven.Upload{Filename: "doc.pdf", Content: strings.NewReader(content)}
}
