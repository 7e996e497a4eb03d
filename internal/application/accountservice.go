package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/ericfisherdev/keyvault/internal/domain/model"
	"github.com/ericfisherdev/keyvault/internal/domain/port/driven"
)

// AccountService orchestrates credential CRUD: validation, ownership checks,
// uniqueness, logo resolution, attachment lifecycle and persistence. Every
// error it returns is a *model.Error. It depends only on port interfaces.
type AccountService struct {
	store       driven.AccountStore
	logos       driven.LogoResolver
	attachments driven.AttachmentStore
	access      AccessController
	logger      *slog.Logger
}

// NewAccountService creates a new AccountService with the required dependencies.
func NewAccountService(
	store driven.AccountStore,
	logos driven.LogoResolver,
	attachments driven.AttachmentStore,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		store:       store,
		logos:       logos,
		attachments: attachments,
		logger:      logger,
	}
}

// Create stores a new account owned by principal. upload may be nil. When the
// account cannot be persisted the saved upload is removed again.
func (s *AccountService) Create(
	ctx context.Context,
	principal model.Principal,
	in model.AccountInput,
	upload *driven.Upload,
) (model.Account, error) {
	in = normalizeInput(in)
	if err := validateInput(in); err != nil {
		return model.Account{}, err
	}
	if err := requirePrincipal(principal); err != nil {
		return model.Account{}, err
	}

	if err := s.store.CheckUnique(ctx, in.Website, in.Username, in.Email); err != nil {
		return model.Account{}, s.classify("check uniqueness", err)
	}

	account := model.Account{
		Owner:    principal.ID,
		Website:  in.Website,
		Name:     in.Name,
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
		Note:     in.Note,
		Logo:     s.logos.Resolve(ctx, in.Website),
	}

	if upload != nil {
		name, err := s.attachments.Save(ctx, *upload)
		if err != nil {
			return model.Account{}, s.classify("save attachment", err)
		}
		account.AttachedFile = name
	}

	created, err := s.store.Create(ctx, account)
	if err != nil {
		if account.HasAttachment() {
			s.attachments.Remove(ctx, account.AttachedFile)
		}
		return model.Account{}, s.classify("create account", err)
	}

	s.logger.Info("account created",
		"id", created.ID,
		"owner", created.Owner,
		"website", created.Website,
		"serial", created.SerialNumber,
	)
	return created, nil
}

// List returns every account owned by principal, ordered by serial number.
func (s *AccountService) List(ctx context.Context, principal model.Principal) ([]model.Account, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}

	accounts, err := s.store.ListByOwner(ctx, principal.ID)
	if err != nil {
		return nil, s.classify("list accounts", err)
	}
	return accounts, nil
}

// Get returns one account. The owner and admins may read it.
func (s *AccountService) Get(ctx context.Context, principal model.Principal, id string) (model.Account, error) {
	if err := requirePrincipal(principal); err != nil {
		return model.Account{}, err
	}

	account, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.Account{}, s.classify("get account", err)
	}
	if !s.access.CanRead(account, principal) {
		return model.Account{}, model.NewError(model.KindUnauthorized, "Not authorized to view this account")
	}
	return account, nil
}

// Update replaces the user-editable fields of an account owned by principal.
// The logo is re-resolved only when the website changed. A new upload
// replaces the previous attachment, which is removed once the update is
// stored.
func (s *AccountService) Update(
	ctx context.Context,
	principal model.Principal,
	id string,
	in model.AccountInput,
	upload *driven.Upload,
) (model.Account, error) {
	in = normalizeInput(in)
	if err := validateInput(in); err != nil {
		return model.Account{}, err
	}
	if err := requirePrincipal(principal); err != nil {
		return model.Account{}, err
	}

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.Account{}, s.classify("load account", err)
	}
	if !s.access.CanWrite(current, principal) {
		return model.Account{}, model.NewError(model.KindUnauthorized, "Not authorized to update this account")
	}

	next := current
	next.Website = in.Website
	next.Name = in.Name
	next.Username = in.Username
	next.Email = in.Email
	next.Password = in.Password
	next.Note = in.Note
	if in.Website != current.Website {
		next.Logo = s.logos.Resolve(ctx, in.Website)
	}

	if upload != nil {
		name, err := s.attachments.Save(ctx, *upload)
		if err != nil {
			return model.Account{}, s.classify("save attachment", err)
		}
		next.AttachedFile = name
	}

	updated, err := s.store.Update(ctx, next)
	if err != nil {
		if upload != nil {
			s.attachments.Remove(ctx, next.AttachedFile)
		}
		return model.Account{}, s.classify("update account", err)
	}

	if upload != nil && current.HasAttachment() {
		s.attachments.Remove(ctx, current.AttachedFile)
	}

	s.logger.Info("account updated", "id", updated.ID, "owner", updated.Owner)
	return updated, nil
}

// Delete removes an account owned by principal together with its attachment.
func (s *AccountService) Delete(ctx context.Context, principal model.Principal, id string) error {
	if err := requirePrincipal(principal); err != nil {
		return err
	}

	account, err := s.store.GetByID(ctx, id)
	if err != nil {
		return s.classify("load account", err)
	}
	if !s.access.CanWrite(account, principal) {
		return model.NewError(model.KindUnauthorized, "Not authorized to delete this account")
	}

	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return s.classify("delete account", err)
	}

	if deleted.HasAttachment() {
		s.attachments.Remove(ctx, deleted.AttachedFile)
	}

	s.logger.Info("account deleted", "id", deleted.ID, "owner", deleted.Owner)
	return nil
}

// OpenAttachment opens a stored file for streaming. Any authenticated
// principal may fetch a file by its storage name. The caller must close the
// returned content.
func (s *AccountService) OpenAttachment(
	ctx context.Context,
	principal model.Principal,
	name string,
) (*driven.Attachment, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}

	att, err := s.attachments.Open(ctx, name)
	if err != nil {
		return nil, s.classify("open attachment", err)
	}
	return att, nil
}

// GeneratePassword returns a random password. A length of zero selects
// DefaultPasswordLength.
func (s *AccountService) GeneratePassword(length int) (string, error) {
	if length == 0 {
		length = DefaultPasswordLength
	}
	if length < MinPasswordLength || length > MaxPasswordLength {
		return "", &model.Error{
			Kind:    model.KindValidation,
			Message: fmt.Sprintf("Password length must be between %d and %d", MinPasswordLength, MaxPasswordLength),
			Fields:  map[string]string{"length": "out of range"},
		}
	}

	password, err := generatePassword(length)
	if err != nil {
		return "", s.classify("generate password", err)
	}
	return password, nil
}

// classify maps port errors onto the caller-facing error taxonomy.
func (s *AccountService) classify(op string, err error) error {
	var classified *model.Error
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, driven.ErrUsernameTaken):
		return model.WrapError(model.KindConflict, "An account with this username already exists for this website", err)
	case errors.Is(err, driven.ErrEmailTaken):
		return model.WrapError(model.KindConflict, "An account with this email already exists for this website", err)
	case errors.Is(err, driven.ErrAccountConflict):
		return model.WrapError(model.KindConflict, "An account with this username or email already exists for this website", err)
	case errors.Is(err, driven.ErrAccountNotFound):
		return model.WrapError(model.KindNotFound, "Account not found", err)
	case errors.Is(err, driven.ErrAttachmentNotFound):
		return model.WrapError(model.KindNotFound, "File not found", err)
	case errors.Is(err, driven.ErrPayloadTooLarge):
		return model.WrapError(model.KindPayloadTooLarge, "Attached file is too large", err)
	case errors.Is(err, driven.ErrStorageUnavailable):
		s.logger.Warn("storage unavailable", "op", op, "error", err)
		return model.WrapError(model.KindStorageUnavailable, "Storage is temporarily unavailable", err)
	default:
		s.logger.Error("account operation failed", "op", op, "error", err)
		return model.WrapError(model.KindInternal, "Internal error", fmt.Errorf("%s: %w", op, err))
	}
}

func requirePrincipal(principal model.Principal) error {
	if principal.ID == "" {
		return model.NewError(model.KindUnauthorized, "Not authorized")
	}
	return nil
}

func normalizeInput(in model.AccountInput) model.AccountInput {
	in.Website = strings.TrimSpace(in.Website)
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Note = strings.TrimSpace(in.Note)
	return in
}

// validateInput checks required fields and email syntax. Password is not
// trimmed, but a blank one is still rejected.
func validateInput(in model.AccountInput) error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Website, validation.Required),
		validation.Field(&in.Name, validation.Required),
		validation.Field(&in.Username, validation.Required),
		validation.Field(&in.Email, validation.Required, is.EmailFormat),
		validation.Field(&in.Password, validation.Required, validation.By(notBlank)),
	)
	if err == nil {
		return nil
	}

	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return model.WrapError(model.KindInternal, "Internal error", err)
	}

	fields := make(map[string]string, len(fieldErrs))
	for name, fieldErr := range fieldErrs {
		fields[name] = fieldErr.Error()
	}
	return &model.Error{
		Kind:    model.KindValidation,
		Message: "Invalid account: " + fieldErrs.Error(),
		Fields:  fields,
		Cause:   err,
	}
}

func notBlank(value any) error {
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}
