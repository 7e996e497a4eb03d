package driven

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericfisherdev/keyvault/internal/domain/model"
)

// Sentinel errors returned by AccountStore implementations.
var (
	// ErrAccountNotFound indicates the requested account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountConflict indicates the write would duplicate a
	// (username, website) or (email, website) pair.
	ErrAccountConflict = errors.New("account already exists for this website")

	// ErrUsernameTaken and ErrEmailTaken narrow ErrAccountConflict to the pair
	// that collided. Both satisfy errors.Is(err, ErrAccountConflict).
	ErrUsernameTaken = fmt.Errorf("%w: username in use", ErrAccountConflict)
	ErrEmailTaken    = fmt.Errorf("%w: email in use", ErrAccountConflict)

	// ErrStorageUnavailable indicates there is no live storage connection.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// AccountStore defines the driven port for account persistence.
//
// Create and Update return ErrAccountConflict when a unique index rejects the
// write. The store's indexes are the authority for uniqueness; Create's
// pre-read only produces a friendlier message in the uncontended case.
type AccountStore interface {
	// Create persists a new account and returns it with ID, SerialNumber and
	// timestamps assigned.
	Create(ctx context.Context, account model.Account) (model.Account, error)

	// CheckUnique returns ErrAccountConflict if either pair is already taken.
	CheckUnique(ctx context.Context, website, username, email string) error

	// ListByOwner returns every account owned by owner.
	ListByOwner(ctx context.Context, owner string) ([]model.Account, error)

	// GetByID returns ErrAccountNotFound when no account has the given id.
	GetByID(ctx context.Context, id string) (model.Account, error)

	// Update replaces the mutable fields of the account. Owner, ID,
	// SerialNumber and CreatedAt are never changed.
	Update(ctx context.Context, account model.Account) (model.Account, error)

	// Delete removes the account and returns its state before deletion.
	Delete(ctx context.Context, id string) (model.Account, error)
}
