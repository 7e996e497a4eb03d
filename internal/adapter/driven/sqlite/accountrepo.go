package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/keyvault/internal/domain/model"
	"github.com/ericfisherdev/keyvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AccountStore = (*AccountRepo)(nil)

// Handle yields the live database connection. Both *DB and *Supervisor
// satisfy it. Report receives errors showing the connection is dead.
type Handle interface {
	Current() (*DB, error)
	Report(err error)
}

const accountColumns = `id, owner, website, name, username, email, password, logo, note, attached_file, serial_number, created_at, updated_at`

// AccountRepo is the SQLite implementation of the AccountStore port interface.
type AccountRepo struct {
	handle Handle
	sealer *fieldSealer
	now    func() time.Time
}

// NewAccountRepo creates a new AccountRepo. key must be 32 bytes to seal
// passwords at rest with AES-256-GCM, or nil to store them as provided.
func NewAccountRepo(handle Handle, key []byte) (*AccountRepo, error) {
	sealer, err := newFieldSealer(key)
	if err != nil {
		return nil, err
	}
	return &AccountRepo{
		handle: handle,
		sealer: sealer,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// CheckUnique returns driven.ErrUsernameTaken or driven.ErrEmailTaken if an
// existing account already uses the pair for website.
func (r *AccountRepo) CheckUnique(ctx context.Context, website, username, email string) error {
	db, err := r.handle.Current()
	if err != nil {
		return err
	}

	taken, err := r.exists(ctx, db, `SELECT 1 FROM accounts WHERE website = ? AND username = ? LIMIT 1`, website, username)
	if err != nil {
		return fmt.Errorf("check username for %s: %w", website, err)
	}
	if taken {
		return driven.ErrUsernameTaken
	}

	taken, err = r.exists(ctx, db, `SELECT 1 FROM accounts WHERE website = ? AND email = ? LIMIT 1`, website, email)
	if err != nil {
		return fmt.Errorf("check email for %s: %w", website, err)
	}
	if taken {
		return driven.ErrEmailTaken
	}

	return nil
}

// Create inserts a new account. Uniqueness is left to the indexes; a
// collision comes back as driven.ErrAccountConflict. The serial number comes
// from the account_sequence counter, bumped in the same transaction, so it
// never repeats even after the newest rows are deleted.
func (r *AccountRepo) Create(ctx context.Context, account model.Account) (model.Account, error) {
	db, err := r.handle.Current()
	if err != nil {
		return model.Account{}, err
	}

	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := r.now()
	account.CreatedAt = now
	account.UpdatedAt = now

	sealed, err := r.sealer.seal(account.Password)
	if err != nil {
		return model.Account{}, fmt.Errorf("seal password: %w", err)
	}

	tx, err := db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.Account{}, fmt.Errorf("begin create account: %w", r.classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx,
		`UPDATE account_sequence SET value = value + 1 WHERE name = 'accounts' RETURNING value`,
	).Scan(&account.SerialNumber)
	if err != nil {
		return model.Account{}, fmt.Errorf("next serial number: %w", r.classify(err))
	}

	const query = `INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, query,
		account.ID, account.Owner, account.Website, account.Name, account.Username, account.Email,
		sealed, account.Logo, account.Note, account.AttachedFile, account.SerialNumber,
		formatTime(account.CreatedAt), formatTime(account.UpdatedAt),
	)
	if err != nil {
		return model.Account{}, fmt.Errorf("create account for %s: %w", account.Website, r.classify(err))
	}

	if err := tx.Commit(); err != nil {
		return model.Account{}, fmt.Errorf("commit account for %s: %w", account.Website, r.classify(err))
	}

	return account, nil
}

// ListByOwner returns all accounts owned by owner ordered by serial number.
func (r *AccountRepo) ListByOwner(ctx context.Context, owner string) ([]model.Account, error) {
	db, err := r.handle.Current()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner = ? ORDER BY serial_number`
	rows, err := db.Reader.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", r.classify(err))
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		account, err := r.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

// GetByID retrieves an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (model.Account, error) {
	db, err := r.handle.Current()
	if err != nil {
		return model.Account{}, err
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	account, err := r.scanAccount(db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, fmt.Errorf("get account %s: %w", id, driven.ErrAccountNotFound)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %s: %w", id, r.classify(err))
	}

	return account, nil
}

// Update overwrites the mutable fields of an account. Uniqueness is left to
// the indexes; a collision comes back as driven.ErrAccountConflict.
func (r *AccountRepo) Update(ctx context.Context, account model.Account) (model.Account, error) {
	db, err := r.handle.Current()
	if err != nil {
		return model.Account{}, err
	}

	sealed, err := r.sealer.seal(account.Password)
	if err != nil {
		return model.Account{}, fmt.Errorf("seal password: %w", err)
	}

	const query = `UPDATE accounts
		SET website = ?, name = ?, username = ?, email = ?, password = ?, logo = ?, note = ?, attached_file = ?, updated_at = ?
		WHERE id = ?
		RETURNING ` + accountColumns

	updated, err := r.scanAccount(db.Writer.QueryRowContext(ctx, query,
		account.Website, account.Name, account.Username, account.Email,
		sealed, account.Logo, account.Note, account.AttachedFile,
		formatTime(r.now()), account.ID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, fmt.Errorf("update account %s: %w", account.ID, driven.ErrAccountNotFound)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("update account %s: %w", account.ID, r.classify(err))
	}

	return updated, nil
}

// Delete removes an account and returns the row as it was before deletion.
func (r *AccountRepo) Delete(ctx context.Context, id string) (model.Account, error) {
	db, err := r.handle.Current()
	if err != nil {
		return model.Account{}, err
	}

	query := `DELETE FROM accounts WHERE id = ? RETURNING ` + accountColumns
	deleted, err := r.scanAccount(db.Writer.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, fmt.Errorf("delete account %s: %w", id, driven.ErrAccountNotFound)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("delete account %s: %w", id, r.classify(err))
	}

	return deleted, nil
}

func (r *AccountRepo) exists(ctx context.Context, db *DB, query string, args ...any) (bool, error) {
	var one int
	err := db.Reader.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, r.classify(err)
	}
	return true, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (r *AccountRepo) scanAccount(s scanner) (model.Account, error) {
	var a model.Account
	var password, createdAt, updatedAt string

	err := s.Scan(
		&a.ID, &a.Owner, &a.Website, &a.Name, &a.Username, &a.Email,
		&password, &a.Logo, &a.Note, &a.AttachedFile, &a.SerialNumber,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return model.Account{}, err
	}

	a.Password, err = r.sealer.open(password)
	if err != nil {
		return model.Account{}, fmt.Errorf("open password for account %s: %w", a.ID, err)
	}

	a.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return model.Account{}, fmt.Errorf("parse created_at: %w", err)
	}
	a.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return model.Account{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return a, nil
}

// classify maps driver errors onto the port's sentinel errors. Either unique
// index firing is reported as the same conflict. A closed connection is
// reported to the handle so a supervisor can replace it.
func (r *AccountRepo) classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint"):
		return fmt.Errorf("%w: %v", driven.ErrAccountConflict, err)
	case strings.Contains(msg, "database is closed"):
		r.handle.Report(err)
		return fmt.Errorf("%w: %v", driven.ErrStorageUnavailable, err)
	default:
		return err
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
