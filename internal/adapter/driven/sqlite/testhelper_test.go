package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/keyvault/internal/domain/model"
)

// memoryDSN returns a named shared in-memory SQLite DSN. Writer and reader
// connections share the same in-memory database via cache=shared, and the
// name keeps parallel tests isolated.
func memoryDSN(name string) string {
	// Percent-encode the name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the "file:%s?..." DSN.
	safeName := url.PathEscape(name)
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	return fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		safeName,
	)
}

// setupTestDB creates a bootstrapped in-memory database closed at test end.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := openDB(context.Background(), memoryDSN(t.Name()))
	require.NoError(t, err, "open test db")

	require.NoError(t, Bootstrap(context.Background(), db), "bootstrap test db")

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// setupFileDB creates a bootstrapped WAL database in a temp dir. Used where
// concurrent readers and the writer must not contend on shared-cache locks.
func setupFileDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "keyvault.db"))
	require.NoError(t, err, "open file db")

	require.NoError(t, Bootstrap(context.Background(), db), "bootstrap file db")

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func setupRepo(t *testing.T, handle Handle, key []byte) *AccountRepo {
	t.Helper()
	repo, err := NewAccountRepo(handle, key)
	require.NoError(t, err)
	return repo
}

func makeAccount(owner, website, username, email string) model.Account {
	return model.Account{
		Owner:    owner,
		Website:  website,
		Name:     "Display " + username,
		Username: username,
		Email:    email,
		Password: "s3cret!",
		Logo:     "https://example.test/logo.png",
	}
}
