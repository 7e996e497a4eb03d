package model

import "time"

// Account is a stored third-party login. Owner is fixed at creation; the
// (Username, Website) and (Email, Website) pairs are each unique across the
// collection. AttachedFile is the storage name of an uploaded file relative to
// the upload root, or empty when the account has none.
type Account struct {
	ID           string
	Owner        string
	Website      string
	Name         string
	Username     string
	Email        string
	Password     string
	Logo         string
	Note         string
	AttachedFile string
	SerialNumber int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasAttachment reports whether the account references a stored file.
func (a Account) HasAttachment() bool {
	return a.AttachedFile != ""
}

// AccountInput carries the user-supplied fields for create and update.
// Logo, owner, and attachment are never taken from user input.
type AccountInput struct {
	Website  string `json:"website"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Note     string `json:"note"`
}
