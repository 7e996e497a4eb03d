package driven

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors returned by AttachmentStore implementations.
var (
	// ErrAttachmentNotFound indicates the requested file does not exist inside
	// the upload root, or the name could not be resolved safely.
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrPayloadTooLarge indicates an upload exceeded the configured size cap.
	ErrPayloadTooLarge = errors.New("attachment exceeds maximum size")
)

// Upload is an incoming file. Filename is only used for its extension.
type Upload struct {
	Filename string
	Content  io.Reader
}

// Attachment is an opened stored file ready to be streamed back.
// The caller must Close Content.
type Attachment struct {
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
	Content     io.ReadSeekCloser
}

// AttachmentStore defines the driven port for uploaded file storage.
type AttachmentStore interface {
	// Save writes the upload under a generated name and returns that name.
	Save(ctx context.Context, upload Upload) (string, error)

	// Open resolves a requested name inside the upload root.
	Open(ctx context.Context, name string) (*Attachment, error)

	// Remove deletes a stored file. Failures are logged, never returned.
	Remove(ctx context.Context, name string)
}
