// Package filesystem implements the AttachmentStore port on a single
// confined upload directory.
package filesystem

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/big"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/ericfisherdev/keyvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AttachmentStore = (*AttachmentStore)(nil)

// DefaultMaxSize is the upload size cap (5 MiB).
const DefaultMaxSize int64 = 5 << 20

const defaultContentType = "application/octet-stream"

// contentTypes maps lower-case extensions to the MIME type served for them.
var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// ContentType returns the MIME type for name's extension, defaulting to
// application/octet-stream.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return defaultContentType
}

var suffixLimit = big.NewInt(1_000_000_000)

// AttachmentStore writes uploads into dir under generated names and serves
// them back only from inside dir.
type AttachmentStore struct {
	dir     string
	maxSize int64
	logger  *slog.Logger
	now     func() time.Time
}

// NewAttachmentStore creates a store rooted at dir. dir is created on first
// Save if missing. maxSize <= 0 selects DefaultMaxSize.
func NewAttachmentStore(dir string, maxSize int64, logger *slog.Logger) *AttachmentStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &AttachmentStore{
		dir:     dir,
		maxSize: maxSize,
		logger:  logger,
		now:     time.Now,
	}
}

// MaxSize returns the upload size cap in bytes.
func (s *AttachmentStore) MaxSize() int64 {
	return s.maxSize
}

// Save copies the upload to a new file named {unix-nanos}-{random}{ext} and
// returns that name. Uploads larger than the cap are removed and rejected
// with driven.ErrPayloadTooLarge.
func (s *AttachmentStore) Save(ctx context.Context, upload driven.Upload) (string, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return "", fmt.Errorf("open upload dir: %w", err)
	}
	defer root.Close()

	name, err := s.generateName(upload.Filename)
	if err != nil {
		return "", err
	}

	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create attachment %s: %w", name, err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(&contextReader{ctx: ctx, r: upload.Content}, s.maxSize+1))
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		s.discard(root, name)
		return "", fmt.Errorf("write attachment %s: %w", name, copyErr)
	case n > s.maxSize:
		s.discard(root, name)
		return "", fmt.Errorf("upload %q: %w", upload.Filename, driven.ErrPayloadTooLarge)
	case closeErr != nil:
		s.discard(root, name)
		return "", fmt.Errorf("close attachment %s: %w", name, closeErr)
	}

	s.logger.Info("attachment stored", "name", name, "bytes", n)
	return name, nil
}

// Open resolves a requested name to a file directly inside the upload root.
// Directory components are stripped, so traversal attempts resolve to a
// name that does not exist and yield driven.ErrAttachmentNotFound.
func (s *AttachmentStore) Open(ctx context.Context, requested string) (*driven.Attachment, error) {
	name, ok := sanitizeName(requested)
	if !ok {
		return nil, fmt.Errorf("open attachment %q: %w", requested, driven.ErrAttachmentNotFound)
	}

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open attachment %q: %w", name, driven.ErrAttachmentNotFound)
		}
		return nil, fmt.Errorf("open upload dir: %w", err)
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		s.logger.Warn("attachment not found", "requested", requested, "name", name)
		return nil, fmt.Errorf("open attachment %q: %w", name, driven.ErrAttachmentNotFound)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat attachment %q: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("open attachment %q: %w", name, driven.ErrAttachmentNotFound)
	}

	return &driven.Attachment{
		Name:        name,
		ContentType: ContentType(name),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Content:     &contextFile{ctx: ctx, File: f},
	}, nil
}

// Remove deletes a stored file. Failures, including a file that is already
// gone, are logged and otherwise ignored.
func (s *AttachmentStore) Remove(_ context.Context, stored string) {
	name, ok := sanitizeName(stored)
	if !ok {
		s.logger.Warn("refusing to remove attachment with invalid name", "name", stored)
		return
	}

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		s.logger.Warn("error deleting attachment", "name", name, "error", err)
		return
	}
	defer root.Close()

	if err := root.Remove(name); err != nil {
		s.logger.Warn("error deleting attachment", "name", name, "error", err)
		return
	}
	s.logger.Info("attachment removed", "name", name)
}

func (s *AttachmentStore) generateName(original string) (string, error) {
	n, err := rand.Int(rand.Reader, suffixLimit)
	if err != nil {
		return "", fmt.Errorf("generate attachment suffix: %w", err)
	}
	return fmt.Sprintf("%d-%09d%s", s.now().UnixNano(), n.Int64(), extensionOf(original)), nil
}

func (s *AttachmentStore) discard(root *os.Root, name string) {
	if err := root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("error deleting partial attachment", "name", name, "error", err)
	}
}

// extensionOf keeps the original extension only when it is short and
// alphanumeric; anything else is dropped.
func extensionOf(original string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(original, `\`, "/")))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

// sanitizeName decodes a requested name and keeps only its final path
// element. Backslashes count as separators.
func sanitizeName(requested string) (string, bool) {
	decoded, err := url.PathUnescape(requested)
	if err != nil {
		decoded = requested
	}
	decoded = strings.ReplaceAll(decoded, `\`, "/")
	if strings.ContainsRune(decoded, 0) {
		return "", false
	}

	name := path.Base(path.Clean("/" + decoded))
	if name == "/" || name == "." || name == ".." || name == "" {
		return "", false
	}
	return name, true
}

// contextReader stops an upload copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// contextFile refuses further reads once the consumer's context is done, so a
// disconnected client stops the stream and the handle can be released.
type contextFile struct {
	ctx context.Context
	*os.File
}

func (c *contextFile) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.File.Read(p)
}
