// Package upload implements the file-reference surface: files are stored on
// local disk under unique names and shared with rooms as URL-addressable
// descriptors. The signaling core only ever sees the descriptor, never the
// bytes.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrTooLarge is returned when the uploaded file exceeds the configured
	// size cap.
	ErrTooLarge = errors.New("file too large")

	// ErrForbiddenType is returned for files rejected by the extension
	// deny-list or the MIME allow-list.
	ErrForbiddenType = errors.New("file type not allowed")
)

// allowedMimeTypes is the upload content-type allow-list: images, PDF, common
// office formats, plain text, and zip archives.
var allowedMimeTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"text/plain":                   {},
	"application/zip":              {},
	"application/x-zip-compressed": {},
}

// blockedExtensions rejects executable content regardless of the declared
// MIME type.
var blockedExtensions = map[string]struct{}{
	".exe": {},
	".bat": {},
	".cmd": {},
	".sh":  {},
	".js":  {},
	".jar": {},
}

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// Descriptor is the wire representation of a stored file. It is embedded in
// file-typed chat messages and returned by POST /api/upload.
type Descriptor struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	Mimetype     string    `json:"mimetype"`
	Size         int64     `json:"size"`
	IsImage      bool      `json:"isImage"`
	URL          string    `json:"url"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Store writes uploads to a single local directory.
type Store struct {
	dir      string
	maxBytes int64
	log      *slog.Logger
}

func NewStore(dir string, maxBytes int64, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes, log: log}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Save validates the file against the type policy, stores it under a unique
// name, and returns its descriptor. A file larger than the store's cap is
// removed again and reported as ErrTooLarge.
func (s *Store) Save(originalName, mimetype string, r io.Reader) (Descriptor, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if _, blocked := blockedExtensions[ext]; blocked {
		return Descriptor{}, fmt.Errorf("%w: extension %s is blocked for security reasons", ErrForbiddenType, ext)
	}
	if _, ok := allowedMimeTypes[normalizeMimetype(mimetype)]; !ok {
		return Descriptor{}, fmt.Errorf("%w: %s (allowed: images, PDF, documents)", ErrForbiddenType, mimetype)
	}

	name := uniqueName(originalName, ext)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Descriptor{}, fmt.Errorf("create upload file: %w", err)
	}

	// Copy at most maxBytes+1 so oversize is detected without buffering the
	// whole payload.
	written, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return Descriptor{}, fmt.Errorf("write upload file: %w", err)
	}
	if written > s.maxBytes {
		_ = os.Remove(path)
		return Descriptor{}, ErrTooLarge
	}

	_, isImage := imageExtensions[ext]
	desc := Descriptor{
		Filename:     name,
		OriginalName: originalName,
		Mimetype:     mimetype,
		Size:         written,
		IsImage:      isImage,
		URL:          "/uploads/" + name,
		UploadedAt:   time.Now(),
	}
	s.log.Info("file uploaded", "name", originalName, "stored_as", name, "size", FormatSize(written))
	return desc, nil
}

// CleanupOld deletes stored files whose modification time is older than
// maxAge, returning how many were removed.
func (s *Store) CleanupOld(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.log.Warn("failed to delete old upload", "file", entry.Name(), "err", err)
			continue
		}
		removed++
		s.log.Info("deleted old upload", "file", entry.Name())
	}
	return removed, nil
}

// uniqueName builds "{base}-{epochMillis}-{random}{ext}" so concurrent
// uploads of the same filename never collide.
func uniqueName(originalName, ext string) string {
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	if base == "" || base == "." {
		base = "file"
	}
	return fmt.Sprintf("%s-%d-%d%s", base, time.Now().UnixMilli(), rand.Intn(1_000_000_000), ext)
}

func normalizeMimetype(mimetype string) string {
	// Strip parameters like "; charset=utf-8".
	if i := strings.IndexByte(mimetype, ';'); i >= 0 {
		mimetype = mimetype[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimetype))
}

// FormatSize renders a byte count using binary units, for logs.
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Log(float64(bytes)) / math.Log(1024))
	if i >= len(units) {
		i = len(units) - 1
	}
	v := float64(bytes) / math.Pow(1024, float64(i))
	return fmt.Sprintf("%.2f %s", v, units[i])
}
