// Package artifacts manages uploaded contracts and review outputs on disk,
// with an optional S3 mirror.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/docreview/internal/fsutil"
	"github.com/dgallion1/docreview/internal/parser"
)

// ErrInvalidUpload wraps upload validation failures.
var ErrInvalidUpload = errors.New("invalid upload")

// ValidationError carries a user-facing reason for rejecting an upload.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalidUpload }

// ValidateUpload checks the file extension and size against maxBytes.
func ValidateUpload(filename string, size, maxBytes int64) error {
	if !parser.IsSupportedExtension(filename) {
		ext := strings.ToLower(filepath.Ext(filename))
		return &ValidationError{Message: fmt.Sprintf("不支持的文件格式: %s，仅支持 %s", ext, strings.Join(parser.SupportedExtensions, ", "))}
	}
	if maxBytes > 0 && size > maxBytes {
		return TooLarge(maxBytes)
	}
	return nil
}

// TooLarge is the rejection for uploads over maxBytes.
func TooLarge(maxBytes int64) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf("文件过大，最大支持 %.0fMB", float64(maxBytes)/(1024*1024))}
}

// Local stores uploads under one directory and per-contract outputs under
// another.
type Local struct {
	uploadDir  string
	storageDir string
	now        func() time.Time
}

// NewLocal creates both directories if needed.
func NewLocal(uploadDir, storageDir string) (*Local, error) {
	for _, d := range []string{uploadDir, storageDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	return &Local{uploadDir: uploadDir, storageDir: storageDir, now: time.Now}, nil
}

// UploadDir returns the upload directory.
func (l *Local) UploadDir() string { return l.uploadDir }

// UploadPath returns a timestamped path for an upload named name, as
// <base>_YYYYmmdd_HHMMSS<ext>.
func (l *Local) UploadPath(name string) string {
	name = filepath.Base(name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return filepath.Join(l.uploadDir, fmt.Sprintf("%s_%s%s", base, l.now().Format("20060102_150405"), ext))
}

// StoragePath returns the path of name within the contract's directory.
func (l *Local) StoragePath(contractID, name string) string {
	return filepath.Join(l.storageDir, contractID, filepath.Base(name))
}

// SaveUpload writes data to a fresh upload path and returns it.
func (l *Local) SaveUpload(name string, data []byte) (string, error) {
	path := l.UploadPath(name)
	if _, err := fsutil.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// WriteFile atomically writes a contract output and returns its path.
func (l *Local) WriteFile(contractID, name string, data []byte) (string, error) {
	path := l.StoragePath(contractID, name)
	if _, err := fsutil.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// DeleteContract removes every stored output of the contract.
func (l *Local) DeleteContract(contractID string) error {
	if !validID(contractID) {
		return fmt.Errorf("invalid contract id %q", contractID)
	}
	return os.RemoveAll(filepath.Join(l.storageDir, contractID))
}

// DraftPath returns the path of name within the draft's directory, kept
// apart from contract outputs under drafts/.
func (l *Local) DraftPath(draftID, name string) string {
	return filepath.Join(l.storageDir, "drafts", draftID, filepath.Base(name))
}

// WriteDraft atomically writes a rendered draft and returns its path.
func (l *Local) WriteDraft(draftID, name string, data []byte) (string, error) {
	if !validID(draftID) {
		return "", fmt.Errorf("invalid draft id %q", draftID)
	}
	path := l.DraftPath(draftID, name)
	if _, err := fsutil.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// DeleteDraft removes the draft's rendered files.
func (l *Local) DeleteDraft(draftID string) error {
	if !validID(draftID) {
		return fmt.Errorf("invalid draft id %q", draftID)
	}
	return os.RemoveAll(filepath.Join(l.storageDir, "drafts", draftID))
}

func validID(id string) bool {
	return id != "" && id != ".." && !strings.ContainsAny(id, `/\`)
}

// RemoveUpload deletes an uploaded file if it lives in the upload
// directory. Missing files are ignored.
func (l *Local) RemoveUpload(path string) error {
	if path == "" {
		return nil
	}
	rel, err := filepath.Rel(l.uploadDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%s is outside the upload directory", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CleanupUploads deletes regular files in the upload directory last
// modified more than maxAge ago and returns how many were removed.
func (l *Local) CleanupUploads(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(l.uploadDir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}
	cutoff := l.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.uploadDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
