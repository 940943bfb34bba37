// Package files keeps uploaded attachments in a temporary area until the
// booking they belong to succeeds, then moves them to permanent storage.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bookflow/internal/config"
)

var ErrInvalidRef = errors.New("invalid file reference")

type LocalStore struct {
	tempDir      string
	permanentDir string
	logger       *zerolog.Logger
}

func NewLocalStore(cfg config.FilesConfig, logger *zerolog.Logger) (*LocalStore, error) {
	for _, dir := range []string{cfg.TempDir, cfg.PermanentDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &LocalStore{tempDir: cfg.TempDir, permanentDir: cfg.PermanentDir, logger: logger}, nil
}

// Upload stores r in the temporary area and returns its reference.
func (s *LocalStore) Upload(_ context.Context, filename string, r io.Reader) (string, error) {
	ref := uuid.NewString() + strings.ToLower(filepath.Ext(filename))

	f, err := os.OpenFile(filepath.Join(s.tempDir, ref), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	return ref, nil
}

// Promote moves temporary files to permanent storage and returns the refs
// that are now permanent. Refs already promoted are kept; unknown refs are
// logged and dropped.
func (s *LocalStore) Promote(ctx context.Context, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := validateRef(ref); err != nil {
			s.logger.Warn().Str("ref", ref).Msg("skipping invalid file reference")
			continue
		}

		dst := filepath.Join(s.permanentDir, ref)
		if _, err := os.Stat(dst); err == nil {
			out = append(out, ref)
			continue
		}

		src := filepath.Join(s.tempDir, ref)
		if err := os.Rename(src, dst); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				s.logger.Warn().Str("ref", ref).Msg("temporary file not found")
				continue
			}
			return out, fmt.Errorf("promote %s: %w", ref, err)
		}
		out = append(out, ref)
	}
	return out, nil
}

// Open returns a permanent file.
func (s *LocalStore) Open(ref string) (*os.File, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.permanentDir, ref))
}

// CleanupTemp removes uploads that were never promoted.
func (s *LocalStore) CleanupTemp(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || e.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.tempDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func validateRef(ref string) error {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}
