// Package blob is the physical byte layer underneath the ledger: atomic
// local writes with on-the-fly checksumming, plus an optional S3 mirror for
// quarantined content.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteResult reports one completed atomic write.
type WriteResult struct {
	Size     int64
	Checksum string
}

// LocalStore writes files beneath validated absolute paths. Every write goes
// temp file -> tee into SHA-256 -> fsync -> atomic rename, so a crash never
// leaves a half-written file at the final path and the checksum always covers
// the exact bytes on disk.
type LocalStore struct{}

func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

func (s *LocalStore) Write(resolvedPath string, reader io.Reader) (*WriteResult, error) {
	if err := os.MkdirAll(filepath.Dir(resolvedPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}

	tmpPath := resolvedPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write data: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("fsync failed: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, resolvedPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("atomic rename failed: %w", err)
	}

	return &WriteResult{
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (s *LocalStore) Open(resolvedPath string) (*os.File, error) {
	return os.Open(resolvedPath)
}

func (s *LocalStore) Remove(resolvedPath string) error {
	err := os.Remove(resolvedPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

func (s *LocalStore) Exists(resolvedPath string) bool {
	_, err := os.Stat(resolvedPath)
	return err == nil
}

// Checksum recomputes the SHA-256 of a file already on disk. The reaper's
// integrity pass compares it against the ledger to detect corruption.
func (s *LocalStore) Checksum(resolvedPath string) (string, error) {
	f, err := os.Open(resolvedPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
