package file

import "errors"

var (
	ErrNotFound = errors.New("file not found")
	// ErrDuplicateChecksum signals that the ready-checksum unique constraint
	// fired: another writer persisted identical content first. Callers fall
	// back to re-reading the now-present record.
	ErrDuplicateChecksum = errors.New("duplicate checksum")
)

type Repository interface {
	Save(rec *FileRecord) error
	GetByID(id string) (*FileRecord, error)
	// FindByChecksum is the single dedup point: it matches Ready records
	// only. No other code path duplicates this lookup.
	FindByChecksum(checksum string) (*FileRecord, error)
	ListByOwner(ownerID string, filter ListFilter) ([]*FileRecord, error)
	ListRecent(limit int) ([]*FileRecord, error)
	// ListByStatus feeds the reaper's integrity pass over ready files.
	ListByStatus(status Status) ([]*FileRecord, error)
	UpdateStatus(id string, status Status) error

	SaveVariant(v *VariantRecord) error
	VariantsByFileID(fileID string) ([]*VariantRecord, error)

	// MarkDeleted soft-deletes: it flips status and cascades to variants.
	// Physical bytes are removed later by the reaper.
	MarkDeleted(id string) error
	ListDeletedBefore(cutoff int64) ([]*FileRecord, error)
	HardDelete(id string) error

	CountByStatus() (map[Status]int64, error)
	CountByCategory() (map[string]int64, error)
	TotalUsedBytes() (int64, error)
	// KnownStoragePaths returns every live physical path (files and
	// variants) for orphan reconciliation.
	KnownStoragePaths() (map[string]bool, error)
}
