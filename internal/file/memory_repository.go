package file

import (
	"sort"
	"sync"
)

// MemoryRepository is an in-memory ledger used by tests. It enforces the same
// ready-checksum uniqueness as the SQL schema so dedup races behave
// identically.
type MemoryRepository struct {
	mu       sync.RWMutex
	files    map[string]*FileRecord
	variants map[string][]*VariantRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		files:    make(map[string]*FileRecord),
		variants: make(map[string][]*VariantRecord),
	}
}

func (r *MemoryRepository) Save(rec *FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.files {
		if existing.Checksum == rec.Checksum && existing.Status == StatusReady && rec.Status == StatusReady {
			return ErrDuplicateChecksum
		}
	}
	clone := *rec
	r.files[rec.ID] = &clone
	return nil
}

func (r *MemoryRepository) GetByID(id string) (*FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *MemoryRepository) FindByChecksum(checksum string) (*FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.files {
		if rec.Checksum == checksum && rec.Status == StatusReady {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) ListByOwner(ownerID string, filter ListFilter) ([]*FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*FileRecord
	for _, rec := range r.files {
		if rec.OwnerID != ownerID || rec.Status == StatusDeleted {
			continue
		}
		if filter.Category != "" && rec.Category != filter.Category {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		clone := *rec
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UploadedAt > records[j].UploadedAt
	})
	return records, nil
}

func (r *MemoryRepository) ListRecent(limit int) ([]*FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*FileRecord
	for _, rec := range r.files {
		if rec.Status != StatusReady {
			continue
		}
		clone := *rec
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UploadedAt > records[j].UploadedAt
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *MemoryRepository) ListByStatus(status Status) ([]*FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*FileRecord
	for _, rec := range r.files {
		if rec.Status != status {
			continue
		}
		clone := *rec
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UploadedAt < records[j].UploadedAt
	})
	return records, nil
}

func (r *MemoryRepository) UpdateStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.files[id]
	if !ok {
		return ErrNotFound
	}
	if status == StatusReady {
		for _, other := range r.files {
			if other.ID != id && other.Checksum == rec.Checksum && other.Status == StatusReady {
				return ErrDuplicateChecksum
			}
		}
	}
	rec.Status = status
	return nil
}

func (r *MemoryRepository) SaveVariant(v *VariantRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *v
	r.variants[v.FileID] = append(r.variants[v.FileID], &clone)
	return nil
}

func (r *MemoryRepository) VariantsByFileID(fileID string) ([]*VariantRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var variants []*VariantRecord
	for _, v := range r.variants[fileID] {
		clone := *v
		variants = append(variants, &clone)
	}
	return variants, nil
}

func (r *MemoryRepository) MarkDeleted(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.files[id]
	if !ok || rec.Status == StatusDeleted {
		return ErrNotFound
	}
	rec.Status = StatusDeleted
	return nil
}

func (r *MemoryRepository) ListDeletedBefore(cutoff int64) ([]*FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*FileRecord
	for _, rec := range r.files {
		if rec.Status != StatusDeleted || rec.UploadedAt >= cutoff {
			continue
		}
		clone := *rec
		for _, v := range r.variants[rec.ID] {
			vc := *v
			clone.Variants = append(clone.Variants, &vc)
		}
		records = append(records, &clone)
	}
	return records, nil
}

func (r *MemoryRepository) HardDelete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.files, id)
	delete(r.variants, id)
	return nil
}

func (r *MemoryRepository) CountByStatus() (map[Status]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Status]int64)
	for _, rec := range r.files {
		counts[rec.Status]++
	}
	return counts, nil
}

func (r *MemoryRepository) CountByCategory() (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64)
	for _, rec := range r.files {
		if rec.Status == StatusReady {
			counts[string(rec.Category)]++
		}
	}
	return counts, nil
}

func (r *MemoryRepository) TotalUsedBytes() (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, rec := range r.files {
		if rec.Status != StatusDeleted {
			total += rec.SizeBytes
		}
	}
	return total, nil
}

func (r *MemoryRepository) KnownStoragePaths() (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make(map[string]bool)
	for _, rec := range r.files {
		paths[rec.StoragePath] = true
	}
	for _, variants := range r.variants {
		for _, v := range variants {
			paths[v.Path] = true
		}
	}
	return paths, nil
}
