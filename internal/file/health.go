package file

import (
	"fmt"
	"syscall"

	"github.com/dustin/go-humanize"
)

// HealthSnapshot reports disk capacity for the storage tree plus ledger
// counts. Above 90% used the status is critical, above 75% warning.
func (s *Service) HealthSnapshot() (*HealthSnapshot, error) {
	total, used, free, err := diskUsage(s.cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage: %w", err)
	}

	byStatus, err := s.repo.CountByStatus()
	if err != nil {
		return nil, err
	}
	byCategory, err := s.repo.CountByCategory()
	if err != nil {
		return nil, err
	}
	stored, err := s.repo.TotalUsedBytes()
	if err != nil {
		return nil, err
	}

	percent := 0.0
	if total > 0 {
		percent = float64(used) / float64(total) * 100
	}

	status := "ok"
	switch {
	case percent > healthCriticalPercent:
		status = "critical"
	case percent > healthWarningPercent:
		status = "warning"
	}

	return &HealthSnapshot{
		Status:           status,
		DiskTotalBytes:   total,
		DiskUsedBytes:    used,
		DiskFreeBytes:    free,
		DiskUsedPercent:  percent,
		DiskTotal:        humanize.IBytes(uint64(total)),
		DiskUsed:         humanize.IBytes(uint64(used)),
		DiskFree:         humanize.IBytes(uint64(free)),
		StoredBytes:      stored,
		Stored:           humanize.IBytes(uint64(stored)),
		CountsByStatus:   byStatus,
		CountsByCategory: byCategory,
	}, nil
}

func (s *Service) RecentUploads(limit int) ([]*FileRecord, error) {
	records, err := s.repo.ListRecent(limit)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		s.populateURLs(rec)
	}
	return records, nil
}

func diskUsage(path string) (total, used, free int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, 0, err
	}
	total = int64(stat.Blocks) * int64(stat.Bsize)
	free = int64(stat.Bavail) * int64(stat.Bsize)
	used = total - free
	return total, used, free, nil
}
