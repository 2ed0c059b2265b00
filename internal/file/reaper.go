package file

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper is the only code path that deletes physical files. It hard-deletes
// soft-deleted records past retention and removes on-disk orphans with no
// ledger row. Every path it touches is record-derived or found under the
// validated base tree; it never acts on user-supplied paths.
type Reaper struct {
	service       *Service
	retentionDays int
	interval      time.Duration
	ticker        *time.Ticker
	done          chan bool
}

// orphanGrace protects in-flight writes: files younger than this are never
// treated as orphans even without a ledger row.
const orphanGrace = time.Hour

func NewReaper(service *Service, retentionDays int, interval time.Duration) *Reaper {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Reaper{
		service:       service,
		retentionDays: retentionDays,
		interval:      interval,
		done:          make(chan bool),
	}
}

func (r *Reaper) Start() {
	log.Info().
		Int("retentionDays", r.retentionDays).
		Dur("interval", r.interval).
		Msg("Storage reaper started")

	r.ticker = time.NewTicker(r.interval)
	go r.loop()
}

func (r *Reaper) loop() {
	for {
		select {
		case <-r.ticker.C:
			r.RunNow()
		case <-r.done:
			r.ticker.Stop()
			return
		}
	}
}

func (r *Reaper) Stop() {
	log.Info().Msg("Stopping storage reaper")
	if r.ticker != nil {
		r.done <- true
	}
}

// RunNow executes one full pass: retention cleanup, orphan reconciliation and
// the ledger integrity check. Also used by the admin cleanup trigger.
func (r *Reaper) RunNow() {
	removed := r.cleanupExpired()
	orphans := r.reconcileOrphans()
	corrupted := r.verifyIntegrity()

	log.Info().
		Int("expiredRemoved", removed).
		Int("orphansRemoved", orphans).
		Int("corruptedQuarantined", corrupted).
		Msg("Reaper pass completed")
}

func (r *Reaper) cleanupExpired() int {
	cutoff := time.Now().AddDate(0, 0, -r.retentionDays).Unix()

	records, err := r.service.repo.ListDeletedBefore(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expired deleted records")
		return 0
	}

	removed := 0
	for _, rec := range records {
		// Paths come from the record, but still must resolve inside the
		// base tree before anything is unlinked.
		if !r.pathInsideBase(rec.StoragePath) {
			log.Error().Str("path", rec.StoragePath).Msg("Refusing to reap path outside base tree")
			continue
		}
		r.service.removePhysical(rec)
		if err := r.service.repo.HardDelete(rec.ID); err != nil {
			log.Error().Err(err).Str("id", rec.ID).Msg("Failed to hard-delete record")
			continue
		}
		removed++
	}
	return removed
}

// reconcileOrphans walks the physical tree and removes files no record knows
// about. Fresh files are left alone: they may belong to an upload that has
// not committed yet.
func (r *Reaper) reconcileOrphans() int {
	known, err := r.service.repo.KnownStoragePaths()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load known storage paths")
		return 0
	}

	removed := 0
	err = filepath.Walk(r.service.cfg.BaseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if known[path] {
			return nil
		}
		if time.Since(info.ModTime()) < orphanGrace {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			// Abandoned temp file from a crashed write.
			log.Debug().Str("path", path).Msg("Removing stale temp file")
		} else {
			log.Warn().Str("path", path).Msg("Removing orphaned file with no ledger record")
		}
		if err := os.Remove(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to remove orphan")
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("Orphan walk failed")
	}
	return removed
}

// verifyIntegrity recomputes the checksum of every ready file and quarantines
// records whose on-disk bytes no longer match the ledger. The bytes stay on
// disk for review; only servability is revoked.
func (r *Reaper) verifyIntegrity() int {
	records, err := r.service.repo.ListByStatus(StatusReady)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list ready records for integrity check")
		return 0
	}

	flagged := 0
	for _, rec := range records {
		if !r.pathInsideBase(rec.StoragePath) {
			continue
		}
		actual, err := r.service.store.Checksum(rec.StoragePath)
		if err != nil {
			log.Error().Err(err).Str("id", rec.ID).Str("path", rec.StoragePath).Msg("Integrity check cannot read file")
			continue
		}
		if actual == rec.Checksum {
			continue
		}
		log.Error().
			Str("id", rec.ID).
			Str("expected", rec.Checksum).
			Str("actual", actual).
			Msg("Stored bytes diverged from ledger checksum; quarantining record")
		if err := r.service.repo.UpdateStatus(rec.ID, StatusQuarantined); err != nil {
			log.Error().Err(err).Str("id", rec.ID).Msg("Failed to quarantine corrupted record")
			continue
		}
		flagged++
	}
	return flagged
}

func (r *Reaper) pathInsideBase(path string) bool {
	base := filepath.Clean(r.service.cfg.BaseDir)
	return strings.HasPrefix(filepath.Clean(path), base+string(filepath.Separator))
}
