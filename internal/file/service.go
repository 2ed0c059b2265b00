package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/filegate/filegate_server/internal/audit"
	"github.com/filegate/filegate_server/internal/blob"
	"github.com/filegate/filegate_server/internal/inspect"
	"github.com/filegate/filegate_server/internal/pathguard"
	"github.com/filegate/filegate_server/internal/sanitize"
	"github.com/filegate/filegate_server/internal/variant"
)

var (
	ErrNotAuthorized = errors.New("not authorized")
	ErrTooManyFiles  = errors.New("too many files in one request")
	ErrRequestSize   = errors.New("request exceeds size limit")
)

const variantSubdir = "variants"

// genericRejection is what callers see when a file was refused for reasons we
// do not want to spell out (post-write quarantine, storage faults). Detailed
// context stays in the server log.
const genericRejection = "file could not be processed"

type ServiceConfig struct {
	BaseDir            string
	PublicURL          string
	MaxFilesPerRequest int
	MaxRequestBytes    int64
}

// Service is the upload orchestrator: it drives each file through
// sanitize -> inspect -> dedup -> validated write -> variants -> ready, with
// the quarantine branch after the post-write scan.
type Service struct {
	repo      Repository
	guard     *pathguard.Guard
	inspector *inspect.Inspector
	generator *variant.Generator
	store     *blob.LocalStore
	mirror    *blob.QuarantineMirror
	recorder  audit.Recorder
	cfg       ServiceConfig
}

func NewService(
	repo Repository,
	guard *pathguard.Guard,
	inspector *inspect.Inspector,
	generator *variant.Generator,
	store *blob.LocalStore,
	mirror *blob.QuarantineMirror,
	recorder audit.Recorder,
	cfg ServiceConfig,
) *Service {
	if cfg.MaxFilesPerRequest <= 0 {
		cfg.MaxFilesPerRequest = 10
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 1024 * 1024 * 1024
	}
	// Ledger storage paths are absolute (the guard resolves them), so the
	// base must be too or the reaper's path comparisons are meaningless.
	if abs, err := filepath.Abs(cfg.BaseDir); err == nil {
		cfg.BaseDir = abs
	}
	return &Service{
		repo:      repo,
		guard:     guard,
		inspector: inspector,
		generator: generator,
		store:     store,
		mirror:    mirror,
		recorder:  recorder,
		cfg:       cfg,
	}
}

// ProcessUpload handles one multi-file request. Files are processed
// independently: a rejection never aborts siblings.
func (s *Service) ProcessUpload(ctx context.Context, ownerID string, uploads []Upload) (*Report, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: no files in request", ErrTooManyFiles)
	}
	if len(uploads) > s.cfg.MaxFilesPerRequest {
		return nil, fmt.Errorf("%w: %d files (max %d)", ErrTooManyFiles, len(uploads), s.cfg.MaxFilesPerRequest)
	}
	var total int64
	for _, u := range uploads {
		total += int64(len(u.Content))
	}
	if total > s.cfg.MaxRequestBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrRequestSize, total, s.cfg.MaxRequestBytes)
	}

	report := &Report{
		Accepted: []*FileRecord{},
		Rejected: []RejectedFile{},
		Warnings: []string{},
	}
	for _, u := range uploads {
		rec, rejection, warnings := s.processOne(ctx, ownerID, u)
		report.Warnings = append(report.Warnings, warnings...)
		if rejection != nil {
			report.Rejected = append(report.Rejected, *rejection)
			continue
		}
		report.Accepted = append(report.Accepted, rec)
	}
	return report, nil
}

func (s *Service) processOne(ctx context.Context, ownerID string, u Upload) (*FileRecord, *RejectedFile, []string) {
	displayName := sanitize.Name(u.Name)

	result := s.inspector.Inspect(ctx, u.Content, u.Name, u.DeclaredType, u.Category)

	var warnings []string
	for _, w := range result.Warnings {
		warnings = append(warnings, displayName+": "+w)
	}

	if result.TypeMismatch {
		s.recorder.RecordThreat(ctx, audit.SecurityThreat{
			Kind:        audit.ThreatMimeMismatch,
			Severity:    audit.SeverityLow,
			Description: fmt.Sprintf("declared type %q does not match detected type %q", u.DeclaredType, result.DetectedMimeType),
			Blocked:     false,
			OwnerID:     ownerID,
			FileName:    displayName,
		})
	}

	if !result.IsValid {
		s.reportFindings(ctx, ownerID, displayName, result)
		return nil, &RejectedFile{Name: displayName, Reasons: result.Errors}, warnings
	}

	sum := sha256.Sum256(u.Content)
	checksum := hex.EncodeToString(sum[:])

	// Single dedup point: identical Ready content collapses to one physical
	// file, whoever uploaded it first.
	if existing, err := s.repo.FindByChecksum(checksum); err == nil {
		s.attachVariants(existing)
		s.populateURLs(existing)
		return existing, nil, warnings
	}

	ext := inspect.ExtensionFor(u.Name, result.DetectedExtension)
	storedName := sanitize.StorageName(ext)
	relPath := filepath.Join(string(u.Category), time.Now().UTC().Format("2006-01-02"), storedName)

	resolved, violations := s.guard.Validate(relPath, s.cfg.BaseDir)
	if len(violations) > 0 {
		s.recorder.RecordThreat(ctx, audit.SecurityThreat{
			Kind:        audit.ThreatTraversal,
			Severity:    audit.SeverityHigh,
			Description: fmt.Sprintf("destination path rejected: %s", violations[0]),
			Blocked:     true,
			OwnerID:     ownerID,
			FileName:    displayName,
		})
		return nil, &RejectedFile{Name: displayName, Reasons: []string{genericRejection}}, warnings
	}

	written, err := s.store.Write(resolved, bytes.NewReader(u.Content))
	if err != nil {
		log.Error().Err(err).Str("path", resolved).Msg("Physical write failed")
		return nil, &RejectedFile{Name: displayName, Reasons: []string{genericRejection}}, warnings
	}
	if written.Checksum != checksum {
		// The bytes on disk are not the bytes we validated.
		log.Error().Str("expected", checksum).Str("actual", written.Checksum).Msg("Checksum mismatch after write")
		s.store.Remove(resolved)
		return nil, &RejectedFile{Name: displayName, Reasons: []string{genericRejection}}, warnings
	}

	rec := &FileRecord{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		OriginalName: displayName,
		StoredName:   storedName,
		Category:     u.Category,
		ContentType:  u.DeclaredType,
		DetectedType: result.DetectedMimeType,
		Checksum:     checksum,
		SizeBytes:    written.Size,
		StoragePath:  resolved,
		Status:       StatusPending,
		IsPublic:     u.IsPublic,
		UploadedAt:   time.Now().Unix(),
		Metadata:     cloneMetadata(u.Metadata),
	}
	if u.Category == inspect.CategoryImage {
		if w, h, ok := variant.Dimensions(u.Content); ok {
			if rec.Metadata == nil {
				rec.Metadata = map[string]interface{}{}
			}
			rec.Metadata["width"] = w
			rec.Metadata["height"] = h
		}
	}

	if err := s.repo.Save(rec); err != nil {
		s.store.Remove(resolved)
		if errors.Is(err, ErrDuplicateChecksum) {
			return s.resolveDuplicate(checksum, displayName, warnings)
		}
		log.Error().Err(err).Str("id", rec.ID).Msg("Failed to insert file record")
		return nil, &RejectedFile{Name: displayName, Reasons: []string{genericRejection}}, warnings
	}

	if threat := s.postWriteScan(resolved); threat != nil {
		threat.OwnerID = ownerID
		threat.FileName = displayName
		s.quarantine(ctx, rec, *threat)
		// No signal to the caller that the content was judged malicious.
		return nil, &RejectedFile{Name: displayName, Reasons: []string{genericRejection}}, warnings
	}

	if u.Category == inspect.CategoryImage {
		s.generateVariants(ctx, rec, u.Content)
	}

	if err := s.repo.UpdateStatus(rec.ID, StatusReady); err != nil {
		if errors.Is(err, ErrDuplicateChecksum) {
			// Concurrent upload of identical bytes won the race between our
			// dedup lookup and this commit. Keep theirs, drop ours.
			s.attachVariants(rec)
			s.removePhysical(rec)
			s.repo.HardDelete(rec.ID)
			return s.resolveDuplicate(checksum, displayName, warnings)
		}
		log.Error().Err(err).Str("id", rec.ID).Msg("Failed to mark file ready")
		return nil, &RejectedFile{Name: displayName, Reasons: []string{genericRejection}}, warnings
	}
	rec.Status = StatusReady

	s.attachVariants(rec)
	s.populateURLs(rec)
	return rec, nil, warnings
}

func (s *Service) resolveDuplicate(checksum, displayName string, warnings []string) (*FileRecord, *RejectedFile, []string) {
	existing, err := s.repo.FindByChecksum(checksum)
	if err != nil {
		log.Error().Err(err).Msg("Duplicate checksum reported but record not found")
		return nil, &RejectedFile{Name: displayName, Reasons: []string{genericRejection}}, warnings
	}
	s.attachVariants(existing)
	s.populateURLs(existing)
	return existing, nil, warnings
}

// postWriteScan is the secondary security pass over exactly what was
// persisted. The intake scan covers a bounded prefix of the request bytes;
// this one sweeps the entire on-disk file with the inspector's configured
// rules, so a payload smuggled past the prefix window is still caught.
func (s *Service) postWriteScan(resolvedPath string) *audit.SecurityThreat {
	f, err := s.store.Open(resolvedPath)
	if err != nil {
		log.Error().Err(err).Str("path", resolvedPath).Msg("Post-write scan cannot open file")
		// Fail closed: an unreadable fresh write is itself suspect.
		return &audit.SecurityThreat{
			Kind:        audit.ThreatMaliciousContent,
			Severity:    audit.SeverityHigh,
			Description: "post-write scan could not read persisted file",
			Blocked:     true,
		}
	}
	defer f.Close()

	finding, matched, err := s.inspector.ScanStream(f)
	if err != nil {
		log.Error().Err(err).Str("path", resolvedPath).Msg("Post-write scan failed mid-read")
		return &audit.SecurityThreat{
			Kind:        audit.ThreatMaliciousContent,
			Severity:    audit.SeverityHigh,
			Description: "post-write scan could not read persisted file",
			Blocked:     true,
		}
	}
	if matched {
		return &audit.SecurityThreat{
			Kind:        audit.ThreatMaliciousContent,
			Severity:    audit.Severity(finding.Severity),
			Description: "post-write scan: " + finding.Description,
			Blocked:     true,
		}
	}
	return nil
}

// quarantine flips the record, pushes a forensic copy to the mirror and keeps
// the bytes on disk for review. Quarantined records are never servable.
func (s *Service) quarantine(ctx context.Context, rec *FileRecord, threat audit.SecurityThreat) {
	if err := s.repo.UpdateStatus(rec.ID, StatusQuarantined); err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("Failed to quarantine record")
	}
	rec.Status = StatusQuarantined

	s.recorder.RecordThreat(ctx, threat)

	if s.mirror != nil {
		f, err := s.store.Open(rec.StoragePath)
		if err == nil {
			defer f.Close()
			if err := s.mirror.Push(ctx, rec.ID+"_"+rec.StoredName, f, rec.SizeBytes); err != nil {
				log.Warn().Err(err).Str("id", rec.ID).Msg("Failed to mirror quarantined file")
			}
		}
	}

	log.Warn().
		Str("id", rec.ID).
		Str("path", rec.StoragePath).
		Msg("File quarantined; retained for forensic review")
}

// generateVariants is best effort: any failure is logged and the parent
// upload proceeds untouched.
func (s *Service) generateVariants(ctx context.Context, rec *FileRecord, content []byte) {
	renditions, err := s.generator.Generate(ctx, content)
	if err != nil {
		log.Warn().Err(err).Str("id", rec.ID).Msg("Variant generation failed")
		return
	}

	parentBase := strings.TrimSuffix(rec.StoredName, filepath.Ext(rec.StoredName))
	dir := filepath.Dir(rec.StoragePath)

	for _, rendition := range renditions {
		name := fmt.Sprintf("%s_%s.%s", parentBase, rendition.Kind, rendition.Extension)
		relPath := filepath.Join(dir, variantSubdir, name)

		resolved, violations := s.guard.Validate(relPath, s.cfg.BaseDir)
		if len(violations) > 0 {
			log.Warn().Str("variant", string(rendition.Kind)).Msg("Variant path rejected")
			continue
		}

		written, err := s.store.Write(resolved, bytes.NewReader(rendition.Data))
		if err != nil {
			log.Warn().Err(err).Str("variant", string(rendition.Kind)).Msg("Variant write failed")
			continue
		}

		v := &VariantRecord{
			FileID:    rec.ID,
			Kind:      string(rendition.Kind),
			Path:      resolved,
			SizeBytes: written.Size,
			MimeType:  rendition.MimeType,
			Metadata: map[string]interface{}{
				"width":  rendition.Width,
				"height": rendition.Height,
			},
			CreatedAt: time.Now().Unix(),
		}
		if err := s.repo.SaveVariant(v); err != nil {
			log.Warn().Err(err).Str("variant", string(rendition.Kind)).Msg("Variant record insert failed")
			s.store.Remove(resolved)
		}
	}
}

func (s *Service) reportFindings(ctx context.Context, ownerID, displayName string, result inspect.ValidationResult) {
	if len(result.Findings) == 0 {
		s.recorder.RecordThreat(ctx, audit.SecurityThreat{
			Kind:        audit.ThreatSize,
			Severity:    audit.SeverityLow,
			Description: strings.Join(result.Errors, "; "),
			Blocked:     true,
			OwnerID:     ownerID,
			FileName:    displayName,
		})
		return
	}
	for _, finding := range result.Findings {
		s.recorder.RecordThreat(ctx, audit.SecurityThreat{
			Kind:        audit.ThreatMaliciousContent,
			Severity:    audit.Severity(finding.Severity),
			Description: finding.Description,
			Blocked:     true,
			OwnerID:     ownerID,
			FileName:    displayName,
		})
	}
}

// GetFile returns the record when it is servable and visible to the
// requester. Quarantined and deleted records behave as not found.
func (s *Service) GetFile(id, requesterID string) (*FileRecord, error) {
	rec, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusReady {
		return nil, ErrNotFound
	}
	if !rec.IsPublic && rec.OwnerID != requesterID {
		return nil, ErrNotFound
	}
	s.attachVariants(rec)
	s.populateURLs(rec)
	return rec, nil
}

func (s *Service) ListFiles(ownerID string, filter ListFilter) ([]*FileRecord, error) {
	records, err := s.repo.ListByOwner(ownerID, filter)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		s.populateURLs(rec)
	}
	return records, nil
}

// DownloadPath resolves the physical path for serving, through the path
// guard on every call; resolved paths are never cached across requests.
func (s *Service) DownloadPath(ctx context.Context, id, variantKind, requesterID string) (string, *FileRecord, error) {
	rec, err := s.GetFile(id, requesterID)
	if err != nil {
		return "", nil, err
	}

	target := rec.StoragePath
	if variantKind != "" {
		target = ""
		for _, v := range rec.Variants {
			if v.Kind == variantKind {
				target = v.Path
				break
			}
		}
		if target == "" {
			return "", nil, ErrNotFound
		}
	}

	resolved, err := s.guard.SafeAccess(target, s.cfg.BaseDir, pathguard.ModeRead)
	if err != nil {
		return "", nil, err
	}
	return resolved, rec, nil
}

// DeleteFile soft-deletes an owned record; physical bytes are removed later
// by the reaper.
func (s *Service) DeleteFile(id, ownerID string) error {
	rec, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if rec.Status == StatusDeleted {
		return ErrNotFound
	}
	if rec.OwnerID != ownerID {
		return ErrNotAuthorized
	}
	return s.repo.MarkDeleted(id)
}

func (s *Service) removePhysical(rec *FileRecord) {
	if err := s.store.Remove(rec.StoragePath); err != nil {
		log.Warn().Err(err).Str("path", rec.StoragePath).Msg("Failed to remove physical file")
	}
	for _, v := range rec.Variants {
		if err := s.store.Remove(v.Path); err != nil {
			log.Warn().Err(err).Str("path", v.Path).Msg("Failed to remove variant file")
		}
	}
}

func (s *Service) attachVariants(rec *FileRecord) {
	variants, err := s.repo.VariantsByFileID(rec.ID)
	if err != nil {
		log.Warn().Err(err).Str("id", rec.ID).Msg("Failed to load variants")
		return
	}
	rec.Variants = variants
}

func (s *Service) populateURLs(rec *FileRecord) {
	rec.PublicURL = fmt.Sprintf("%s/files/%s/download", s.cfg.PublicURL, rec.ID)
	for _, v := range rec.Variants {
		v.URL = fmt.Sprintf("%s/files/%s/download?variant=%s", s.cfg.PublicURL, rec.ID, v.Kind)
	}
}

// cloneMetadata copies the caller's map so records never share it. Batch
// uploads may pass one map for every file, and the record mutates its own.
func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	clone := make(map[string]interface{}, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
