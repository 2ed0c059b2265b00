package file

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/filegate/filegate_server/internal/audit"
	"github.com/filegate/filegate_server/internal/blob"
	"github.com/filegate/filegate_server/internal/inspect"
	"github.com/filegate/filegate_server/internal/pathguard"
	"github.com/filegate/filegate_server/internal/variant"
)

type captureRecorder struct {
	mu      sync.Mutex
	threats []audit.SecurityThreat
}

func (c *captureRecorder) RecordThreat(ctx context.Context, threat audit.SecurityThreat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threats = append(c.threats, threat)
}

func (c *captureRecorder) recorded() []audit.SecurityThreat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.SecurityThreat{}, c.threats...)
}

type testHarness struct {
	service  *Service
	repo     *MemoryRepository
	recorder *captureRecorder
	baseDir  string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	baseDir := t.TempDir()

	guard, err := pathguard.New([]string{baseDir}, nil, []string{"exe", "bat", "sh"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	repo := NewMemoryRepository()
	recorder := &captureRecorder{}
	service := NewService(
		repo,
		guard,
		inspect.New(inspect.Config{}),
		variant.NewGenerator(),
		blob.NewLocalStore(),
		nil,
		recorder,
		ServiceConfig{
			BaseDir:            baseDir,
			PublicURL:          "http://localhost:8080",
			MaxFilesPerRequest: 3,
			MaxRequestBytes:    10 * 1024 * 1024,
		},
	)

	return &testHarness{service: service, repo: repo, recorder: recorder, baseDir: baseDir}
}

func testPNG(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 200))
	for x := 0; x < 320; x++ {
		for y := 0; y < 200; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return buf.Bytes()
}

func sizedPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return buf.Bytes()
}

func imageUpload(t *testing.T, name string, seed uint8) Upload {
	return Upload{
		Name:         name,
		DeclaredType: "image/png",
		Category:     inspect.CategoryImage,
		Content:      testPNG(t, seed),
	}
}

func TestProcessUpload_AcceptedImageBecomesReady(t *testing.T) {
	h := newHarness(t)

	report, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{imageUpload(t, "holiday photo.png", 1)})

	assert.NoError(t, err)
	assert.Len(t, report.Accepted, 1)
	assert.Empty(t, report.Rejected)

	rec := report.Accepted[0]
	assert.Equal(t, StatusReady, rec.Status)
	assert.Equal(t, "holiday-photo.png", rec.OriginalName)
	assert.Equal(t, "owner-1", rec.OwnerID)
	assert.NotEmpty(t, rec.Checksum)
	assert.Contains(t, rec.PublicURL, "/files/"+rec.ID+"/download")
	assert.True(t, strings.HasPrefix(rec.StoragePath, h.baseDir))

	_, statErr := os.Stat(rec.StoragePath)
	assert.NoError(t, statErr)
}

func TestProcessUpload_GeneratesImageVariants(t *testing.T) {
	h := newHarness(t)

	report, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{imageUpload(t, "pic.png", 7)})

	assert.NoError(t, err)
	rec := report.Accepted[0]
	assert.Len(t, rec.Variants, 3)

	kinds := make(map[string]bool)
	for _, v := range rec.Variants {
		kinds[v.Kind] = true
		assert.Contains(t, v.Path, "variants")
		assert.Contains(t, v.URL, "?variant="+v.Kind)
		_, statErr := os.Stat(v.Path)
		assert.NoError(t, statErr)
	}
	assert.True(t, kinds["small"] && kinds["medium"] && kinds["large"])
}

func TestProcessUpload_DuplicateContentCollapsesToOneRecord(t *testing.T) {
	h := newHarness(t)

	first, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{imageUpload(t, "original.png", 3)})
	assert.NoError(t, err)

	second, err := h.service.ProcessUpload(context.Background(), "owner-2", []Upload{imageUpload(t, "copy.png", 3)})
	assert.NoError(t, err)

	assert.Len(t, second.Accepted, 1)
	assert.Equal(t, first.Accepted[0].ID, second.Accepted[0].ID)

	counts, _ := h.repo.CountByStatus()
	assert.Equal(t, int64(1), counts[StatusReady])
}

func TestProcessUpload_MaliciousFileRejectedAndReported(t *testing.T) {
	h := newHarness(t)

	upload := Upload{
		Name:         "invoice.pdf",
		DeclaredType: "application/pdf",
		Category:     inspect.CategoryDocument,
		Content:      append([]byte("MZ"), bytes.Repeat([]byte{0x00}, 64)...),
	}
	report, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{upload})

	assert.NoError(t, err)
	assert.Empty(t, report.Accepted)
	assert.Len(t, report.Rejected, 1)

	threats := h.recorder.recorded()
	assert.NotEmpty(t, threats)
	assert.Equal(t, audit.ThreatMaliciousContent, threats[0].Kind)
	assert.True(t, threats[0].Blocked)

	// nothing persisted
	entries, _ := os.ReadDir(h.baseDir)
	assert.Empty(t, entries)
}

func TestProcessUpload_RejectionDoesNotAbortSiblings(t *testing.T) {
	h := newHarness(t)

	uploads := []Upload{
		imageUpload(t, "good.png", 9),
		{
			Name:     "bad.exe",
			Category: inspect.CategoryResource,
			Content:  []byte("some harmless text padding"),
		},
	}
	report, err := h.service.ProcessUpload(context.Background(), "owner-1", uploads)

	assert.NoError(t, err)
	assert.Len(t, report.Accepted, 1)
	assert.Len(t, report.Rejected, 1)
	assert.Equal(t, "bad.exe", report.Rejected[0].Name)
}

func TestProcessUpload_EnforcesFileCountLimit(t *testing.T) {
	h := newHarness(t)

	uploads := make([]Upload, 4)
	for i := range uploads {
		uploads[i] = imageUpload(t, "a.png", uint8(i))
	}
	_, err := h.service.ProcessUpload(context.Background(), "owner-1", uploads)

	assert.ErrorIs(t, err, ErrTooManyFiles)
}

func TestProcessUpload_EnforcesRequestSizeLimit(t *testing.T) {
	h := newHarness(t)

	big := Upload{
		Name:     "big.bin",
		Category: inspect.CategoryResource,
		Content:  make([]byte, 11*1024*1024),
	}
	_, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{big})

	assert.ErrorIs(t, err, ErrRequestSize)
}

func TestProcessUpload_EmptyRequestRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.ProcessUpload(context.Background(), "owner-1", nil)

	assert.ErrorIs(t, err, ErrTooManyFiles)
}

func TestGetFile_QuarantinedBehavesAsNotFound(t *testing.T) {
	h := newHarness(t)

	rec := &FileRecord{ID: "q-1", OwnerID: "owner-1", Checksum: "c1", Status: StatusQuarantined}
	assert.NoError(t, h.repo.Save(rec))

	_, err := h.service.GetFile("q-1", "owner-1")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetFile_PrivateFileHiddenFromOthers(t *testing.T) {
	h := newHarness(t)

	report, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{imageUpload(t, "mine.png", 5)})
	assert.NoError(t, err)
	id := report.Accepted[0].ID

	_, err = h.service.GetFile(id, "owner-2")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := h.service.GetFile(id, "owner-1")
	assert.NoError(t, err)
	assert.Equal(t, id, got.ID)
}

func TestGetFile_PublicFileVisibleToAnyone(t *testing.T) {
	h := newHarness(t)

	upload := imageUpload(t, "shared.png", 6)
	upload.IsPublic = true
	report, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{upload})
	assert.NoError(t, err)

	got, err := h.service.GetFile(report.Accepted[0].ID, "owner-2")
	assert.NoError(t, err)
	assert.True(t, got.IsPublic)
}

func TestDownloadPath_ResolvesOriginalAndVariants(t *testing.T) {
	h := newHarness(t)

	report, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{imageUpload(t, "dl.png", 8)})
	assert.NoError(t, err)
	id := report.Accepted[0].ID

	path, rec, err := h.service.DownloadPath(context.Background(), id, "", "owner-1")
	assert.NoError(t, err)
	assert.Equal(t, rec.StoragePath, path)

	variantPath, _, err := h.service.DownloadPath(context.Background(), id, "small", "owner-1")
	assert.NoError(t, err)
	assert.Contains(t, variantPath, "_small.jpg")

	_, _, err = h.service.DownloadPath(context.Background(), id, "huge", "owner-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFile_OwnerOnly(t *testing.T) {
	h := newHarness(t)

	report, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{imageUpload(t, "del.png", 4)})
	assert.NoError(t, err)
	id := report.Accepted[0].ID

	assert.ErrorIs(t, h.service.DeleteFile(id, "owner-2"), ErrNotAuthorized)
	assert.NoError(t, h.service.DeleteFile(id, "owner-1"))

	_, err = h.service.GetFile(id, "owner-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting twice behaves as not found
	assert.ErrorIs(t, h.service.DeleteFile(id, "owner-1"), ErrNotFound)
}

func TestDeletedContentCanBeUploadedAgain(t *testing.T) {
	h := newHarness(t)

	first, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{imageUpload(t, "again.png", 2)})
	assert.NoError(t, err)
	assert.NoError(t, h.service.DeleteFile(first.Accepted[0].ID, "owner-1"))

	second, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{imageUpload(t, "again.png", 2)})
	assert.NoError(t, err)
	assert.Len(t, second.Accepted, 1)
	assert.NotEqual(t, first.Accepted[0].ID, second.Accepted[0].ID)
}

func TestPostWriteScan_FlagsPersistedThreats(t *testing.T) {
	h := newHarness(t)

	path := h.baseDir + "/scan-me.html"
	assert.NoError(t, os.WriteFile(path, []byte("<html><script>doEvil()</script></html>"), 0o640))

	threat := h.service.postWriteScan(path)

	assert.NotNil(t, threat)
	assert.Equal(t, audit.ThreatMaliciousContent, threat.Kind)
	assert.True(t, threat.Blocked)
}

func TestPostWriteScan_UnreadableFileFailsClosed(t *testing.T) {
	h := newHarness(t)

	threat := h.service.postWriteScan(h.baseDir + "/never-written.bin")

	assert.NotNil(t, threat)
}

func TestAcceptedFileChecksumMatchesBytesOnDisk(t *testing.T) {
	h := newHarness(t)

	report, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{imageUpload(t, "sum.png", 13)})
	assert.NoError(t, err)
	rec := report.Accepted[0]

	recomputed, err := h.service.store.Checksum(rec.StoragePath)
	assert.NoError(t, err)
	assert.Equal(t, rec.Checksum, recomputed)
}

func TestProcessUpload_SiblingMetadataStaysIndependent(t *testing.T) {
	h := newHarness(t)

	// one metadata map shared by both files in the batch
	shared := map[string]interface{}{"album": "trip"}
	uploads := []Upload{
		{Name: "wide.png", DeclaredType: "image/png", Category: inspect.CategoryImage, Content: sizedPNG(t, 300, 100), Metadata: shared},
		{Name: "tall.png", DeclaredType: "image/png", Category: inspect.CategoryImage, Content: sizedPNG(t, 100, 300), Metadata: shared},
	}
	report, err := h.service.ProcessUpload(context.Background(), "owner-1", uploads)

	assert.NoError(t, err)
	assert.Len(t, report.Accepted, 2)

	wide, tall := report.Accepted[0], report.Accepted[1]
	assert.Equal(t, 300, wide.Metadata["width"])
	assert.Equal(t, 100, wide.Metadata["height"])
	assert.Equal(t, 100, tall.Metadata["width"])
	assert.Equal(t, 300, tall.Metadata["height"])

	// the caller's map is never written to
	_, leaked := shared["width"]
	assert.False(t, leaked)
}

func TestProcessUpload_ThreatPastIntakeWindowIsQuarantined(t *testing.T) {
	h := newHarness(t)

	// first 512 KiB is clean, so the intake prefix scan passes; the payload
	// only shows up when the whole persisted file is swept
	content := append(bytes.Repeat([]byte{'A'}, 512*1024), []byte("<script>stealTokens()</script>")...)
	upload := Upload{
		Name:     "notes.txt",
		Category: inspect.CategoryResource,
		Content:  content,
	}
	report, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{upload})

	assert.NoError(t, err)
	assert.Empty(t, report.Accepted)
	assert.Len(t, report.Rejected, 1)
	assert.Equal(t, []string{"file could not be processed"}, report.Rejected[0].Reasons)

	var scanThreat *audit.SecurityThreat
	for _, threat := range h.recorder.recorded() {
		if threat.Kind == audit.ThreatMaliciousContent {
			scanThreat = &threat
			break
		}
	}
	assert.NotNil(t, scanThreat)
	assert.True(t, scanThreat.Blocked)
	assert.Contains(t, scanThreat.Description, "post-write scan")

	// record is quarantined, bytes stay on disk for review, nothing servable
	counts, _ := h.repo.CountByStatus()
	assert.Equal(t, int64(1), counts[StatusQuarantined])

	h.repo.mu.RLock()
	var quarantined *FileRecord
	for _, rec := range h.repo.files {
		if rec.Status == StatusQuarantined {
			clone := *rec
			quarantined = &clone
		}
	}
	h.repo.mu.RUnlock()
	assert.NotNil(t, quarantined)
	assert.True(t, h.service.store.Exists(quarantined.StoragePath))

	_, err = h.service.GetFile(quarantined.ID, "owner-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcessUpload_MismatchedDeclaredTypeIsAudited(t *testing.T) {
	h := newHarness(t)

	upload := imageUpload(t, "photo.png", 17)
	upload.DeclaredType = "image/gif"
	report, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{upload})

	assert.NoError(t, err)
	assert.Len(t, report.Accepted, 1)

	var mismatch *audit.SecurityThreat
	for _, threat := range h.recorder.recorded() {
		if threat.Kind == audit.ThreatMimeMismatch {
			mismatch = &threat
			break
		}
	}
	assert.NotNil(t, mismatch)
	assert.False(t, mismatch.Blocked)
	assert.Contains(t, mismatch.Description, "image/gif")
	assert.Contains(t, mismatch.Description, "image/png")
}

func TestListFiles_FiltersByCategoryAndHidesDeleted(t *testing.T) {
	h := newHarness(t)

	report, err := h.service.ProcessUpload(context.Background(), "owner-1", []Upload{
		imageUpload(t, "one.png", 11),
		imageUpload(t, "two.png", 12),
	})
	assert.NoError(t, err)
	assert.Len(t, report.Accepted, 2)
	assert.NoError(t, h.service.DeleteFile(report.Accepted[0].ID, "owner-1"))

	listed, err := h.service.ListFiles("owner-1", ListFilter{Category: inspect.CategoryImage})
	assert.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.Equal(t, report.Accepted[1].ID, listed[0].ID)
}
