package file

import (
	"github.com/filegate/filegate_server/internal/inspect"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusReady       Status = "ready"
	StatusQuarantined Status = "quarantined"
	StatusDeleted     Status = "deleted"
)

// FileRecord is the durable representation of one accepted upload. The id is
// never derived from user input, originalName is display-only and
// storagePath is always pathguard-authorized before a record exists.
type FileRecord struct {
	ID           string                 `json:"id"`
	OwnerID      string                 `json:"ownerId"`
	OriginalName string                 `json:"originalName"`
	StoredName   string                 `json:"-"`
	Category     inspect.Category       `json:"category"`
	ContentType  string                 `json:"contentType"`
	DetectedType string                 `json:"detectedType"`
	Checksum     string                 `json:"checksum"`
	SizeBytes    int64                  `json:"sizeBytes"`
	StoragePath  string                 `json:"-"`
	PublicURL    string                 `json:"url,omitempty"`
	Status       Status                 `json:"status"`
	IsPublic     bool                   `json:"isPublic"`
	UploadedAt   int64                  `json:"uploadedAt"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Variants     []*VariantRecord       `json:"variants,omitempty"`
}

// VariantRecord is a derived rendition of a parent file, referenced by id
// only. Its lifetime never exceeds the parent's: deleting the parent
// cascades.
type VariantRecord struct {
	FileID    string                 `json:"fileId"`
	Kind      string                 `json:"type"`
	Path      string                 `json:"-"`
	URL       string                 `json:"url,omitempty"`
	SizeBytes int64                  `json:"sizeBytes"`
	MimeType  string                 `json:"mimeType"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt int64                  `json:"createdAt"`
}

// Upload is the normalized per-file input from the request boundary: an owned
// buffer plus declared metadata. Nothing beyond the byte content is trusted.
type Upload struct {
	Name         string
	DeclaredType string
	Category     inspect.Category
	Content      []byte
	IsPublic     bool
	Metadata     map[string]interface{}
}

type RejectedFile struct {
	Name    string   `json:"name"`
	Reasons []string `json:"reasons"`
}

// Report is the per-request outcome. Files are processed independently: one
// rejection never aborts its siblings.
type Report struct {
	Accepted []*FileRecord  `json:"accepted"`
	Rejected []RejectedFile `json:"rejected"`
	Warnings []string       `json:"warnings"`
}

type ListFilter struct {
	Category inspect.Category
	Status   Status
	Limit    int
	Offset   int
}

// HealthSnapshot is the ops surface for capacity accounting.
type HealthSnapshot struct {
	Status           string           `json:"status"`
	DiskTotalBytes   int64            `json:"diskTotalBytes"`
	DiskUsedBytes    int64            `json:"diskUsedBytes"`
	DiskFreeBytes    int64            `json:"diskFreeBytes"`
	DiskUsedPercent  float64          `json:"diskUsedPercent"`
	DiskTotal        string           `json:"diskTotal"`
	DiskUsed         string           `json:"diskUsed"`
	DiskFree         string           `json:"diskFree"`
	StoredBytes      int64            `json:"storedBytes"`
	Stored           string           `json:"stored"`
	CountsByStatus   map[Status]int64 `json:"countsByStatus"`
	CountsByCategory map[string]int64 `json:"countsByCategory"`
}

const (
	healthWarningPercent  = 75
	healthCriticalPercent = 90
)

func categoryFromString(s string) inspect.Category {
	if c, ok := inspect.ParseCategory(s); ok {
		return c
	}
	return inspect.CategoryResource
}
