package models

import "time"

// Asset statuses
const (
	AssetPending   = "pending"
	AssetRendering = "rendering"
	AssetCompleted = "completed"
	AssetFailed    = "failed"
)

// Job statuses
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// CampaignAsset is one variant rendered at one size
type CampaignAsset struct {
	ID          string     `json:"id"`
	VariantID   string     `json:"variant_id"`
	VariantName string     `json:"variant_name"`
	SizeID      string     `json:"size_id"`
	SizeName    string     `json:"size_name"`
	Platform    string     `json:"platform,omitempty"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	FilePath    string     `json:"file_path,omitempty"` // relative to the job output dir
	SizeBytes   int64      `json:"size_bytes,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GenerationJob is a single run of a campaign through the render pipeline
type GenerationJob struct {
	ID             string          `json:"id"`
	CampaignID     string          `json:"campaign_id"`
	CampaignName   string          `json:"campaign_name,omitempty"` // joined field
	Campaign       *Campaign       `json:"-"`
	Assets         []CampaignAsset `json:"assets,omitempty"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	TotalCount     int             `json:"total_count"`
	CompletedCount int             `json:"completed_count"`
	FailedCount    int             `json:"failed_count"`
	OutputDir      string          `json:"output_dir"`
	ZipPath        string          `json:"zip_path,omitempty"`
	ArchiveObject  string          `json:"archive_object,omitempty"`
	ArchiveURL     string          `json:"archive_url,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Finished reports whether the job reached a terminal status
func (j *GenerationJob) Finished() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// JobListFilter for filtering jobs
type JobListFilter struct {
	CampaignID string
	Status     string
	Limit      int
	Offset     int
}
