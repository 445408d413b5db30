package types

import "time"

// ReportStatus is the review state of a report.
type ReportStatus string

// Supported report states.
const (
	ReportStatusInProgress ReportStatus = "in_progress"
	ReportStatusInReview   ReportStatus = "in_review"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusRejected   ReportStatus = "rejected"
)

// Valid reports whether s is a known report status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportStatusInProgress, ReportStatusInReview, ReportStatusCompleted, ReportStatusRejected:
		return true
	default:
		return false
	}
}

// Report represents an inspector's submitted findings for a job.
type Report struct {
	// ID is the unique identifier of the report.
	ID string `json:"id" db:"id"`

	// InspectorID references the user that submitted the report.
	InspectorID string `json:"inspector" db:"inspector_id"`

	// JobID references the inspected job.
	JobID string `json:"job" db:"job_id"`

	// Images is the ordered list of image metadata owned by the report.
	// Every Key refers to a live object in storage.
	Images []ReportImage `json:"images" db:"images"`

	// Status is the review state of the report.
	Status ReportStatus `json:"status" db:"status"`

	// Notes holds the inspector's free-text findings.
	Notes string `json:"notes" db:"notes"`

	// CreatedAt is the timestamp when the report was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the report.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ReportImage is the metadata of one uploaded image.
type ReportImage struct {
	// LabelID references the image label, when one was chosen.
	LabelID string `json:"labelId,omitempty"`

	// Label is the label text resolved when the report was written.
	Label string `json:"label"`

	// URL is the public location of the object.
	URL string `json:"url"`

	// Key is the object storage key.
	Key string `json:"key"`

	FileName     string `json:"fileName"`
	Alt          string `json:"alt,omitempty"`
	UploadedBy   string `json:"uploadedBy"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	NoteForAdmin string `json:"noteForAdmin,omitempty"`
}

// JobSummary is the subset of a job embedded in report views.
type JobSummary struct {
	ID              string     `json:"id"`
	FormType        string     `json:"formType"`
	CaseNumber      string     `json:"caseNumber"`
	OrderID         string     `json:"orderId"`
	Address         string     `json:"address"`
	DevelopmentName string     `json:"developmentName"`
	FeeStatus       FeeStatus  `json:"feeStatus"`
	DueDate         *time.Time `json:"dueDate,omitempty"`
}

// ReportView is the read model of a report with its references resolved.
type ReportView struct {
	ID        string        `json:"id"`
	Inspector *UserRef      `json:"inspector"`
	Job       *JobSummary   `json:"job"`
	Images    []ReportImage `json:"images"`
	Status    ReportStatus  `json:"status"`
	Notes     string        `json:"notes"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ReportFilter narrows report listings.
type ReportFilter struct {
	PageQuery

	InspectorID string
	JobID       string
	Status      ReportStatus
}
