package types

import "time"

// FeeStatus tracks payment of the agreed inspection fee.
type FeeStatus string

// Supported fee states.
const (
	FeeStatusUnpaid  FeeStatus = "unpaid"
	FeeStatusPending FeeStatus = "pending"
	FeeStatusPaid    FeeStatus = "paid"
)

// Valid reports whether s is a known fee status.
func (s FeeStatus) Valid() bool {
	switch s {
	case FeeStatusUnpaid, FeeStatusPending, FeeStatusPaid:
		return true
	default:
		return false
	}
}

// Job represents a scheduled inspection assignment.
type Job struct {
	// ID is the unique identifier of the job.
	ID string `json:"id" db:"id"`

	// InspectorID references the user assigned to perform the inspection.
	InspectorID string `json:"inspector" db:"inspector_id"`

	// FormType names the inspection form to be completed.
	FormType string `json:"formType" db:"form_type"`

	// FeeStatus tracks payment of AgreedFee.
	FeeStatus FeeStatus `json:"feeStatus" db:"fee_status"`

	// AgreedFee is the fee agreed with the client.
	AgreedFee float64 `json:"agreedFee" db:"agreed_fee"`

	// CaseNumber and OrderID are the client's identifiers for the job.
	CaseNumber string `json:"caseNumber" db:"case_number"`
	OrderID    string `json:"orderId" db:"order_id"`

	// Address is the site address to inspect.
	Address string `json:"address" db:"address"`

	// DevelopmentName is the name of the development the site belongs to.
	DevelopmentName string `json:"developmentName" db:"development_name"`

	// Site contact details.
	SiteContactName  string `json:"siteContactName" db:"site_contact_name"`
	SiteContactPhone string `json:"siteContactPhone" db:"site_contact_phone"`
	SiteContactEmail string `json:"siteContactEmail" db:"site_contact_email"`

	// DueDate is when the inspection must be completed.
	DueDate *time.Time `json:"dueDate,omitempty" db:"due_date"`

	// Notes holds free-text instructions for the inspector.
	Notes string `json:"notes" db:"notes"`

	// CreatedBy and LastUpdatedBy reference the users that wrote the job.
	CreatedBy     string `json:"createdBy" db:"created_by"`
	LastUpdatedBy string `json:"lastUpdatedBy" db:"last_updated_by"`

	// CreatedAt is the timestamp when the job was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the job.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// JobView is the read model of a job with its user references resolved.
type JobView struct {
	ID               string     `json:"id"`
	Inspector        *UserRef   `json:"inspector"`
	FormType         string     `json:"formType"`
	FeeStatus        FeeStatus  `json:"feeStatus"`
	AgreedFee        float64    `json:"agreedFee"`
	CaseNumber       string     `json:"caseNumber"`
	OrderID          string     `json:"orderId"`
	Address          string     `json:"address"`
	DevelopmentName  string     `json:"developmentName"`
	SiteContactName  string     `json:"siteContactName"`
	SiteContactPhone string     `json:"siteContactPhone"`
	SiteContactEmail string     `json:"siteContactEmail"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
	Notes            string     `json:"notes"`
	CreatedBy        *UserRef   `json:"createdBy"`
	LastUpdatedBy    *UserRef   `json:"lastUpdatedBy"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	// HasReport is only computed for detail views.
	HasReport *bool `json:"hasReport,omitempty"`
}

// JobFilter narrows job listings.
type JobFilter struct {
	PageQuery

	InspectorID string
	FeeStatus   FeeStatus
}
