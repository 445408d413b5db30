package types

import "time"

// ImageLabel is a controlled-vocabulary tag describing an image's subject.
type ImageLabel struct {
	// ID is the unique identifier of the label.
	ID string `json:"id" db:"id"`

	// Label is the display text, unique ignoring case.
	Label string `json:"label" db:"label"`

	// CreatedBy and LastUpdatedBy reference the users that wrote the label.
	CreatedBy     string `json:"createdBy" db:"created_by"`
	LastUpdatedBy string `json:"lastUpdatedBy" db:"last_updated_by"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ImageLabelView is the read model of a label with its user references resolved.
type ImageLabelView struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	CreatedBy     *UserRef  `json:"createdBy"`
	LastUpdatedBy *UserRef  `json:"lastUpdatedBy"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
