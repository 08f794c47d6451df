package store

import (
	"time"

	"gorm.io/datatypes"
)

// Pin status values. Failed pins stay failed until reset explicitly.
const (
	PinStatusPending   = "pending"
	PinStatusPublished = "published"
	PinStatusShared    = "shared"
	PinStatusFailed    = "failed"
)

// Pin is one piece of generated content as it moves from generation through
// WordPress publication to a Pinterest share.
type Pin struct {
	ID          uint                        `gorm:"primaryKey" json:"id"`
	PinID       *string                     `gorm:"type:varchar(64);uniqueIndex" json:"pin_id,omitempty"`
	Title       string                      `gorm:"type:varchar(255);not null" json:"title"`
	Description string                      `gorm:"type:text" json:"description"`
	Content     string                      `gorm:"type:text" json:"content,omitempty"`
	URL         string                      `gorm:"type:varchar(500)" json:"url"`
	ImageURL    string                      `gorm:"type:varchar(500)" json:"image_url"`
	Images      datatypes.JSONSlice[string] `json:"images"`
	ContentType string                      `gorm:"type:varchar(50);default:'article'" json:"content_type"`
	Keywords    string                      `gorm:"type:varchar(500)" json:"keywords"`
	Status      string                      `gorm:"type:varchar(20);index;not null" json:"status"`
	Site        string                      `gorm:"type:varchar(255);index" json:"site"`
	Category    string                      `gorm:"type:varchar(100)" json:"category"`
	PinURL      string                      `gorm:"type:varchar(500)" json:"pin_url,omitempty"`
	Engagement  datatypes.JSON              `json:"engagement,omitempty"`
	IsPublished bool                        `gorm:"default:false" json:"is_published"`
	CreatedAt   time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// TaskRun is the audit row of one task execution sequence.
type TaskRun struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	TaskName       string    `gorm:"type:varchar(100);index;not null" json:"task_name"`
	Success        bool      `json:"success"`
	Attempts       int       `json:"attempts"`
	StartedAt      time.Time `gorm:"index" json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	RuntimeSeconds float64   `json:"runtime_seconds"`
	Error          string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PinFilter narrows ListPins. Zero fields do not filter.
type PinFilter struct {
	Status string
	Site   string
	Limit  int
	Offset int
}

func validPinStatus(s string) bool {
	switch s {
	case PinStatusPending, PinStatusPublished, PinStatusShared, PinStatusFailed:
		return true
	}
	return false
}
