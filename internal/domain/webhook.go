package domain

import (
	"strings"
	"time"
)

type EventType string

const (
	EventRecordCreated       EventType = "record_created"
	EventRecordUpdated       EventType = "record_updated"
	EventRecordDeleted       EventType = "record_deleted"
	EventBulkImportCompleted EventType = "bulk_import_completed"
	EventBulkDeleteCompleted EventType = "bulk_delete_completed"
)

// EventTypes lists every event a subscription may bind to.
func EventTypes() []EventType {
	return []EventType{
		EventRecordCreated,
		EventRecordUpdated,
		EventRecordDeleted,
		EventBulkImportCompleted,
		EventBulkDeleteCompleted,
	}
}

func ParseEventType(v string) (EventType, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, et := range EventTypes() {
		if string(et) == v {
			return et, true
		}
	}
	return "", false
}

type Subscription struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name" validate:"required,max=255"`
	URL       string    `json:"url" db:"url" validate:"required,webhook_url"`
	EventType EventType `json:"event_type" db:"event_type" validate:"event_type"`
	Active    bool      `json:"active" db:"active"`
	Secret    string    `json:"-" db:"secret"`

	LastStatusCode *int       `json:"last_status_code,omitempty" db:"last_status_code"`
	LastLatencyMs  *int64     `json:"last_latency_ms,omitempty" db:"last_latency_ms"`
	LastSuccess    *bool      `json:"last_success,omitempty" db:"last_success"`
	LastError      *string    `json:"last_error,omitempty" db:"last_error"`
	LastTestedAt   *time.Time `json:"last_tested_at,omitempty" db:"last_tested_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasSecret reports whether deliveries to this subscription are signed.
func (s Subscription) HasSecret() bool {
	return strings.TrimSpace(s.Secret) != ""
}

// TestOutcome is what the explicit test operation writes back onto a subscription.
type TestOutcome struct {
	StatusCode int
	Latency    time.Duration
	Success    bool
	Error      string
	TestedAt   time.Time
}
