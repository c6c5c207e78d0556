package domain

import (
	"math"
	"time"
)

type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusParsing    ImportStatus = "parsing"
	ImportStatusValidating ImportStatus = "validating"
	ImportStatusUpserting  ImportStatus = "upserting"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
)

// phase groups statuses for the forward-only rule. Validating and upserting
// share a phase because they alternate once per batch.
func (s ImportStatus) phase() int {
	switch s {
	case ImportStatusPending:
		return 0
	case ImportStatusParsing:
		return 1
	case ImportStatusValidating, ImportStatusUpserting:
		return 2
	case ImportStatusCompleted, ImportStatusFailed:
		return 3
	default:
		return -1
	}
}

func (s ImportStatus) IsTerminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed
}

func (s ImportStatus) Valid() bool {
	return s.phase() >= 0
}

// CanTransition reports whether a session may move from s to next.
// Failed is reachable from any non-terminal status; otherwise a transition
// never moves to an earlier phase.
func (s ImportStatus) CanTransition(next ImportStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	if next == ImportStatusFailed {
		return true
	}
	if next == ImportStatusCompleted {
		return s.phase() >= ImportStatusParsing.phase()
	}
	return next.phase() >= s.phase()
}

type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type ImportSession struct {
	ID       string `json:"session_id"`
	Filename string `json:"filename"`

	TotalRows     int `json:"total_rows"`
	ProcessedRows int `json:"processed_rows"`
	SuccessCount  int `json:"success_count"`
	ErrorCount    int `json:"error_count"`

	Status ImportStatus `json:"status"`

	Errors        []RowError `json:"error_log"`
	ErrorsDropped int        `json:"error_log_dropped"`
	FailureReason string     `json:"failure_reason,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ProgressPercentage is processed/total as a percentage with two decimals.
func (s ImportSession) ProgressPercentage() float64 {
	if s.TotalRows <= 0 {
		return 0
	}
	pct := float64(s.ProcessedRows) / float64(s.TotalRows) * 100
	return math.Round(pct*100) / 100
}

// Snapshot returns a copy that shares no memory with s.
func (s ImportSession) Snapshot() ImportSession {
	cp := s
	if s.Errors != nil {
		cp.Errors = make([]RowError, len(s.Errors))
		copy(cp.Errors, s.Errors)
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}
