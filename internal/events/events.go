package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/ETAnderson/productimporter/internal/domain"
)

type Event struct {
	ID         string           `json:"id"`
	Type       domain.EventType `json:"event_type"`
	OccurredAt time.Time        `json:"timestamp"`
	Data       map[string]any   `json:"data"`
}

func New(eventType domain.EventType, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// ImportCompleted describes a session that reached a terminal status.
func ImportCompleted(s domain.ImportSession) Event {
	return New(domain.EventBulkImportCompleted, map[string]any{
		"session_id":     s.ID,
		"filename":       s.Filename,
		"total":          s.TotalRows,
		"processed":      s.ProcessedRows,
		"success_count":  s.SuccessCount,
		"error_count":    s.ErrorCount,
		"status":         string(s.Status),
		"failure_reason": s.FailureReason,
	})
}

// RecordChanged is emitted for single product create, update and delete.
func RecordChanged(eventType domain.EventType, p domain.Product) Event {
	return New(eventType, map[string]any{
		"id":          p.ID,
		"sku":         p.SKU,
		"name":        p.Name,
		"price":       p.Price.StringFixed(domain.PriceScale),
		"description": p.Description,
		"active":      p.Active,
		"created_at":  p.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":  p.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func BulkDeleteCompleted(deleted int, scope string) Event {
	return New(domain.EventBulkDeleteCompleted, map[string]any{
		"deleted_count": deleted,
		"scope":         scope,
	})
}
