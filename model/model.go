package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job represents one tool invocation and its full lifecycle record.
type Job struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	OwnerID      uuid.UUID       `db:"owner_id" json:"ownerId"`
	Tool         string          `db:"tool" json:"tool"`
	Status       JobStatus       `db:"status" json:"status"`
	Input        json.RawMessage `db:"input" json:"input"`
	Output       json.RawMessage `db:"output" json:"output,omitempty"`
	Progress     int             `db:"progress" json:"progress"`
	ErrorMessage *string         `db:"error_message" json:"errorMessage,omitempty"`
	OutputHash   string          `db:"output_hash" json:"outputHash,omitempty"`
	Degraded     bool            `db:"degraded" json:"degraded"`
	CreationTime *time.Time      `db:"creation_time" json:"creationTime"`
	StartTime    *time.Time      `db:"start_time" json:"startTime,omitempty"`
	EndTime      *time.Time      `db:"end_time" json:"endTime,omitempty"`
}

// JobRequest is the incoming API payload before DB persistence.
type JobRequest struct {
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input"`
	Priority int            `json:"priority,omitempty"`
}

// RateSpec is a sliding-window budget: at most Max requests per WindowMs.
type RateSpec struct {
	Max      int   `json:"max"`
	WindowMs int64 `json:"windowMs"`
}

// ToolMetadata is immutable per tool, loaded at registry initialization.
type ToolMetadata struct {
	Name             string        `json:"name"`
	Category         string        `json:"category"`
	Image            string        `json:"image"`
	BaseCommand      []string      `json:"baseCommand"`
	Network          string        `json:"network"`
	EstimatedRuntime time.Duration `json:"estimatedRuntime"`
	RateLimit        RateSpec      `json:"rateLimit"`
}

// ResultMeta describes how and when a result was produced. Degraded marks
// output recovered through the text fallback rather than structured JSON.
type ResultMeta struct {
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	Timestamp       time.Time `json:"timestamp"`
	Degraded        bool      `json:"degraded"`
}

// ParsedResult is produced once per successful execution, immutable after.
type ParsedResult struct {
	Raw    string     `json:"raw"`
	Parsed any        `json:"parsed"`
	Meta   ResultMeta `json:"meta"`
}

type WebhookDeliveryStatus string

const (
	DeliveryPending  WebhookDeliveryStatus = "pending"
	DeliverySuccess  WebhookDeliveryStatus = "success"
	DeliveryFailed   WebhookDeliveryStatus = "failed"
	DeliveryRetrying WebhookDeliveryStatus = "retrying"
)

// Webhook is a user-registered HTTP endpoint subscribed to lifecycle events.
type Webhook struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	OwnerID       uuid.UUID  `db:"owner_id" json:"ownerId"`
	URL           string     `db:"url" json:"url"`
	Secret        string     `db:"secret" json:"-"`
	Events        []string   `db:"events" json:"events"`
	Active        bool       `db:"active" json:"active"`
	DeliveryCount int64      `db:"delivery_count" json:"deliveryCount"`
	FailureCount  int64      `db:"failure_count" json:"failureCount"`
	LastError     *string    `db:"last_error" json:"lastError,omitempty"`
	CreatedAt     *time.Time `db:"created_at" json:"createdAt"`
}

// SubscribesTo reports whether the webhook's event set contains event.
func (w *Webhook) SubscribesTo(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookDelivery is one attempt-cycle of posting an event payload to a
// webhook. Attempts only ever increases; NextRetryAt is nil once terminal.
type WebhookDelivery struct {
	ID           uuid.UUID             `db:"id" json:"id"`
	WebhookID    uuid.UUID             `db:"webhook_id" json:"webhookId"`
	Event        string                `db:"event" json:"event"`
	Payload      json.RawMessage       `db:"payload" json:"payload"`
	Status       WebhookDeliveryStatus `db:"status" json:"status"`
	HTTPStatus   *int                  `db:"http_status" json:"httpStatus,omitempty"`
	Attempts     int                   `db:"attempts" json:"attempts"`
	ResponseBody *string               `db:"response_body" json:"responseBody,omitempty"`
	NextRetryAt  *time.Time            `db:"next_retry_at" json:"nextRetryAt,omitempty"`
	DeliveredAt  *time.Time            `db:"delivered_at" json:"deliveredAt,omitempty"`
	CreatedAt    *time.Time            `db:"created_at" json:"createdAt"`
}
