package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageLogEntry is an append-only audit record of one gateway invocation.
// RequestParams has already been run through the redaction filter before the
// entry is constructed; entries are never mutated after insertion.
type UsageLogEntry struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	CustomerID    uuid.UUID `db:"customer_id"    json:"customer_id"`
	InstanceID    string    `db:"instance_id"    json:"instance_id"`
	ToolName      string    `db:"tool_name"      json:"tool_name"`
	Category      string    `db:"category"       json:"category"`
	Success       bool      `db:"success"        json:"success"`
	DurationMs    int64     `db:"duration_ms"    json:"duration_ms"`
	ErrorMessage  *string   `db:"error_message"  json:"error_message,omitempty"`
	RequestParams []byte    `db:"request_params" json:"request_params,omitempty"`
	Origin        string    `db:"origin"         json:"origin"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
}

// UsageAggregate is one row of the trailing-window dashboard view, grouped
// by tool and category.
type UsageAggregate struct {
	ToolName      string  `db:"tool_name"       json:"tool_name"`
	Category      string  `db:"category"        json:"category"`
	Calls         int64   `db:"calls"           json:"calls"`
	Failures      int64   `db:"failures"        json:"failures"`
	AvgDurationMs float64 `db:"avg_duration_ms" json:"avg_duration_ms"`
}
