package domain

import (
	"encoding/json"
	"time"
)

// Event is a telemetry event. It is serialized as JSON onto Kafka and read back by the worker.
type Event struct {
	ID string `json:"id"`
	// Username is the resolved name, empty for anonymous or unauthenticated calls.
	Username  string          `json:"username,omitempty"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

const (
	EventTypeGRPCRequest      = "grpc_request"
	EventTypeIdentityResolved = "identity_resolved"
)
