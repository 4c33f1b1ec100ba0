package server

import (
	"time"

	"github.com/firefly-engineering/browserpool/internal/instance"
)

// AllocateRequest is the body of POST /instance/allocate.
type AllocateRequest struct {
	AgentID        string `json:"agent_id"`
	URL            string `json:"url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	// Timeout is accepted as a shorter spelling of TimeoutSeconds.
	Timeout int    `json:"timeout,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// AgentRequest is the body of release and heartbeat calls.
type AgentRequest struct {
	AgentID string `json:"agent_id,omitempty"`
}

// ResultResponse acknowledges a release or heartbeat.
type ResultResponse struct {
	Status     string `json:"status"`
	InstanceID string `json:"instance_id"`
}

// ListResponse is the body of GET /instances.
type ListResponse struct {
	Instances []instance.Slot `json:"instances"`
}

// StatusUpdate is one line of the GET /stream feed.
type StatusUpdate struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Instances []instance.Slot `json:"instances"`
}

// StatusUpdateType tags every StatusUpdate.
const StatusUpdateType = "status_update"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Capacity  int       `json:"capacity"`
}

// ErrorResponse wraps every non-2xx reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the error kind and a human readable message.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
