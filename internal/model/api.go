// Package model defines the HTTP API surface of xrayd: request and
// response DTOs, the response envelope, and input validation limits.
package model

import (
	"fmt"
	"time"
)

// Field length limits for caller-controlled execution metadata.
// These keep a single oversized field from filling storage TEXT columns
// with caller-controlled garbage.
const (
	MaxNameLen  = 200
	MaxNotesLen = 16 * 1024 // 16 KB
	MaxTagLen   = 100
	MaxTagCount = 32
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Key string `json:"key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UpdateMetadataRequest is the request body for PATCH /api/executions/{id}.
// Nil fields are left unchanged; a non-nil empty slice clears the tags.
type UpdateMetadataRequest struct {
	Tags  *[]string `json:"tags,omitempty"`
	Notes *string   `json:"notes,omitempty"`
}

// Validate checks per-field limits on caller-controlled metadata.
func (r UpdateMetadataRequest) Validate() error {
	if r.Notes != nil && len(*r.Notes) > MaxNotesLen {
		return fmt.Errorf("notes exceeds maximum length of %d bytes", MaxNotesLen)
	}
	if r.Tags != nil {
		if len(*r.Tags) > MaxTagCount {
			return fmt.Errorf("tags exceeds maximum count of %d", MaxTagCount)
		}
		for i, tag := range *r.Tags {
			if tag == "" {
				return fmt.Errorf("tags[%d] must not be empty", i)
			}
			if len(tag) > MaxTagLen {
				return fmt.Errorf("tags[%d] exceeds maximum length of %d characters", i, MaxTagLen)
			}
		}
	}
	return nil
}

// DeleteExecutionsRequest is the request body for DELETE /api/executions.
type DeleteExecutionsRequest struct {
	IDs []string `json:"ids"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Uptime int64  `json:"uptime_seconds"`
}

// DemoRunResponse is the response for POST /api/demo/run.
type DemoRunResponse struct {
	ExecutionID string `json:"execution_id"`
	Steps       int    `json:"steps"`
	SelectedID  string `json:"selected_id,omitempty"`
}
