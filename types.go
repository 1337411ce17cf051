package sentry_transport

import (
	"time"
)

// SendRequest carries a serialized envelope from PHP
type SendRequest struct {
	Envelope []byte `json:"envelope"`

	// Wait blocks the call until the send settles
	Wait bool `json:"wait,omitempty"`
}

// SendResult represents the result of a send operation
type SendResult struct {
	Success    bool   `json:"success"`
	EventID    string `json:"event_id"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`

	// Items dropped before sending because their category is rate limited
	RateLimited []string `json:"rate_limited,omitempty"`
}

// FlushResult reports whether in-flight sends settled in time
type FlushResult struct {
	Flushed bool `json:"flushed"`
	Pending int  `json:"pending"`
}

// RateLimitInfo represents rate limiting information for a category
type RateLimitInfo struct {
	Category      string    `json:"category"`
	DisabledUntil time.Time `json:"disabled_until"`
}

// TransportMetrics represents plugin metrics
type TransportMetrics struct {
	EnvelopesSent   uint64 `json:"envelopes_sent"`
	EnvelopesFailed uint64 `json:"envelopes_failed"`
	Pending         int    `json:"pending"`
	Capacity        int    `json:"capacity"`

	// Discarded items not yet shipped in a client report
	PendingOutcomes int `json:"pending_outcomes"`
}
