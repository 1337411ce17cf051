package clientreport

// DiscardReason represents why an item was discarded.
type DiscardReason string

const (
	// ReasonBeforeSend indicates the item was dropped by a before-send callback.
	ReasonBeforeSend DiscardReason = "before_send"

	// ReasonEventProcessor indicates the item was dropped by an event processor.
	ReasonEventProcessor DiscardReason = "event_processor"

	// ReasonSampleRate indicates the item was dropped due to sampling.
	ReasonSampleRate DiscardReason = "sample_rate"

	// ReasonNetworkError indicates the request executor failed.
	ReasonNetworkError DiscardReason = "network_error"

	// ReasonRateLimitBackoff indicates the item was dropped due to rate limiting.
	ReasonRateLimitBackoff DiscardReason = "ratelimit_backoff"

	// ReasonQueueOverflow indicates the dispatch buffer was full.
	ReasonQueueOverflow DiscardReason = "queue_overflow"

	// ReasonBufferOverflow indicates that an internal buffer was full.
	ReasonBufferOverflow DiscardReason = "buffer_overflow"

	// ReasonSendError indicates the server refused the payload (413).
	ReasonSendError DiscardReason = "send_error"

	// ReasonInternalError indicates an internal SDK error.
	ReasonInternalError DiscardReason = "internal_sdk_error"
)
