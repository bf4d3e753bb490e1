// Package headers defines HTTP header constants used by the mixlab SDK.
package headers

const (
	// RequestID correlates one logical call across its original dispatch and replay.
	RequestID = "X-Request-Id"

	// Authorization carries the bearer access token.
	Authorization = "Authorization"

	// Traceparent propagates W3C trace context.
	Traceparent = "Traceparent"
)
