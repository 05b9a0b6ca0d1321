// Package messaging provides outbound text-message delivery for Amparo.
//
// It is used to escalate failure alerts to a caregiver's phone when the
// real-time channel alone is not enough. Delivery here is best-effort and
// never gates the notification flags.
package messaging

import "context"

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// SendMessage sends a text message to a recipient phone number.
	SendMessage(ctx context.Context, to string, body string) error
}
