package messages

import "time"

const (
	OutcomeDelivered      = "delivered"
	OutcomeSimulated      = "simulated"
	OutcomeUnlinked       = "unlinked"
	OutcomeRetryScheduled = "retry_scheduled"
	OutcomeRetrySucceeded = "retry_succeeded"
	OutcomeRetryDropped   = "retry_dropped"
	OutcomeFailed         = "failed"
)

// AlertOutcome публикуется в Kafka после каждого решения о доставке.
type AlertOutcome struct {
	UserID        string    `json:"user_id"`
	VIN           string    `json:"vin"`
	Outcome       string    `json:"outcome"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Error         *string   `json:"error,omitempty"`
	At            time.Time `json:"at"`
}
