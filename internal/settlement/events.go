package settlement

import (
	"encoding/json"
	"time"

	"github.com/ariefcatur/channel-market.git/internal/cart"
)

const (
	TopicPaymentInitiated = "payments.initiated"
	TopicPaymentSettled   = "payments.settled"
	TopicPaymentFailed    = "payments.failed"
)

const (
	EventPaymentInitiated = "PaymentInitiated"
	EventPaymentSettled   = "PaymentSettled"
	EventPaymentFailed    = "PaymentFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // transaction_id
	Payload       json.RawMessage `json:"payload"`
}

type PaymentInitiatedPayload struct {
	TransactionID string              `json:"transaction_id"`
	UserID        string              `json:"user_id"`
	Amount        float64             `json:"amount"`
	Items         []cart.SnapshotItem `json:"items"`
}

type PaymentSettledPayload struct {
	TransactionID string   `json:"transaction_id"`
	UserID        string   `json:"user_id"`
	Amount        float64  `json:"amount"`
	ChannelIDs    []string `json:"channel_ids"`
	SoldMarked    int64    `json:"sold_marked"`
}

type PaymentFailedPayload struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Code          string `json:"code"`
}

// Partition key = transaction_id, supaya event satu transaksi tetap berurutan.
func PartitionKey(transactionID string) []byte { return []byte(transactionID) }
