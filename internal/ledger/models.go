package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ariefcatur/channel-market.git/internal/cart"
)

type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusPending   Status = "PENDING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
	StatusCancelled Status = "CANCELLED"
)

var validStatuses = map[Status]bool{
	StatusInitiated: true,
	StatusPending:   true,
	StatusSuccess:   true,
	StatusFailed:    true,
	StatusRefunded:  true,
	StatusCancelled: true,
}

func ValidStatus(s Status) bool { return validStatuses[s] }

// Transisi monoton: SUCCESS cuma bisa ke REFUNDED, FAILED/REFUNDED/CANCELLED
// terminal. Re-apply status yang sama selalu boleh (idempotent update).
var validNext = map[Status]map[Status]bool{
	StatusInitiated: {StatusPending: true, StatusSuccess: true, StatusFailed: true, StatusCancelled: true},
	StatusPending:   {StatusSuccess: true, StatusFailed: true, StatusCancelled: true},
	StatusSuccess:   {StatusRefunded: true},
	StatusFailed:    {},
	StatusRefunded:  {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return validNext[from][to]
}

var (
	ErrNotFound      = errors.New("transaction not found")
	ErrDuplicateID   = errors.New("duplicate transaction id")
	ErrInvalidStatus = errors.New("invalid transaction status")
)

// Metadata dibekukan saat inisiasi checkout. CartItems di sini adalah
// satu-satunya acuan channel mana yang ditandai Sold waktu settle, bukan
// isi cart live yang bisa saja sudah berubah.
type Metadata struct {
	CartItems   []cart.SnapshotItem `json:"cartItems"`
	InitiatedAt time.Time           `json:"initiatedAt"`
	ValidatedAt time.Time           `json:"validatedAt"`
}

func NewMetadata(items []cart.SnapshotItem) Metadata {
	now := time.Now().UTC()
	return Metadata{CartItems: items, InitiatedAt: now, ValidatedAt: now}
}

type Transaction struct {
	TransactionID         string
	MerchantTransactionID string
	UserID                string
	Amount                float64
	Currency              string
	Status                Status
	GatewayResponse       json.RawMessage // disimpan verbatim untuk audit
	Metadata              Metadata
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewTransactionID: MT + timestamp ms + 6 char random base36.
// Komponen waktu + entropy bikin collision praktis mustahil; kalau tetap
// kejadian, repo balikin ErrDuplicateID dan caller regenerate.
func NewTransactionID() string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("MT%d%s", time.Now().UnixMilli(), suffix)
}
