// Package settlement orchestrates checkout: conflict checks against the
// inventory, the gateway round-trip, and the final Sold transition.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/channel-market.git/internal/cart"
	"github.com/ariefcatur/channel-market.git/internal/channels"
	"github.com/ariefcatur/channel-market.git/internal/ledger"
	"github.com/ariefcatur/channel-market.git/internal/phonepe"
)

// Port ke inventory store. MarkSold harus conditional-atomic: hanya row yang
// belum Sold yang berubah, return jumlah yang berubah.
type Inventory interface {
	FindByID(ctx context.Context, id string) (*channels.Channel, error)
	MarkSold(ctx context.Context, ids []string, buyer, paymentID string) (int64, error)
}

// Carts membekukan isi cart user saat checkout. Snapshot dibangun di server,
// bukan dari request body: isi metadata transaksi menentukan channel mana
// yang nanti ditandai Sold, jadi tidak boleh dikendalikan client.
type Carts interface {
	Snapshot(ctx context.Context, userID string) ([]cart.SnapshotItem, error)
}

type Ledger interface {
	Create(ctx context.Context, tx *ledger.Transaction) error
	FindByID(ctx context.Context, txID string) (*ledger.Transaction, error)
	UpdateStatus(ctx context.Context, txID string, status ledger.Status, gatewayPayload []byte) (*ledger.Transaction, error)
}

type Gateway interface {
	Initiate(ctx context.Context, transactionID string, amount float64, userID, mobileNumber string) (*phonepe.InitiateResponse, error)
	QueryStatus(ctx context.Context, transactionID string) (*phonepe.StatusResult, error)
}

// Publisher: fire-and-forget event publish; implementasi kafka ada di adapter.
type Publisher interface {
	Publish(topic string, key, value []byte)
}

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrEmptyCart     = errors.New("cart is empty")
)

// SoldChannel: item cart yang conflict karena channel-nya sudah terjual.
type SoldChannel struct {
	ChannelID string `json:"channel_id"`
	Name      string `json:"name"`
}

// SoldConflictError dibawa utuh ke caller biar dia bisa benerin cart-nya.
type SoldConflictError struct {
	Items []SoldChannel
}

func (e *SoldConflictError) Error() string {
	return fmt.Sprintf("%d channel(s) in cart already sold", len(e.Items))
}

type User struct {
	ID    string
	Phone string
}

type Service struct {
	Inventory Inventory
	Carts     Carts
	Ledger    Ledger
	Gateway   Gateway
	Events    Publisher
	Log       *zap.Logger
	Service   string

	// NewID injectable untuk test determinisme id
	NewID func() string
}

func NewService(inv Inventory, carts Carts, led Ledger, gw Gateway, events Publisher, log *zap.Logger, serviceName string) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		Inventory: inv,
		Carts:     carts,
		Ledger:    led,
		Gateway:   gw,
		Events:    events,
		Log:       log,
		Service:   serviceName,
		NewID:     ledger.NewTransactionID,
	}
}

type CreateOrderResult struct {
	TransactionID string
	Gateway       *phonepe.InitiateResponse
}

// CreateOrder: validasi amount, bekukan snapshot cart server-side, cek
// konflik sold (all-or-nothing), tulis ledger INITIATED dengan snapshot itu,
// lalu initiate ke gateway. Kalau gateway gagal, entry ledger dibiarkan utuh
// untuk audit.
func (s *Service) CreateOrder(ctx context.Context, user User, amount float64) (*CreateOrderResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	items, err := s.Carts.Snapshot(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot cart for %s: %w", user.ID, err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	// Pre-check optimistik: semua item dicek dulu, satu pun yang sudah Sold
	// membatalkan seluruh checkout. Ini bukan lock; penjaga finalnya tetap
	// MarkSold yang conditional.
	var conflicts []SoldChannel
	for _, it := range items {
		ch, err := s.Inventory.FindByID(ctx, it.ID)
		if errors.Is(err, channels.ErrNotFound) {
			// channel hilang dari listing: bukan konflik, cart nanti di-prune
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup channel %s: %w", it.ID, err)
		}
		if ch.Sold() {
			conflicts = append(conflicts, SoldChannel{ChannelID: ch.ID, Name: ch.Name})
		}
	}
	if len(conflicts) > 0 {
		return nil, &SoldConflictError{Items: conflicts}
	}

	tx := &ledger.Transaction{
		UserID:   user.ID,
		Amount:   amount,
		Currency: "INR",
		Metadata: ledger.NewMetadata(items),
	}

	// Collision di id praktis nggak kejadian; kalau iya, regenerate sekali
	// lalu nyerah sebagai server error.
	for attempt := 0; attempt < 2; attempt++ {
		tx.TransactionID = s.NewID()
		tx.MerchantTransactionID = tx.TransactionID
		err := s.Ledger.Create(ctx, tx)
		if err == nil {
			break
		}
		if errors.Is(err, ledger.ErrDuplicateID) && attempt == 0 {
			s.Log.Warn("transaction_id_collision", zap.String("transaction_id", tx.TransactionID))
			continue
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	merchantUserID := user.ID
	if merchantUserID == "" {
		merchantUserID = uuid.NewString()
	}

	resp, err := s.Gateway.Initiate(ctx, tx.TransactionID, amount, merchantUserID, user.Phone)
	if err != nil {
		// entry ledger sengaja tidak dihapus
		s.Log.Error("gateway_initiate_failed",
			zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		return nil, fmt.Errorf("initiate payment %s: %w", tx.TransactionID, err)
	}

	// anotasi response gateway, status logis tetap INITIATED
	if _, err := s.Ledger.UpdateStatus(ctx, tx.TransactionID, ledger.StatusInitiated, resp.Raw); err != nil {
		// partial: gateway sudah terima request tapi persist lokal gagal.
		// Ini harus kelihatan beda dari validation failure supaya operator
		// bisa rekonsiliasi manual.
		s.Log.Error("gateway_response_persist_failed",
			zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		return nil, fmt.Errorf("persist gateway response for %s: %w", tx.TransactionID, err)
	}

	s.publish(TopicPaymentInitiated, EventPaymentInitiated, tx.TransactionID, PaymentInitiatedPayload{
		TransactionID: tx.TransactionID,
		UserID:        user.ID,
		Amount:        amount,
		Items:         items,
	})

	return &CreateOrderResult{TransactionID: tx.TransactionID, Gateway: resp}, nil
}

type CheckStatusResult struct {
	TransactionID string
	Status        ledger.Status
	SoldMarked    int64
	Details       json.RawMessage
}

// CheckStatus merekonsiliasi satu transaksi terhadap gateway. Aman dipanggil
// berulang & konkuren untuk id yang sama: SUCCESS short-circuit tanpa call
// gateway, dan MarkSold no-op untuk channel yang sudah Sold.
func (s *Service) CheckStatus(ctx context.Context, transactionID string) (*CheckStatusResult, error) {
	tx, err := s.Ledger.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if tx.Status == ledger.StatusSuccess {
		// terminal. MarkSold diulang (idempoten) supaya crash di antara
		// persist status dan update inventory sembuh di poll berikutnya.
		n, err := s.markSnapshotSold(ctx, tx)
		if err != nil {
			return nil, err
		}
		return &CheckStatusResult{
			TransactionID: transactionID,
			Status:        ledger.StatusSuccess,
			SoldMarked:    n,
			Details:       tx.GatewayResponse,
		}, nil
	}

	res, err := s.Gateway.QueryStatus(ctx, transactionID)
	if err != nil {
		// transport habis attempt: jangan sentuh status tersimpan,
		// biar caller retry nanti.
		return nil, fmt.Errorf("query status %s: %w", transactionID, err)
	}

	next := res.Status
	if !ledger.CanTransition(tx.Status, next) {
		// gateway bilang lain tapi status lokal sudah terminal: payload tetap
		// diarsipkan, status tidak digeser.
		s.Log.Warn("status_transition_rejected",
			zap.String("transaction_id", transactionID),
			zap.String("from", string(tx.Status)),
			zap.String("to", string(next)))
		next = tx.Status
	}

	tx, err = s.Ledger.UpdateStatus(ctx, transactionID, next, res.Raw)
	if err != nil {
		return nil, fmt.Errorf("update status %s: %w", transactionID, err)
	}

	out := &CheckStatusResult{
		TransactionID: transactionID,
		Status:        tx.Status,
		Details:       res.Raw,
	}

	switch tx.Status {
	case ledger.StatusSuccess:
		n, err := s.markSnapshotSold(ctx, tx)
		if err != nil {
			return nil, err
		}
		out.SoldMarked = n
		s.publish(TopicPaymentSettled, EventPaymentSettled, transactionID, PaymentSettledPayload{
			TransactionID: transactionID,
			UserID:        tx.UserID,
			Amount:        tx.Amount,
			ChannelIDs:    snapshotChannelIDs(tx),
			SoldMarked:    n,
		})
	case ledger.StatusFailed:
		s.publish(TopicPaymentFailed, EventPaymentFailed, transactionID, PaymentFailedPayload{
			TransactionID: transactionID,
			UserID:        tx.UserID,
			Code:          res.Code,
		})
	}
	return out, nil
}

// markSnapshotSold jual channel dari snapshot metadata, bukan dari cart live
// yang bisa sudah berubah sejak checkout.
func (s *Service) markSnapshotSold(ctx context.Context, tx *ledger.Transaction) (int64, error) {
	ids := snapshotChannelIDs(tx)
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.Inventory.MarkSold(ctx, ids, tx.UserID, tx.TransactionID)
	if err != nil {
		return 0, fmt.Errorf("mark sold for %s: %w", tx.TransactionID, err)
	}
	return n, nil
}

func snapshotChannelIDs(tx *ledger.Transaction) []string {
	seen := make(map[string]bool, len(tx.Metadata.CartItems))
	ids := make([]string, 0, len(tx.Metadata.CartItems))
	for _, it := range tx.Metadata.CartItems {
		if it.ID == "" || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		ids = append(ids, it.ID)
	}
	return ids
}

func (s *Service) publish(topic, eventType, transactionID string, payload any) {
	if s.Events == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.Log.Error("event_payload_marshal_failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Service,
		CorrelationID: transactionID,
		Payload:       body,
	}
	value, err := json.Marshal(env)
	if err != nil {
		s.Log.Error("event_marshal_failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	s.Events.Publish(topic, PartitionKey(transactionID), value)
}
