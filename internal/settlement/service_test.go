package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/channel-market.git/internal/cart"
	"github.com/ariefcatur/channel-market.git/internal/channels"
	"github.com/ariefcatur/channel-market.git/internal/ledger"
	"github.com/ariefcatur/channel-market.git/internal/phonepe"
)

// ---- fakes ----

type fakeInventory struct {
	mu    sync.Mutex
	chans map[string]*channels.Channel
}

func newFakeInventory(chs ...*channels.Channel) *fakeInventory {
	m := make(map[string]*channels.Channel, len(chs))
	for _, c := range chs {
		m[c.ID] = c
	}
	return &fakeInventory{chans: m}
}

func (f *fakeInventory) FindByID(_ context.Context, id string) (*channels.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chans[id]
	if !ok {
		return nil, channels.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// conditional update seperti di SQL: cuma row yang belum Sold yang berubah
func (f *fakeInventory) MarkSold(_ context.Context, ids []string, buyer, paymentID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		c, ok := f.chans[id]
		if !ok || c.Status == channels.StatusSold {
			continue
		}
		c.Status = channels.StatusSold
		c.Buyer = buyer
		c.PaymentID = paymentID
		n++
	}
	return n, nil
}

func (f *fakeInventory) soldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.chans {
		if c.Status == channels.StatusSold {
			n++
		}
	}
	return n
}

type fakeCarts struct {
	mu    sync.Mutex
	items map[string][]cart.SnapshotItem
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{items: make(map[string][]cart.SnapshotItem)}
}

func (f *fakeCarts) set(userID string, items ...cart.SnapshotItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[userID] = items
}

func (f *fakeCarts) Snapshot(_ context.Context, userID string) ([]cart.SnapshotItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]cart.SnapshotItem, len(f.items[userID]))
	copy(out, f.items[userID])
	return out, nil
}

type fakeLedger struct {
	mu  sync.Mutex
	txs map[string]*ledger.Transaction
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{txs: make(map[string]*ledger.Transaction)}
}

func (f *fakeLedger) Create(_ context.Context, tx *ledger.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.txs[tx.TransactionID]; ok {
		return ledger.ErrDuplicateID
	}
	tx.Status = ledger.StatusInitiated
	tx.CreatedAt = time.Now().UTC()
	tx.UpdatedAt = tx.CreatedAt
	cp := *tx
	f.txs[tx.TransactionID] = &cp
	return nil
}

func (f *fakeLedger) FindByID(_ context.Context, txID string) (*ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[txID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (f *fakeLedger) UpdateStatus(_ context.Context, txID string, status ledger.Status, payload []byte) (*ledger.Transaction, error) {
	if !ledger.ValidStatus(status) {
		return nil, ledger.ErrInvalidStatus
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[txID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	tx.Status = status
	if payload != nil {
		tx.GatewayResponse = payload
	}
	tx.UpdatedAt = time.Now().UTC()
	cp := *tx
	return &cp, nil
}

type fakeGateway struct {
	mu           sync.Mutex
	initiateErr  error
	statusResult *phonepe.StatusResult
	statusErr    error
	initiated    []string
	statusCalls  int
}

func (f *fakeGateway) Initiate(_ context.Context, txID string, amount float64, userID, mobile string) (*phonepe.InitiateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiated = append(f.initiated, txID)
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	raw := []byte(fmt.Sprintf(`{"success":true,"code":"PAYMENT_INITIATED","merchantTransactionId":%q}`, txID))
	return &phonepe.InitiateResponse{Success: true, Code: "PAYMENT_INITIATED", Raw: raw}, nil
}

func (f *fakeGateway) QueryStatus(_ context.Context, txID string) (*phonepe.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statusResult, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePublisher) Publish(topic string, key, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
}

func (f *fakePublisher) published(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func available(id, name string) *channels.Channel {
	return &channels.Channel{ID: id, Name: name, Status: channels.StatusAvailable, Price: 100}
}

func sold(id, name string) *channels.Channel {
	return &channels.Channel{ID: id, Name: name, Status: channels.StatusSold, Price: 100}
}

func newTestService(inv *fakeInventory, carts *fakeCarts, led *fakeLedger, gw *fakeGateway) (*Service, *fakePublisher) {
	pub := &fakePublisher{}
	return NewService(inv, carts, led, gw, pub, nil, "test-api"), pub
}

func successStatus() *phonepe.StatusResult {
	return &phonepe.StatusResult{
		Code:   "PAYMENT_SUCCESS",
		Status: ledger.StatusSuccess,
		Raw:    []byte(`{"success":true,"code":"PAYMENT_SUCCESS"}`),
	}
}

// ---- CreateOrder ----

func TestCreateOrder_InvalidAmount(t *testing.T) {
	inv := newFakeInventory(available("c1", "Gadget Reviews"))
	carts := newFakeCarts()
	carts.set("u1", cart.SnapshotItem{ID: "c1", Quantity: 1})
	led := newFakeLedger()
	gw := &fakeGateway{}
	svc, _ := newTestService(inv, carts, led, gw)

	for _, amount := range []float64{0, -10} {
		_, err := svc.CreateOrder(context.Background(), User{ID: "u1"}, amount)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %v: want ErrInvalidAmount, got %v", amount, err)
		}
	}
	if len(led.txs) != 0 {
		t.Error("no transaction may be created on invalid amount")
	}
	if len(gw.initiated) != 0 {
		t.Error("gateway must not be called on invalid amount")
	}
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	inv := newFakeInventory()
	carts := newFakeCarts()
	led := newFakeLedger()
	gw := &fakeGateway{}
	svc, _ := newTestService(inv, carts, led, gw)

	_, err := svc.CreateOrder(context.Background(), User{ID: "u1"}, 100)
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("want ErrEmptyCart, got %v", err)
	}
	if len(led.txs) != 0 || len(gw.initiated) != 0 {
		t.Error("empty cart must not create a transaction or call the gateway")
	}
}

// Check all, commit none: satu item sold membatalkan seluruh checkout.
func TestCreateOrder_SoldConflictAbortsAll(t *testing.T) {
	inv := newFakeInventory(
		available("c1", "Gadget Reviews"),
		sold("c2", "Cooking Corner"),
		sold("c3", "Daily Vlogs"),
	)
	carts := newFakeCarts()
	carts.set("u1",
		cart.SnapshotItem{ID: "c1", Quantity: 1},
		cart.SnapshotItem{ID: "c2", Quantity: 1},
		cart.SnapshotItem{ID: "c3", Quantity: 1},
	)
	led := newFakeLedger()
	gw := &fakeGateway{}
	svc, _ := newTestService(inv, carts, led, gw)

	_, err := svc.CreateOrder(context.Background(), User{ID: "u1"}, 300)

	var conflict *SoldConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("want SoldConflictError, got %v", err)
	}
	if len(conflict.Items) != 2 {
		t.Fatalf("conflict list = %+v, want both sold channels", conflict.Items)
	}
	ids := []string{conflict.Items[0].ChannelID, conflict.Items[1].ChannelID}
	if !(contains(ids, "c2") && contains(ids, "c3")) {
		t.Errorf("conflict ids = %v", ids)
	}
	if len(led.txs) != 0 {
		t.Error("no transaction may be created when any item is sold")
	}
	if len(gw.initiated) != 0 {
		t.Error("gateway must not be called when any item is sold")
	}
}

func TestCreateOrder_MissingChannelIsNotAConflict(t *testing.T) {
	inv := newFakeInventory(available("c1", "Gadget Reviews"))
	carts := newFakeCarts()
	carts.set("u1",
		cart.SnapshotItem{ID: "c1", Quantity: 1},
		cart.SnapshotItem{ID: "gone", Quantity: 1},
	)
	led := newFakeLedger()
	gw := &fakeGateway{}
	svc, _ := newTestService(inv, carts, led, gw)

	res, err := svc.CreateOrder(context.Background(), User{ID: "u1"}, 100)
	if err != nil {
		t.Fatalf("checkout should proceed past delisted channels: %v", err)
	}
	if res.TransactionID == "" {
		t.Fatal("missing transaction id")
	}
}

// Snapshot yang dibekukan ke metadata diambil dari cart user di server.
func TestCreateOrder_FreezesServerSideSnapshot(t *testing.T) {
	inv := newFakeInventory(available("c1", "Gadget Reviews"), available("c2", "Cooking Corner"))
	carts := newFakeCarts()
	carts.set("u1",
		cart.SnapshotItem{ID: "c1", Name: "Gadget Reviews", Price: 199, Quantity: 1},
		cart.SnapshotItem{ID: "c2", Name: "Cooking Corner", Price: 300, Quantity: 1},
	)
	led := newFakeLedger()
	gw := &fakeGateway{}
	svc, _ := newTestService(inv, carts, led, gw)

	res, err := svc.CreateOrder(context.Background(), User{ID: "u1", Phone: "9876500000"}, 499)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !strings.HasPrefix(res.TransactionID, "MT") {
		t.Errorf("transaction id %q missing MT prefix", res.TransactionID)
	}

	tx, err := led.FindByID(context.Background(), res.TransactionID)
	if err != nil {
		t.Fatalf("ledger entry missing: %v", err)
	}
	if tx.Status != ledger.StatusInitiated {
		t.Errorf("status = %s, want INITIATED", tx.Status)
	}
	if len(tx.Metadata.CartItems) != 2 || tx.Metadata.CartItems[0].ID != "c1" {
		t.Errorf("frozen snapshot = %+v", tx.Metadata.CartItems)
	}
	if tx.Metadata.InitiatedAt.IsZero() {
		t.Error("initiated timestamp not set")
	}
	if len(tx.GatewayResponse) == 0 {
		t.Error("gateway response must be annotated on the ledger entry")
	}
	if len(gw.initiated) != 1 || gw.initiated[0] != res.TransactionID {
		t.Errorf("gateway initiated = %v", gw.initiated)
	}
}

func TestCreateOrder_GatewayFailureKeepsLedgerEntry(t *testing.T) {
	inv := newFakeInventory(available("c1", "Gadget Reviews"))
	carts := newFakeCarts()
	carts.set("u1", cart.SnapshotItem{ID: "c1", Quantity: 1})
	led := newFakeLedger()
	gw := &fakeGateway{initiateErr: fmt.Errorf("%w: connect timeout", phonepe.ErrTransport)}
	svc, _ := newTestService(inv, carts, led, gw)

	_, err := svc.CreateOrder(context.Background(), User{ID: "u1"}, 100)
	if !errors.Is(err, phonepe.ErrTransport) {
		t.Fatalf("want transport error surfaced, got %v", err)
	}
	// entry audit tidak boleh dihapus
	if len(led.txs) != 1 {
		t.Fatalf("ledger entries = %d, want 1 (kept for audit)", len(led.txs))
	}
	for _, tx := range led.txs {
		if tx.Status != ledger.StatusInitiated {
			t.Errorf("status = %s, want INITIATED", tx.Status)
		}
	}
}

func TestCreateOrder_DuplicateIDRegeneratedOnce(t *testing.T) {
	inv := newFakeInventory(available("c1", "Gadget Reviews"))
	carts := newFakeCarts()
	carts.set("u1", cart.SnapshotItem{ID: "c1", Quantity: 1})
	led := newFakeLedger()
	gw := &fakeGateway{}
	svc, _ := newTestService(inv, carts, led, gw)

	// seed id yang bakal tabrakan
	led.txs["MT-fixed"] = &ledger.Transaction{TransactionID: "MT-fixed", Status: ledger.StatusInitiated}

	ids := []string{"MT-fixed", "MT-fresh"}
	svc.NewID = func() string {
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id
	}

	res, err := svc.CreateOrder(context.Background(), User{ID: "u1"}, 100)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if res.TransactionID != "MT-fresh" {
		t.Errorf("transaction id = %s, want regenerated MT-fresh", res.TransactionID)
	}
}

// ---- CheckStatus ----

func TestCheckStatus_NotFound(t *testing.T) {
	svc, _ := newTestService(newFakeInventory(), newFakeCarts(), newFakeLedger(), &fakeGateway{})
	_, err := svc.CheckStatus(context.Background(), "MT-nope")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func checkout(t *testing.T, svc *Service, carts *fakeCarts, userID string, amount float64, items ...cart.SnapshotItem) string {
	t.Helper()
	carts.set(userID, items...)
	res, err := svc.CreateOrder(context.Background(), User{ID: userID}, amount)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return res.TransactionID
}

// Settle memakai snapshot beku di metadata, bukan isi cart live yang bisa
// berubah setelah checkout.
func TestCheckStatus_SuccessMarksFrozenSnapshotOnly(t *testing.T) {
	inv := newFakeInventory(
		available("c1", "Gadget Reviews"),
		available("c2", "Cooking Corner"),
		available("c3", "Daily Vlogs"),
	)
	carts := newFakeCarts()
	led := newFakeLedger()
	gw := &fakeGateway{statusResult: successStatus()}
	svc, pub := newTestService(inv, carts, led, gw)

	txID := checkout(t, svc, carts, "u1", 499,
		cart.SnapshotItem{ID: "c1", Quantity: 1},
		cart.SnapshotItem{ID: "c2", Quantity: 1},
	)

	// user nambah item setelah checkout; tidak boleh ikut kejual
	carts.set("u1",
		cart.SnapshotItem{ID: "c1", Quantity: 1},
		cart.SnapshotItem{ID: "c2", Quantity: 1},
		cart.SnapshotItem{ID: "c3", Quantity: 1},
	)

	res, err := svc.CheckStatus(context.Background(), txID)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if res.Status != ledger.StatusSuccess {
		t.Errorf("status = %s, want SUCCESS", res.Status)
	}
	if res.SoldMarked != 2 {
		t.Errorf("sold marked = %d, want 2", res.SoldMarked)
	}

	c3, _ := inv.FindByID(context.Background(), "c3")
	if c3.Sold() {
		t.Error("channel outside the frozen snapshot must not be sold")
	}
	c1, _ := inv.FindByID(context.Background(), "c1")
	if !c1.Sold() || c1.PaymentID != txID || c1.Buyer != "u1" {
		t.Errorf("c1 = %+v", c1)
	}
	if pub.published(TopicPaymentSettled) != 1 {
		t.Errorf("settled events = %d, want 1", pub.published(TopicPaymentSettled))
	}
}

// Rekonsiliasi ulang transaksi SUCCESS: no-op aman, tanpa call gateway dan
// tanpa nambah channel terjual.
func TestCheckStatus_IdempotentAfterSuccess(t *testing.T) {
	inv := newFakeInventory(available("c1", "Gadget Reviews"))
	carts := newFakeCarts()
	led := newFakeLedger()
	gw := &fakeGateway{statusResult: successStatus()}
	svc, _ := newTestService(inv, carts, led, gw)

	txID := checkout(t, svc, carts, "u1", 100, cart.SnapshotItem{ID: "c1", Quantity: 1})

	first, err := svc.CheckStatus(context.Background(), txID)
	if err != nil {
		t.Fatal(err)
	}
	if first.SoldMarked != 1 || inv.soldCount() != 1 {
		t.Fatalf("first settle: marked=%d sold=%d", first.SoldMarked, inv.soldCount())
	}
	callsAfterFirst := gw.statusCalls

	second, err := svc.CheckStatus(context.Background(), txID)
	if err != nil {
		t.Fatalf("second check must be a safe no-op: %v", err)
	}
	if second.Status != ledger.StatusSuccess {
		t.Errorf("second status = %s", second.Status)
	}
	if second.SoldMarked != 0 {
		t.Errorf("second sold marked = %d, want 0", second.SoldMarked)
	}
	if inv.soldCount() != 1 {
		t.Errorf("sold count changed on re-reconcile: %d", inv.soldCount())
	}
	if gw.statusCalls != callsAfterFirst {
		t.Error("terminal SUCCESS must not hit the gateway again")
	}
}

// Penjualan eksklusif: dua transaksi menunjuk channel yang sama, cuma satu
// yang boleh mencatat perubahan sold.
func TestCheckStatus_ExclusiveSale(t *testing.T) {
	inv := newFakeInventory(available("c1", "Gadget Reviews"))
	carts := newFakeCarts()
	led := newFakeLedger()
	gw := &fakeGateway{statusResult: successStatus()}
	svc, _ := newTestService(inv, carts, led, gw)

	item := cart.SnapshotItem{ID: "c1", Quantity: 1}
	tx1 := checkout(t, svc, carts, "u1", 100, item)
	tx2 := checkout(t, svc, carts, "u2", 100, item) // checkout kedua lolos pre-check sebelum settle pertama

	res1, err := svc.CheckStatus(context.Background(), tx1)
	if err != nil {
		t.Fatal(err)
	}
	res2, err := svc.CheckStatus(context.Background(), tx2)
	if err != nil {
		t.Fatal(err)
	}

	if res1.SoldMarked+res2.SoldMarked != 1 {
		t.Errorf("markSold reported change %d times for one channel, want exactly 1",
			res1.SoldMarked+res2.SoldMarked)
	}
	c1, _ := inv.FindByID(context.Background(), "c1")
	if c1.Buyer != "u1" || c1.PaymentID != tx1 {
		t.Errorf("first settlement must own the sale, got buyer=%s payment=%s", c1.Buyer, c1.PaymentID)
	}
}

func TestCheckStatus_TransportFailureLeavesStatusUntouched(t *testing.T) {
	inv := newFakeInventory(available("c1", "Gadget Reviews"))
	carts := newFakeCarts()
	led := newFakeLedger()
	gw := &fakeGateway{statusResult: successStatus()}
	svc, pub := newTestService(inv, carts, led, gw)

	txID := checkout(t, svc, carts, "u1", 100, cart.SnapshotItem{ID: "c1", Quantity: 1})

	gw.statusErr = fmt.Errorf("%w: 3 attempts: connection refused", phonepe.ErrTransport)
	_, err := svc.CheckStatus(context.Background(), txID)
	if !errors.Is(err, phonepe.ErrTransport) {
		t.Fatalf("want transport error, got %v", err)
	}

	tx, _ := led.FindByID(context.Background(), txID)
	if tx.Status != ledger.StatusInitiated {
		t.Errorf("status = %s; transport failure alone must not change it", tx.Status)
	}
	if inv.soldCount() != 0 {
		t.Error("no channel may be sold on transport failure")
	}
	if pub.published(TopicPaymentSettled)+pub.published(TopicPaymentFailed) != 0 {
		t.Error("no settlement events on transport failure")
	}
}

func TestCheckStatus_PendingPersistsWithoutSideEffects(t *testing.T) {
	inv := newFakeInventory(available("c1", "Gadget Reviews"))
	carts := newFakeCarts()
	led := newFakeLedger()
	gw := &fakeGateway{statusResult: &phonepe.StatusResult{
		Code:   "PAYMENT_PENDING",
		Status: ledger.StatusPending,
		Raw:    []byte(`{"success":true,"code":"PAYMENT_PENDING"}`),
	}}
	svc, pub := newTestService(inv, carts, led, gw)

	txID := checkout(t, svc, carts, "u1", 100, cart.SnapshotItem{ID: "c1", Quantity: 1})

	res, err := svc.CheckStatus(context.Background(), txID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != ledger.StatusPending {
		t.Errorf("status = %s, want PENDING", res.Status)
	}
	if inv.soldCount() != 0 {
		t.Error("pending must not sell anything")
	}
	if pub.published(TopicPaymentSettled) != 0 || pub.published(TopicPaymentFailed) != 0 {
		t.Error("pending must not publish settlement events")
	}

	tx, _ := led.FindByID(context.Background(), txID)
	if tx.Status != ledger.StatusPending {
		t.Errorf("persisted status = %s", tx.Status)
	}
	if string(tx.GatewayResponse) == "" {
		t.Error("gateway payload must be archived")
	}
}

func TestCheckStatus_FailedIsTerminal(t *testing.T) {
	inv := newFakeInventory(available("c1", "Gadget Reviews"))
	carts := newFakeCarts()
	led := newFakeLedger()
	gw := &fakeGateway{statusResult: &phonepe.StatusResult{
		Code:   "PAYMENT_DECLINED",
		Status: ledger.StatusFailed,
		Raw:    []byte(`{"success":false,"code":"PAYMENT_DECLINED"}`),
	}}
	svc, pub := newTestService(inv, carts, led, gw)

	txID := checkout(t, svc, carts, "u1", 100, cart.SnapshotItem{ID: "c1", Quantity: 1})

	res, err := svc.CheckStatus(context.Background(), txID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != ledger.StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if pub.published(TopicPaymentFailed) != 1 {
		t.Error("failed event expected")
	}

	// gateway berubah pikiran: status lokal FAILED sudah terminal
	gw.statusResult = successStatus()
	res, err = svc.CheckStatus(context.Background(), txID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != ledger.StatusFailed {
		t.Errorf("terminal FAILED moved to %s", res.Status)
	}
	if inv.soldCount() != 0 {
		t.Error("rejected transition must not sell channels")
	}
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
