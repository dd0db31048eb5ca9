package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/klingon-exchange/swapbot/internal/engine"
	"github.com/klingon-exchange/swapbot/internal/storage"
)

type sentMessage struct {
	userID string
	text   string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (r *recordingSender) Send(ctx context.Context, userID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentMessage{userID: userID, text: text})
	return nil
}

type statusUpdate struct {
	id     string
	status storage.OrderStatus
	tx     string
}

type recordingOrders struct {
	updates []statusUpdate
	open    []*storage.Order
	err     error
}

func (r *recordingOrders) UpdateOrderStatus(ctx context.Context, id string, status storage.OrderStatus, tx string) error {
	r.updates = append(r.updates, statusUpdate{id, status, tx})
	return nil
}

func (r *recordingOrders) ListOpenOrders(ctx context.Context) ([]*storage.Order, error) {
	return r.open, r.err
}

func redeemedOrder() *engine.Order {
	return &engine.Order{
		CreateOrder: engine.CreateOrder{
			CreateID:          "create-1",
			SourceChain:       "arbitrum_sepolia",
			DestinationChain:  "bitcoin_testnet",
			DestinationAsset:  "primary",
			DestinationAmount: "150000",
		},
		SourceSwap:      engine.Swap{Chain: "arbitrum_sepolia"},
		DestinationSwap: engine.Swap{Chain: "bitcoin_testnet"},
	}
}

func TestCorrelatorStoreLookup(t *testing.T) {
	c := NewCorrelator()

	c.Store("order-1", "@alice:example.org")
	c.Store("", "@bob:example.org")
	c.Store("order-2", "")

	if user, ok := c.Lookup("order-1"); !ok || user != "@alice:example.org" {
		t.Errorf("Lookup(order-1) = %q, %v", user, ok)
	}
	if _, ok := c.Lookup("order-2"); ok {
		t.Error("incomplete entry should not be stored")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	c.Evict("order-1")
	if _, ok := c.Lookup("order-1"); ok {
		t.Error("evicted entry still present")
	}
}

func TestCorrelatorConcurrent(t *testing.T) {
	c := NewCorrelator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Store(fmt.Sprintf("order-%d", i), fmt.Sprintf("user-%d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			c.Lookup(fmt.Sprintf("order-%d", i))
		}(i)
	}
	wg.Wait()

	if c.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", c.Len())
	}
	for i := 0; i < 50; i++ {
		if user, _ := c.Lookup(fmt.Sprintf("order-%d", i)); user != fmt.Sprintf("user-%d", i) {
			t.Errorf("order-%d -> %q", i, user)
		}
	}
	if ids := c.Orders(); ids[0] != "order-0" {
		t.Errorf("Orders() not sorted: %v", ids[:3])
	}
}

func TestCorrelatorRestore(t *testing.T) {
	c := NewCorrelator()
	src := &recordingOrders{open: []*storage.Order{
		{CreateID: "a", UserID: "u1"},
		{CreateID: "b", UserID: "u2"},
	}}

	n, err := c.Restore(context.Background(), src)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if n != 2 || c.Len() != 2 {
		t.Errorf("restored %d, Len() = %d", n, c.Len())
	}

	if _, err := c.Restore(context.Background(), &recordingOrders{err: errors.New("db down")}); err == nil {
		t.Error("Restore() should fail when listing fails")
	}
}

func TestCompletionMessage(t *testing.T) {
	msg := CompletionMessage(redeemedOrder(), "abc123")

	for _, want := range []string{
		"Order: create-1",
		"From: Arbitrum Sepolia",
		"To: Bitcoin Testnet",
		"Received: 0.0015 BTC",
		"Transaction: https://mempool.space/testnet4/tx/abc123",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}

	order := redeemedOrder()
	order.CreateOrder.DestinationChain = "mystery_chain"
	msg = CompletionMessage(order, "0xdef")
	if !strings.Contains(msg, "Received: 150000") || !strings.Contains(msg, "https://sepolia.etherscan.io/tx/0xdef") {
		t.Errorf("fallback message:\n%s", msg)
	}
}

func TestHandleRedeemSuccess(t *testing.T) {
	c := NewCorrelator()
	sender := &recordingSender{}
	orders := &recordingOrders{}
	h := NewHandler(&HandlerConfig{Correlator: c, Sender: sender, Orders: orders})

	c.Store("create-1", "@alice:example.org")
	h.HandleEvent(engine.Event{Type: engine.EventSuccess, OrderID: "create-1", Order: redeemedOrder(),
		Action: engine.ActionRedeem, TxHash: "abc123"})

	if len(sender.sent) != 1 || sender.sent[0].userID != "@alice:example.org" {
		t.Fatalf("sent = %+v", sender.sent)
	}
	if !strings.Contains(sender.sent[0].text, "Swap completed") {
		t.Errorf("text = %q", sender.sent[0].text)
	}
	if len(orders.updates) != 1 || orders.updates[0].status != storage.OrderStatusRedeemed || orders.updates[0].tx != "abc123" {
		t.Errorf("updates = %+v", orders.updates)
	}
	if c.Len() != 0 {
		t.Error("completed order should be evicted")
	}
}

func TestHandleUnknownOrderDropped(t *testing.T) {
	sender := &recordingSender{}
	h := NewHandler(&HandlerConfig{Correlator: NewCorrelator(), Sender: sender})

	h.HandleEvent(engine.Event{Type: engine.EventSuccess, OrderID: "ghost", Order: redeemedOrder(),
		Action: engine.ActionRedeem, TxHash: "abc"})
	h.HandleEvent(engine.Event{Type: engine.EventSuccess, OrderID: "ghost", Action: engine.ActionRefund, TxHash: "abc"})

	if len(sender.sent) != 0 {
		t.Errorf("sent = %+v, want nothing", sender.sent)
	}
}

func TestHandleOtherEvents(t *testing.T) {
	tests := []struct {
		name       string
		evt        engine.Event
		wantSent   int
		wantStatus storage.OrderStatus
		wantKept   bool
	}{
		{"init", engine.Event{Type: engine.EventSuccess, Action: engine.ActionInit, TxHash: "0x1"}, 0, "", true},
		{"log", engine.Event{Type: engine.EventLog, Message: "waiting"}, 0, "", true},
		{"redeem retry", engine.Event{Type: engine.EventError, Action: engine.ActionRedeem, Err: errors.New("x")}, 0, "", true},
		{"terminal error", engine.Event{Type: engine.EventError, Message: "order expired", Err: errors.New("x")}, 1, storage.OrderStatusFailed, false},
		{"refund", engine.Event{Type: engine.EventSuccess, Action: engine.ActionRefund, TxHash: "0x2", Order: redeemedOrder()}, 1, storage.OrderStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCorrelator()
			sender := &recordingSender{}
			orders := &recordingOrders{}
			h := NewHandler(&HandlerConfig{Correlator: c, Sender: sender, Orders: orders})
			c.Store("create-1", "u1")

			tt.evt.OrderID = "create-1"
			h.HandleEvent(tt.evt)

			if len(sender.sent) != tt.wantSent {
				t.Errorf("sent %d messages, want %d", len(sender.sent), tt.wantSent)
			}
			if tt.wantStatus != "" && (len(orders.updates) != 1 || orders.updates[0].status != tt.wantStatus) {
				t.Errorf("updates = %+v, want %s", orders.updates, tt.wantStatus)
			}
			if _, kept := c.Lookup("create-1"); kept != tt.wantKept {
				t.Errorf("kept = %v, want %v", kept, tt.wantKept)
			}
		})
	}
}

func TestHandleSendFailureDoesNotPanic(t *testing.T) {
	c := NewCorrelator()
	c.Store("create-1", "u1")
	h := NewHandler(&HandlerConfig{Correlator: c, Sender: &recordingSender{err: errors.New("offline")}})

	h.HandleEvent(engine.Event{Type: engine.EventSuccess, OrderID: "create-1", Order: redeemedOrder(),
		Action: engine.ActionRedeem, TxHash: "abc"})
}
