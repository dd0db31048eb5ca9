package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testOrder(id, user string) *Order {
	return &Order{
		CreateID:          id,
		UserID:            user,
		Status:            OrderStatusInitiated,
		SourceChain:       "ethereum_sepolia",
		DestinationChain:  "bitcoin_testnet",
		SourceAsset:       "ethereum_sepolia:WBTC",
		DestinationAsset:  "bitcoin_testnet:BTC",
		SourceAmount:      "100000",
		DestinationAmount: "99700",
		InitTxHash:        "0xabc",
	}
}

func TestOrderCRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	order := testOrder("order-1", "u1")
	if err := store.CreateOrder(ctx, order); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if err := store.CreateOrder(ctx, order); !errors.Is(err, ErrOrderExists) {
		t.Errorf("CreateOrder(duplicate) error = %v, want ErrOrderExists", err)
	}

	got, err := store.GetOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %s, want u1", got.UserID)
	}
	if got.Status != OrderStatusInitiated {
		t.Errorf("Status = %s, want %s", got.Status, OrderStatusInitiated)
	}
	if got.DestinationAmount != "99700" {
		t.Errorf("DestinationAmount = %s, want 99700", got.DestinationAmount)
	}
	if got.DepositAddress != "" {
		t.Errorf("DepositAddress = %q, want empty", got.DepositAddress)
	}

	if _, err := store.GetOrder(ctx, "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("GetOrder(missing) error = %v, want ErrOrderNotFound", err)
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if err := store.CreateOrder(ctx, testOrder("order-1", "u1")); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if err := store.UpdateOrderStatus(ctx, "order-1", OrderStatusRedeemed, "0xredeem"); err != nil {
		t.Fatalf("UpdateOrderStatus() error = %v", err)
	}
	got, _ := store.GetOrder(ctx, "order-1")
	if got.Status != OrderStatusRedeemed {
		t.Errorf("Status = %s, want redeemed", got.Status)
	}
	if got.RedeemTxHash != "0xredeem" {
		t.Errorf("RedeemTxHash = %s, want 0xredeem", got.RedeemTxHash)
	}
	if got.UpdatedAt == nil {
		t.Error("UpdatedAt not set")
	}

	// An empty hash keeps the recorded one.
	if err := store.UpdateOrderStatus(ctx, "order-1", OrderStatusFailed, ""); err != nil {
		t.Fatalf("UpdateOrderStatus() error = %v", err)
	}
	got, _ = store.GetOrder(ctx, "order-1")
	if got.RedeemTxHash != "0xredeem" {
		t.Errorf("RedeemTxHash = %s, want preserved", got.RedeemTxHash)
	}

	if err := store.UpdateOrderStatus(ctx, "missing", OrderStatusFailed, ""); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("UpdateOrderStatus(missing) error = %v, want ErrOrderNotFound", err)
	}
}

func TestListOrders(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		o := testOrder(id, "u1")
		o.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.CreateOrder(ctx, o); err != nil {
			t.Fatalf("CreateOrder(%s) error = %v", id, err)
		}
	}
	other := testOrder("d", "u2")
	other.Status = OrderStatusAwaitingFunding
	other.DepositAddress = "tb1qdeposit"
	if err := store.CreateOrder(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateOrderStatus(ctx, "a", OrderStatusRedeemed, "0x1"); err != nil {
		t.Fatal(err)
	}

	mine, err := store.ListOrdersByUser(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListOrdersByUser() error = %v", err)
	}
	if len(mine) != 3 {
		t.Fatalf("ListOrdersByUser() returned %d orders, want 3", len(mine))
	}
	if mine[0].CreateID != "c" {
		t.Errorf("first order = %s, want newest c", mine[0].CreateID)
	}

	open, err := store.ListOpenOrders(ctx)
	if err != nil {
		t.Fatalf("ListOpenOrders() error = %v", err)
	}
	if len(open) != 3 {
		t.Errorf("ListOpenOrders() returned %d orders, want 3", len(open))
	}
	for _, o := range open {
		if o.Status.IsTerminal() {
			t.Errorf("open order %s has terminal status %s", o.CreateID, o.Status)
		}
	}
}
