package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/klingon-exchange/swapbot/pkg/helpers"
)

// maxRedeemAttempts bounds redeem retries across settlement ticks.
const maxRedeemAttempts = 5

// tracked is an order awaiting settlement.
type tracked struct {
	order    *Order
	secret   []byte
	attempts int
	addedAt  time.Time
}

func (c *Client) track(order *Order, secret []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[order.ID()] = &tracked{order: order, secret: secret, addedAt: time.Now()}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.pending[id]; ok {
		helpers.SecureClear(t.secret)
		delete(c.pending, id)
	}
}

// Pending returns the ids of orders awaiting settlement.
func (c *Client) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

// OnEvent registers a handler for settlement events.
func (c *Client) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

func (c *Client) emit(evt Event) {
	c.mu.Lock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, handler := range handlers {
		go handler(evt)
	}
}

// RunSettlementLoop polls tracked orders and redeems them once the
// destination leg is funded. Only one loop runs per client; further calls
// return immediately. It returns when ctx is done.
func (c *Client) RunSettlementLoop(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	defer c.running.Store(false)

	c.log.Info("Settlement loop started", "interval", c.cfg.PollInterval)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		c.settleOnce(ctx)

		select {
		case <-ctx.Done():
			c.log.Info("Settlement loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Running reports whether a settlement loop is active.
func (c *Client) Running() bool {
	return c.running.Load()
}

func (c *Client) settleOnce(ctx context.Context) {
	c.mu.Lock()
	batch := make([]*tracked, 0, len(c.pending))
	for _, t := range c.pending {
		batch = append(batch, t)
	}
	c.mu.Unlock()

	for _, t := range batch {
		if ctx.Err() != nil {
			return
		}
		c.settle(ctx, t)
	}
}

func (c *Client) settle(ctx context.Context, t *tracked) {
	id := t.order.ID()

	order, err := c.GetOrder(ctx, id)
	if err != nil {
		c.log.Warn("Failed to poll order", "order_id", id, "error", err)
		return
	}
	if order == nil {
		return
	}
	t.order = order

	switch {
	case order.DestinationSwap.RedeemTxHash != "":
		c.emit(Event{Type: EventSuccess, OrderID: id, Order: order, Action: ActionRedeem, TxHash: order.DestinationSwap.RedeemTxHash})
		c.forget(id)

	case order.SourceSwap.RefundTxHash != "":
		c.emit(Event{Type: EventSuccess, OrderID: id, Order: order, Action: ActionRefund, TxHash: order.SourceSwap.RefundTxHash})
		c.forget(id)

	case order.DestinationSwap.InitiateTxHash != "":
		txHash, err := c.redeem(ctx, order, t.secret)
		if err != nil {
			t.attempts++
			c.log.Warn("Redeem failed", "order_id", id, "attempt", t.attempts, "error", err)
			if t.attempts >= maxRedeemAttempts {
				c.log.Error("Giving up on redeem", "order_id", id)
				// No action: the order is no longer tracked.
				c.emit(Event{Type: EventError, OrderID: id, Order: order, Err: err,
					Message: fmt.Sprintf("redeem failed after %d attempts", t.attempts)})
				c.forget(id)
				return
			}
			c.emit(Event{Type: EventError, OrderID: id, Order: order, Action: ActionRedeem, Err: err,
				Message: fmt.Sprintf("redeem attempt %d failed", t.attempts)})
			return
		}
		c.log.Info("Order redeemed", "order_id", id, "tx", txHash)
		c.emit(Event{Type: EventSuccess, OrderID: id, Order: order, Action: ActionRedeem, TxHash: txHash})
		c.forget(id)

	case expired(order) && order.SourceSwap.InitiateTxHash == "":
		c.emit(Event{Type: EventError, OrderID: id, Order: order, Err: fmt.Errorf("order %s expired unfunded", id),
			Message: "order expired before the source leg was funded"})
		c.forget(id)

	default:
		c.emit(Event{Type: EventLog, OrderID: id, Order: order, Message: "waiting for destination leg"})
	}
}

func expired(order *Order) bool {
	deadline := order.CreateOrder.AdditionalData.Deadline
	return deadline > 0 && time.Now().Unix() > deadline
}
