package notify

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/internal/engine"
	"github.com/klingon-exchange/swapbot/internal/storage"
	"github.com/klingon-exchange/swapbot/pkg/helpers"
	"github.com/klingon-exchange/swapbot/pkg/logging"
)

// Sender delivers a plain text message to a user.
type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

// OrderUpdater persists settlement outcomes.
type OrderUpdater interface {
	UpdateOrderStatus(ctx context.Context, createID string, status storage.OrderStatus, redeemTxHash string) error
}

// HandlerConfig holds handler dependencies.
type HandlerConfig struct {
	Correlator *Correlator
	Sender     Sender
	// Orders is optional.
	Orders OrderUpdater
	// SendTimeout bounds one delivery.
	SendTimeout time.Duration
}

// Handler turns engine events into user messages.
type Handler struct {
	correlator  *Correlator
	sender      Sender
	orders      OrderUpdater
	sendTimeout time.Duration
	log         *logging.Logger
}

// NewHandler creates an event handler.
func NewHandler(cfg *HandlerConfig) *Handler {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		correlator:  cfg.Correlator,
		sender:      cfg.Sender,
		orders:      cfg.Orders,
		sendTimeout: timeout,
		log:         logging.GetDefault().Component("notify"),
	}
}

// HandleEvent is an engine.EventHandler.
func (h *Handler) HandleEvent(evt engine.Event) {
	switch evt.Type {
	case engine.EventSuccess:
		h.handleSuccess(evt)
	case engine.EventError:
		h.handleError(evt)
	default:
		h.log.Debug("Engine log", "order_id", evt.OrderID, "message", evt.Message)
	}
}

func (h *Handler) handleSuccess(evt engine.Event) {
	switch evt.Action {
	case engine.ActionRedeem:
		h.updateStatus(evt.OrderID, storage.OrderStatusRedeemed, evt.TxHash)
		h.deliver(evt.OrderID, CompletionMessage(evt.Order, evt.TxHash))
		h.correlator.Evict(evt.OrderID)

	case engine.ActionRefund:
		h.updateStatus(evt.OrderID, storage.OrderStatusFailed, "")
		var sourceChain string
		if evt.Order != nil {
			sourceChain = evt.Order.SourceSwap.Chain
		}
		h.deliver(evt.OrderID, fmt.Sprintf("↩️ Order %s was refunded.\nTransaction: %s",
			evt.OrderID, chain.TxURL(sourceChain, evt.TxHash)))
		h.correlator.Evict(evt.OrderID)

	default:
		h.log.Info("Swap action confirmed", "order_id", evt.OrderID, "action", evt.Action, "tx", evt.TxHash)
	}
}

func (h *Handler) handleError(evt engine.Event) {
	h.log.Warn("Engine error", "order_id", evt.OrderID, "action", evt.Action, "message", evt.Message, "error", evt.Err)

	// Redeem attempts are retried by the engine. The final failure comes
	// without an action.
	if evt.Action == engine.ActionRedeem {
		return
	}
	h.updateStatus(evt.OrderID, storage.OrderStatusFailed, "")
	text := fmt.Sprintf("⚠️ Order %s could not be completed", evt.OrderID)
	if evt.Message != "" {
		text += ": " + evt.Message
	}
	h.deliver(evt.OrderID, text+".")
	h.correlator.Evict(evt.OrderID)
}

// deliver sends text to the order's owner. Unknown orders are logged and
// dropped.
func (h *Handler) deliver(orderID, text string) {
	userID, ok := h.correlator.Lookup(orderID)
	if !ok {
		h.log.Warn("No user for order, dropping notification", "order_id", orderID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
	defer cancel()
	if err := h.sender.Send(ctx, userID, text); err != nil {
		h.log.Error("Failed to notify user", "order_id", orderID, "user", userID, "error", err)
		return
	}
	h.log.Info("User notified", "order_id", orderID, "user", userID)
}

func (h *Handler) updateStatus(orderID string, status storage.OrderStatus, txHash string) {
	if h.orders == nil || orderID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
	defer cancel()
	if err := h.orders.UpdateOrderStatus(ctx, orderID, status, txHash); err != nil {
		h.log.Debug("Order status not updated", "order_id", orderID, "status", status, "error", err)
	}
}

// CompletionMessage renders the swap completed notice.
func CompletionMessage(order *engine.Order, txHash string) string {
	var (
		id        string
		source    string
		dest      string
		destAsset string
		amount    string
	)
	if order != nil {
		id = order.ID()
		source = order.CreateOrder.SourceChain
		dest = order.CreateOrder.DestinationChain
		destAsset = order.CreateOrder.DestinationAsset
		amount = order.CreateOrder.DestinationAmount
	}

	var b strings.Builder
	b.WriteString("✅ Swap completed!\n")
	fmt.Fprintf(&b, "Order: %s\n", id)
	fmt.Fprintf(&b, "From: %s\n", helpers.ChainDisplayName(source))
	fmt.Fprintf(&b, "To: %s\n", helpers.ChainDisplayName(dest))
	fmt.Fprintf(&b, "Received: %s\n", displayAmount(dest, destAsset, amount))
	fmt.Fprintf(&b, "Transaction: %s", chain.TxURL(dest, txHash))
	return b.String()
}

func displayAmount(chainID, swapAddress, amount string) string {
	a, ok := chain.FindAsset(chainID, swapAddress)
	if !ok {
		return amount
	}
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return amount
	}
	return helpers.FormatUnits(v, a.Decimals) + " " + a.Symbol
}
