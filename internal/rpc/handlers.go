package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/klingon-exchange/swapbot/internal/storage"
)

// Version of the daemon
const Version = "0.1.0-dev"

// paramsError marks a handler error caused by bad request params.
type paramsError struct {
	err error
}

func (e *paramsError) Error() string { return e.err.Error() }

func invalidParams(format string, args ...interface{}) error {
	return &paramsError{err: fmt.Errorf(format, args...)}
}

func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams("invalid params: %v", err)
	}
	return nil
}

// StatusResult is the response for status.
type StatusResult struct {
	Version       string `json:"version"`
	Network       string `json:"network"`
	Uptime        string `json:"uptime"`
	Users         int    `json:"users"`
	TrackedOrders int    `json:"tracked_orders"`
	WSClients     int    `json:"ws_clients"`
}

func (s *Server) status(ctx context.Context, params json.RawMessage) (interface{}, error) {
	users := 0
	if s.store != nil {
		count, err := s.store.CountUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count users: %w", err)
		}
		users = count
	}

	return &StatusResult{
		Version:       Version,
		Network:       s.network,
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Users:         users,
		TrackedOrders: s.orders.Len(),
		WSClients:     s.wsHub.ClientCount(),
	}, nil
}

// OrderInfo is the JSON view of a recorded order.
type OrderInfo struct {
	OrderID           string `json:"order_id"`
	UserID            string `json:"user_id"`
	Tracked           bool   `json:"tracked"`
	Status            string `json:"status,omitempty"`
	SourceChain       string `json:"source_chain,omitempty"`
	DestinationChain  string `json:"destination_chain,omitempty"`
	SourceAsset       string `json:"source_asset,omitempty"`
	DestinationAsset  string `json:"destination_asset,omitempty"`
	SourceAmount      string `json:"source_amount,omitempty"`
	DestinationAmount string `json:"destination_amount,omitempty"`
	DepositAddress    string `json:"deposit_address,omitempty"`
	InitTxHash        string `json:"init_tx_hash,omitempty"`
	RedeemTxHash      string `json:"redeem_tx_hash,omitempty"`
	CreatedAt         int64  `json:"created_at,omitempty"`
}

func orderInfo(o *storage.Order) *OrderInfo {
	return &OrderInfo{
		OrderID:           o.CreateID,
		UserID:            o.UserID,
		Status:            string(o.Status),
		SourceChain:       o.SourceChain,
		DestinationChain:  o.DestinationChain,
		SourceAsset:       o.SourceAsset,
		DestinationAsset:  o.DestinationAsset,
		SourceAmount:      o.SourceAmount,
		DestinationAmount: o.DestinationAmount,
		DepositAddress:    o.DepositAddress,
		InitTxHash:        o.InitTxHash,
		RedeemTxHash:      o.RedeemTxHash,
		CreatedAt:         o.CreatedAt.Unix(),
	}
}

// OrdersOwnerParams is the request for orders_owner.
type OrdersOwnerParams struct {
	OrderID string `json:"order_id"`
}

func (s *Server) ordersOwner(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p OrdersOwnerParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.OrderID == "" {
		return nil, invalidParams("order_id is required")
	}

	userID, tracked := s.orders.Lookup(p.OrderID)

	if s.store != nil {
		order, err := s.store.GetOrder(ctx, p.OrderID)
		switch {
		case err == nil:
			info := orderInfo(order)
			info.Tracked = tracked
			return info, nil
		case !errors.Is(err, storage.ErrOrderNotFound):
			return nil, fmt.Errorf("failed to load order: %w", err)
		}
	}

	if !tracked {
		return nil, fmt.Errorf("unknown order: %s", p.OrderID)
	}
	return &OrderInfo{OrderID: p.OrderID, UserID: userID, Tracked: true}, nil
}

// OrdersListParams is the request for orders_list.
type OrdersListParams struct {
	Limit int `json:"limit,omitempty"`
}

// TrackedOrder pairs an in-flight order with its owner.
type TrackedOrder struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

// OrdersListResult is the response for orders_list.
type OrdersListResult struct {
	Orders []TrackedOrder `json:"orders"`
	Total  int            `json:"total"`
}

func (s *Server) ordersList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p OrdersListParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit < 0 {
		return nil, invalidParams("limit must not be negative")
	}

	ids := s.orders.Orders()
	sort.Strings(ids)

	result := &OrdersListResult{Orders: make([]TrackedOrder, 0, len(ids)), Total: len(ids)}
	for _, orderID := range ids {
		if p.Limit > 0 && len(result.Orders) >= p.Limit {
			break
		}
		// Evicted between Orders and Lookup.
		userID, ok := s.orders.Lookup(orderID)
		if !ok {
			continue
		}
		result.Orders = append(result.Orders, TrackedOrder{OrderID: orderID, UserID: userID})
	}
	return result, nil
}
