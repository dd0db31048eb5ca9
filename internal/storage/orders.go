package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Order errors
var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderExists   = errors.New("order already recorded")
)

// OrderStatus represents the lifecycle of a submitted swap order.
type OrderStatus string

const (
	OrderStatusAwaitingFunding OrderStatus = "awaiting_funding"
	OrderStatusInitiated       OrderStatus = "initiated"
	OrderStatusRedeemed        OrderStatus = "redeemed"
	OrderStatusFailed          OrderStatus = "failed"
)

// IsTerminal reports whether no further settlement events are expected.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusRedeemed || s == OrderStatusFailed
}

// Order is a swap order submitted on behalf of a user.
type Order struct {
	CreateID string
	UserID   string
	Status   OrderStatus

	SourceChain      string
	DestinationChain string
	SourceAsset      string
	DestinationAsset string

	// Amounts are base-unit decimal strings as returned by the engine.
	SourceAmount      string
	DestinationAmount string

	// DepositAddress is set for UTXO-sourced orders.
	DepositAddress string
	InitTxHash     string
	RedeemTxHash   string

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// CreateOrder records a newly submitted order.
func (s *Storage) CreateOrder(ctx context.Context, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (
			create_id, user_id, status, source_chain, destination_chain,
			source_asset, destination_asset, source_amount, destination_amount,
			deposit_address, init_tx_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		order.CreateID, order.UserID, order.Status, order.SourceChain, order.DestinationChain,
		nullString(order.SourceAsset), nullString(order.DestinationAsset),
		nullString(order.SourceAmount), nullString(order.DestinationAmount),
		nullString(order.DepositAddress), nullString(order.InitTxHash), order.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrOrderExists
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by its create id.
func (s *Storage) GetOrder(ctx context.Context, createID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE create_id = ?`, createID)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// UpdateOrderStatus moves an order to status, recording the redeem tx
// hash when one is given.
func (s *Storage) UpdateOrderStatus(ctx context.Context, createID string, status OrderStatus, redeemTxHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, redeem_tx_hash = COALESCE(?, redeem_tx_hash), updated_at = ?
		WHERE create_id = ?
	`, status, nullString(redeemTxHash), time.Now().Unix(), createID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ListOrdersByUser returns a user's orders, newest first.
func (s *Storage) ListOrdersByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
}

// ListOpenOrders returns orders still waiting for settlement.
func (s *Storage) ListOpenOrders(ctx context.Context) ([]*Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status NOT IN (?, ?) ORDER BY created_at`,
		OrderStatusRedeemed, OrderStatusFailed)
}

func (s *Storage) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

const orderColumns = `create_id, user_id, status, source_chain, destination_chain,
	source_asset, destination_asset, source_amount, destination_amount,
	deposit_address, init_tx_hash, redeem_tx_hash, created_at, updated_at`

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o                                   Order
		sourceAsset, destAsset              sql.NullString
		sourceAmount, destAmount            sql.NullString
		depositAddr, initTxHash, redeemHash sql.NullString
		createdAt                           int64
		updatedAt                           sql.NullInt64
	)
	err := row.Scan(
		&o.CreateID, &o.UserID, &o.Status, &o.SourceChain, &o.DestinationChain,
		&sourceAsset, &destAsset, &sourceAmount, &destAmount,
		&depositAddr, &initTxHash, &redeemHash, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.SourceAsset = sourceAsset.String
	o.DestinationAsset = destAsset.String
	o.SourceAmount = sourceAmount.String
	o.DestinationAmount = destAmount.String
	o.DepositAddress = depositAddr.String
	o.InitTxHash = initTxHash.String
	o.RedeemTxHash = redeemHash.String
	o.CreatedAt = time.Unix(createdAt, 0)
	if updatedAt.Valid {
		t := time.Unix(updatedAt.Int64, 0)
		o.UpdatedAt = &t
	}
	return &o, nil
}
