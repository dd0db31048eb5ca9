// Package notify routes asynchronous settlement events back to the user
// who submitted the order.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/klingon-exchange/swapbot/internal/storage"
	"github.com/klingon-exchange/swapbot/pkg/logging"
)

// Correlator maps order ids to user ids. Writers are submitting turns and
// readers are engine event handlers, so every access is locked.
type Correlator struct {
	mu      sync.RWMutex
	entries map[string]string
	log     *logging.Logger
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		entries: make(map[string]string),
		log:     logging.GetDefault().Component("notify"),
	}
}

// Store records that userID submitted orderID. Missing ids are logged and
// ignored.
func (c *Correlator) Store(orderID, userID string) {
	if orderID == "" || userID == "" {
		c.log.Warn("Ignoring incomplete correlation", "order_id", orderID, "user", userID)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[orderID] = userID
}

// Lookup returns the user that submitted orderID.
func (c *Correlator) Lookup(orderID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	userID, ok := c.entries[orderID]
	return userID, ok
}

// Evict forgets orderID.
func (c *Correlator) Evict(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, orderID)
}

// Orders returns the correlated order ids, sorted.
func (c *Correlator) Orders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of correlated orders.
func (c *Correlator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// OpenOrders lists orders that have not reached a terminal status.
type OpenOrders interface {
	ListOpenOrders(ctx context.Context) ([]*storage.Order, error)
}

// Restore re-populates the correlator from persisted open orders.
func (c *Correlator) Restore(ctx context.Context, src OpenOrders) (int, error) {
	orders, err := src.ListOpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open orders: %w", err)
	}
	for _, o := range orders {
		c.Store(o.CreateID, o.UserID)
	}
	return len(orders), nil
}
