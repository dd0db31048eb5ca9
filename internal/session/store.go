package session

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klingon-exchange/swapbot/internal/apperr"
)

// Store is a keyed session store.
type Store[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Delete(key string)
}

// MemoryStore is an in-process Store. With a TTL, entries expire after
// that long without a Get or Set. Expired values that have a Reset method
// are reset when dropped, so decrypted keys do not linger in memory.
type MemoryStore[V any] struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry[V]
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry[V any] struct {
	value   V
	touched time.Time
}

var _ Store[int] = (*MemoryStore[int])(nil)

// NewMemoryStore creates a store. ttl <= 0 disables expiry.
func NewMemoryStore[V any](ttl time.Duration) *MemoryStore[V] {
	return &MemoryStore[V]{
		entries: make(map[string]memoryEntry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// resetter is implemented by values holding secrets, such as *State.
type resetter interface {
	Reset()
}

func (m *MemoryStore[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if m.expired(e) {
		m.drop(key, e)
		var zero V
		return zero, false
	}
	e.touched = m.now()
	m.entries[key] = e
	return e.value, true
}

func (m *MemoryStore[V]) Set(key string, value V) {
	m.mu.Lock()
	m.entries[key] = memoryEntry[V]{value: value, touched: m.now()}
	m.mu.Unlock()
}

func (m *MemoryStore[V]) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of live entries.
func (m *MemoryStore[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if !m.expired(e) {
			n++
		}
	}
	return n
}

// Sweep removes expired entries and returns their keys.
func (m *MemoryStore[V]) Sweep() []string {
	if m.ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for k, e := range m.entries {
		if m.expired(e) {
			m.drop(k, e)
			removed = append(removed, k)
		}
	}
	return removed
}

// drop removes an expired entry. Caller holds m.mu.
func (m *MemoryStore[V]) drop(key string, e memoryEntry[V]) {
	delete(m.entries, key)
	if r, ok := any(e.value).(resetter); ok {
		r.Reset()
	}
}

func (m *MemoryStore[V]) expired(e memoryEntry[V]) bool {
	return m.ttl > 0 && m.now().Sub(e.touched) > m.ttl
}

// Auth is an authenticated session. The password is kept in memory only,
// so wallets created during the session can be encrypted for storage.
type Auth struct {
	UserID   string
	Password string
	LoggedIn time.Time
}

// Manager hands out per-user conversation state and login sessions.
type Manager struct {
	states Store[*State]
	auth   Store[*Auth]
}

// NewManager creates a manager over the given stores.
func NewManager(states Store[*State], auth Store[*Auth]) *Manager {
	return &Manager{states: states, auth: auth}
}

// State returns userID's conversation, creating it at the initial step.
func (m *Manager) State(userID string) *State {
	st, _ := m.Open(userID)
	return st
}

// Open is State that also reports whether the conversation was just
// created, either for a new user or after the previous one expired.
func (m *Manager) Open(userID string) (*State, bool) {
	if st, ok := m.states.Get(userID); ok {
		return st, false
	}
	st := NewState(userID)
	m.states.Set(userID, st)
	return st, true
}

// Login records an authenticated session.
func (m *Manager) Login(userID, password string) {
	m.auth.Set(userID, &Auth{UserID: userID, Password: password, LoggedIn: time.Now()})
}

// Auth returns the authenticated session for userID, if any.
func (m *Manager) Auth(userID string) (*Auth, bool) {
	return m.auth.Get(userID)
}

// RequireAuth returns the login for userID or an authentication error.
// An expired login also drops any wallets still held in the state.
func (m *Manager) RequireAuth(userID string) (*Auth, error) {
	if a, ok := m.auth.Get(userID); ok {
		return a, nil
	}
	if st, ok := m.states.Get(userID); ok && st.HasWallets() {
		st.Reset()
	}
	return nil, apperr.New(apperr.KindAuthentication, "Please log in first with /login <password>.")
}

// Logout drops the login and every decrypted wallet of userID.
func (m *Manager) Logout(userID string) {
	m.auth.Delete(userID)
	if st, ok := m.states.Get(userID); ok {
		st.Reset()
	}
}

var lastNonce atomic.Int64

// NextNonce returns a process-wide strictly increasing swap nonce based on
// the current time in milliseconds.
func NextNonce() string {
	for {
		prev := lastNonce.Load()
		n := time.Now().UnixMilli()
		if n <= prev {
			n = prev + 1
		}
		if lastNonce.CompareAndSwap(prev, n) {
			return strconv.FormatInt(n, 10)
		}
	}
}
