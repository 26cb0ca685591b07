package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// StateTTL bounds the lifetime of an OAuth state token. A user has ten
// minutes to finish the provider's consent screen; after that the
// callback is treated as forged.
const StateTTL = 600 * time.Second

// StateStore is the storage behind the state manager. The in-memory
// implementation below serves single-instance deployments; a
// multi-instance deployment swaps in an external key-value store with
// TTL support without touching the manager.
//
// TakeIfPresent must be atomic: two concurrent calls for the same value
// must not both observe it.
type StateStore interface {
	// Put records a state value with its issue time.
	Put(state string, issuedAt time.Time)
	// TakeIfPresent removes the state and returns its issue time.
	// The second return is false if the state was never stored or was
	// already consumed.
	TakeIfPresent(state string) (time.Time, bool)
	// PurgeExpired drops every entry older than ttl.
	PurgeExpired(ttl time.Duration)
}

// MemoryStateStore is a mutex-guarded map. Entries are purged
// opportunistically on Generate, so an abandoned flow can't grow the map
// without bound.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]time.Time)}
}

func (m *MemoryStateStore) Put(state string, issuedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state] = issuedAt
}

func (m *MemoryStateStore) TakeIfPresent(state string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issuedAt, ok := m.states[state]
	if ok {
		delete(m.states, state)
	}
	return issuedAt, ok
}

func (m *MemoryStateStore) PurgeExpired(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	for state, issuedAt := range m.states {
		if issuedAt.Before(cutoff) {
			delete(m.states, state)
		}
	}
}

// StateManager issues and validates the single-use anti-CSRF tokens that
// bind an OAuth callback to an authorization redirect this server
// initiated.
type StateManager struct {
	secret []byte
	ttl    time.Duration
	store  StateStore
	now    func() time.Time // injectable clock for expiry tests
}

// NewStateManager creates a StateManager over the given store.
func NewStateManager(secret string, store StateStore) *StateManager {
	return &StateManager{
		secret: []byte(secret),
		ttl:    StateTTL,
		store:  store,
		now:    time.Now,
	}
}

// Generate produces a fresh state token and records it.
//
// The value is sha256(32 random bytes + timestamp + process secret) in
// hex. The random bytes alone carry the entropy; the timestamp and
// secret are folded in on top.
func (m *StateManager) Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generating state entropy: %w", err)
	}

	now := m.now()
	h := sha256.New()
	h.Write(buf)
	h.Write([]byte(strconv.FormatInt(now.UnixNano(), 10)))
	h.Write(m.secret)
	state := hex.EncodeToString(h.Sum(nil))

	m.store.Put(state, now)
	m.store.PurgeExpired(m.ttl)

	return state, nil
}

// Verify reports whether the state is known and within its TTL.
//
// The entry is deleted whenever it is found, valid or not: states are
// single-use, and a second verification of the same value must fail.
// Unknown and expired states are indistinguishable to the caller.
func (m *StateManager) Verify(state string) bool {
	issuedAt, ok := m.store.TakeIfPresent(state)
	if !ok {
		return false
	}
	return m.now().Sub(issuedAt) <= m.ttl
}
