// Package joiner is the client-side core of PDF Joiner Pro: session identity,
// page selection state, merge-order management and thumbnail prefetching. It
// talks to the REST backend through Client and owns no UI concerns.
package joiner

import (
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// TokenStore persists the session identifier between runs of the client.
type TokenStore interface {
	Load() (string, bool)
	Save(id string)
	Clear()
}

// MemoryTokenStore is the default in-process TokenStore.
type MemoryTokenStore struct {
	mu sync.Mutex
	id string
}

func (m *MemoryTokenStore) Load() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, m.id != ""
}

func (m *MemoryTokenStore) Save(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
}

func (m *MemoryTokenStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionID generates a session identifier of the form
// {unix millis}-{9 random base36 chars}. Uniqueness is best effort.
func NewSessionID() string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = base36[rand.Intn(len(base36))]
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + string(suffix)
}

// Coordinator owns the session identifier and the reset broadcast. All other
// core components register a reset hook instead of reaching for ambient state.
type Coordinator struct {
	mu      sync.Mutex
	store   TokenStore
	id      string
	onReset []func()
}

// NewCoordinator builds a Coordinator. A nil store gets a MemoryTokenStore.
func NewCoordinator(store TokenStore) *Coordinator {
	if store == nil {
		store = &MemoryTokenStore{}
	}
	return &Coordinator{store: store}
}

// GetOrCreateSession returns the current session identifier, minting and
// persisting a fresh one when none exists.
func (c *Coordinator) GetOrCreateSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id != "" {
		return c.id
	}
	if id, ok := c.store.Load(); ok {
		c.id = id
		return id
	}
	c.id = NewSessionID()
	c.store.Save(c.id)
	return c.id
}

// OnReset registers a hook invoked by ResetSession. Hooks run synchronously in
// registration order.
func (c *Coordinator) OnReset(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReset = append(c.onReset, fn)
}

// ResetSession discards the stored identifier, fires all reset hooks and
// returns a fresh identifier for the next project. It never touches the
// network; server-side cleanup is a separate explicit call.
func (c *Coordinator) ResetSession() string {
	c.mu.Lock()
	c.store.Clear()
	c.id = ""
	hooks := make([]func(), len(c.onReset))
	copy(hooks, c.onReset)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return c.GetOrCreateSession()
}
