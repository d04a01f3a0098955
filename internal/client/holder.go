package client

import "sync"

// TokenHolder stores the tokens of one signed-in session.
// Implementations must be safe for concurrent use.
type TokenHolder interface {
	Tokens() (access, refresh string)
	SetAccessToken(access string)
	SetTokens(access, refresh string)
	Clear()
}

// MemoryHolder keeps tokens in process memory.
type MemoryHolder struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemoryHolder creates an empty MemoryHolder.
func NewMemoryHolder() *MemoryHolder {
	return &MemoryHolder{}
}

// Tokens implements TokenHolder.
func (h *MemoryHolder) Tokens() (access, refresh string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.access, h.refresh
}

// SetAccessToken implements TokenHolder.
func (h *MemoryHolder) SetAccessToken(access string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.access = access
}

// SetTokens implements TokenHolder.
func (h *MemoryHolder) SetTokens(access, refresh string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.access = access
	h.refresh = refresh
}

// Clear implements TokenHolder.
func (h *MemoryHolder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.access = ""
	h.refresh = ""
}
