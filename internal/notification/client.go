package notification

import "sync"

// ClientState tracks what the user's client reports about itself. Until told
// otherwise the client is assumed to have no push permission and to be in the
// background.
type ClientState struct {
	mu             sync.RWMutex
	pushPermission bool
	foreground     bool
}

// NewClientState returns the default state.
func NewClientState() *ClientState {
	return &ClientState{}
}

// ClientSnapshot is a point-in-time copy of ClientState.
type ClientSnapshot struct {
	PushPermission bool `json:"pushPermission"`
	Foreground     bool `json:"foreground"`
}

// SetPushPermission records whether the client may receive pushes.
func (c *ClientState) SetPushPermission(granted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushPermission = granted
}

// SetForeground records whether the client is in the foreground.
func (c *ClientState) SetForeground(foreground bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.foreground = foreground
}

// Apply replaces the whole state.
func (c *ClientState) Apply(s ClientSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushPermission = s.PushPermission
	c.foreground = s.Foreground
}

// Snapshot returns the current state.
func (c *ClientState) Snapshot() ClientSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientSnapshot{PushPermission: c.pushPermission, Foreground: c.foreground}
}
