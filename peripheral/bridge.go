package peripheral

import "sync"

// EventBridge forwards decoded write payloads to a single replaceable listener.
type EventBridge struct {
	mu       sync.RWMutex
	listener func(string)
}

// SetListener replaces the listener. nil clears it.
func (b *EventBridge) SetListener(fn func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = fn
}

// Emit hands text to the current listener and reports whether there was one.
// The listener runs without the lock held so it may call back into the server.
func (b *EventBridge) Emit(text string) bool {
	b.mu.RLock()
	fn := b.listener
	b.mu.RUnlock()

	if fn == nil {
		return false
	}
	fn(text)
	return true
}
