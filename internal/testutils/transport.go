package testutils

import (
	"sync"
	"time"
)

// Notification is one payload delivered through a FakeTransport.
type Notification struct {
	Characteristic string
	Data           []byte
}

// FakeTransport records notifications instead of sending them over the air.
type FakeTransport struct {
	mu       sync.Mutex
	sent     []Notification
	reject   bool
	notified chan struct{}
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{notified: make(chan struct{}, 1024)}
}

// Reject makes subsequent deliveries report failure.
func (f *FakeTransport) Reject(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject = reject
}

func (f *FakeTransport) DeliverNotification(characteristic string, data []byte) bool {
	f.mu.Lock()
	f.sent = append(f.sent, Notification{Characteristic: characteristic, Data: append([]byte(nil), data...)})
	reject := f.reject
	f.mu.Unlock()

	select {
	case f.notified <- struct{}{}:
	default:
	}
	return !reject
}

// Sent returns a copy of everything delivered so far.
func (f *FakeTransport) Sent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.sent...)
}

// SentTo returns the payloads delivered for one characteristic.
func (f *FakeTransport) SentTo(characteristic string) [][]byte {
	var out [][]byte
	for _, n := range f.Sent() {
		if n.Characteristic == characteristic {
			out = append(out, n.Data)
		}
	}
	return out
}

// WaitFor blocks until at least n notifications were delivered or timeout elapses.
func (f *FakeTransport) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(f.Sent()) >= n {
			return true
		}
		select {
		case <-f.notified:
		case <-deadline:
			return len(f.Sent()) >= n
		}
	}
}
