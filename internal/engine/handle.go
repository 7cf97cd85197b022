package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/srg/gattsim/internal/script"
)

// Handle is the runtime behavior behind one characteristic. Shared
// characteristics resolve to the same *Handle, so script state and the first
// subscription time are common to all of them.
type Handle struct {
	owner      string
	preset     uuid.UUID
	presetName string
	ctx        *script.Context
	static     []byte
	appStart   time.Time

	mu       sync.Mutex
	firstSub time.Time

	// refs counts the characteristics keyed to this handle; guarded by the registry lock.
	refs int
}

// Owner is the characteristic the handle was built for.
func (h *Handle) Owner() string { return h.owner }

// Preset returns the preset id and name, zero for static handles.
func (h *Handle) Preset() (uuid.UUID, string) { return h.preset, h.presetName }

// Scripted reports whether a script backs the handle.
func (h *Handle) Scripted() bool { return h.ctx != nil }

func (h *Handle) CanRead() bool {
	if h.ctx == nil {
		return h.static != nil
	}
	return h.ctx.CanRead()
}

func (h *Handle) CanWrite() bool {
	return h.ctx != nil && h.ctx.CanWrite()
}

// AppStart is the time the stack was built.
func (h *Handle) AppStart() time.Time { return h.appStart }

// FirstSubscription is zero until a central subscribes.
func (h *Handle) FirstSubscription() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.firstSub
}

// MarkSubscribed records t as the first subscription time unless one is
// already set. It reports whether t was recorded.
func (h *Handle) MarkSubscribed(t time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.firstSub.IsZero() {
		return false
	}
	h.firstSub = t
	return true
}

// Read runs the script's read function, or returns the static value.
func (h *Handle) Read() ([]byte, error) {
	if h.ctx == nil {
		if h.static == nil {
			return nil, script.ErrCapabilityMismatch
		}
		return append([]byte{}, h.static...), nil
	}
	return h.ctx.RunRead(h.appStart, h.FirstSubscription())
}

// Write runs the script's write function with data.
func (h *Handle) Write(data []byte) ([]byte, error) {
	if h.ctx == nil {
		return nil, script.ErrCapabilityMismatch
	}
	return h.ctx.RunWrite(h.appStart, h.FirstSubscription(), data)
}

func (h *Handle) release() {
	h.refs--
	if h.refs <= 0 && h.ctx != nil {
		h.ctx.Close()
	}
}
