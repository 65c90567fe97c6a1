package media

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StreamHandle wraps one live platform capture stream. The Guard is the only
// producer; at most one handle per kind is live at any time.
type StreamHandle struct {
	ID       string
	Kind     Kind
	DeviceID string

	mu     sync.Mutex
	stream Stream
	live   bool
}

// Live reports whether the handle still owns a running stream.
func (h *StreamHandle) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// Frames exposes the underlying stream's PCM frames. Returns nil once the
// handle has been released.
func (h *StreamHandle) Frames() <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live {
		return nil
	}
	return h.stream.Frames()
}

// SampleRate reports the stream's sample rate in Hz.
func (h *StreamHandle) SampleRate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream == nil {
		return 0
	}
	return h.stream.SampleRate()
}

// stop is idempotent; the second call is a no-op.
func (h *StreamHandle) stop() {
	h.mu.Lock()
	if !h.live {
		h.mu.Unlock()
		return
	}
	h.live = false
	s := h.stream
	h.mu.Unlock()
	s.Stop()
}

// Guard acquires and releases exclusive capture streams. Acquiring a kind
// that already has a live handle releases the old handle first, so two live
// handles of the same kind never coexist, even transiently.
type Guard struct {
	provider Provider

	mu      sync.Mutex
	handles map[Kind]*StreamHandle
}

// NewGuard constructs a guard over the given platform surface.
func NewGuard(p Provider) *Guard {
	return &Guard{provider: p, handles: make(map[Kind]*StreamHandle)}
}

// Acquire obtains a new exclusive stream for kind. Any existing handle for
// that kind is released (tracks stopped) before the new stream is requested;
// on failure the prior handle stays released rather than half-acquired.
func (g *Guard) Acquire(ctx context.Context, kind Kind, deviceID string) (*StreamHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev := g.handles[kind]; prev != nil {
		prev.stop()
		delete(g.handles, kind)
	}
	stream, err := g.provider.Acquire(ctx, kind, deviceID)
	if err != nil {
		return nil, err
	}
	h := &StreamHandle{
		ID:       uuid.NewString(),
		Kind:     kind,
		DeviceID: deviceID,
		stream:   stream,
		live:     true,
	}
	g.handles[kind] = h
	return h, nil
}

// Release stops and forgets the live handle for kind. Idempotent; safe when
// no handle exists.
func (g *Guard) Release(kind Kind) {
	g.mu.Lock()
	h := g.handles[kind]
	delete(g.handles, kind)
	g.mu.Unlock()
	if h != nil {
		h.stop()
	}
}

// ReleaseAll releases every live handle.
func (g *Guard) ReleaseAll() {
	g.mu.Lock()
	hs := make([]*StreamHandle, 0, len(g.handles))
	for k, h := range g.handles {
		hs = append(hs, h)
		delete(g.handles, k)
	}
	g.mu.Unlock()
	for _, h := range hs {
		h.stop()
	}
}

// Handle returns the live handle for kind, or nil.
func (g *Guard) Handle(kind Kind) *StreamHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handles[kind]
}
