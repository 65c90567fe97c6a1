package media

import (
	"context"
	"sync"
)

// Registry enumerates capture devices and records the selected device per
// kind. Selection only records intent; the Guard consumes it on the next
// acquire.
type Registry struct {
	provider Provider

	mu       sync.Mutex
	audio    []Descriptor
	video    []Descriptor
	selected map[Kind]string
}

// NewRegistry constructs a registry over the given platform surface.
func NewRegistry(p Provider) *Registry {
	return &Registry{provider: p, selected: make(map[Kind]string)}
}

// Refresh re-enumerates devices and replaces the cached snapshot.
func (r *Registry) Refresh(ctx context.Context) (audio, video []Descriptor, err error) {
	devs, err := r.provider.Enumerate(ctx)
	if err != nil {
		return nil, nil, &EnumerationError{Err: err}
	}
	var a, v []Descriptor
	for _, d := range devs {
		switch d.Kind {
		case KindAudio:
			a = append(a, d)
		case KindVideo:
			v = append(v, d)
		}
	}
	r.mu.Lock()
	r.audio, r.video = a, v
	r.mu.Unlock()
	return append([]Descriptor(nil), a...), append([]Descriptor(nil), v...), nil
}

// Select records the device to use on the next acquire for kind.
func (r *Registry) Select(kind Kind, deviceID string) {
	r.mu.Lock()
	r.selected[kind] = deviceID
	r.mu.Unlock()
}

// Selected returns the recorded device id for kind, or "" when the platform
// default should be used.
func (r *Registry) Selected(kind Kind) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected[kind]
}

// Devices returns the cached snapshot for kind from the last Refresh.
func (r *Registry) Devices(kind Kind) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case KindAudio:
		return append([]Descriptor(nil), r.audio...)
	case KindVideo:
		return append([]Descriptor(nil), r.video...)
	}
	return nil
}
