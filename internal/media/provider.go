package media

import "context"

// Kind distinguishes capture device families.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Descriptor is an immutable snapshot of one capture device. Snapshots are
// only as fresh as the last enumeration; callers re-refresh after device
// change events.
type Descriptor struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  Kind   `json:"kind"`
}

// Stream is one live platform capture stream. Audio streams deliver PCM16LE
// mono buffers on Frames at SampleRate Hz; video streams carry no frames
// here and exist to hold the device lock. Stop must be idempotent and must
// stop the underlying device.
type Stream interface {
	Frames() <-chan []byte
	SampleRate() int
	Stop()
}

// Provider is the platform media-device surface: enumerate devices and
// acquire an exclusive capture stream for one of them. Implementations map
// platform failures onto ErrPermissionDenied / ErrDeviceUnavailable.
type Provider interface {
	Enumerate(ctx context.Context) ([]Descriptor, error)
	Acquire(ctx context.Context, kind Kind, deviceID string) (Stream, error)
}
