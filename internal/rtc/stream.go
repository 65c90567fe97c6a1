package rtc

import (
	"sync"

	"github.com/Jelgon94/hr-voice-agent/internal/media"
)

// micStream is one acquired browser device, delivering decoded PCM frames
// until stopped. Video streams carry no frames here; the browser keeps the
// preview local and the stream only tracks the device claim.
type micStream struct {
	kind   media.Kind
	rate   int
	frames chan []byte

	once   sync.Once
	done   chan struct{}
	onStop func()
}

func newMicStream(kind media.Kind, rate int, onStop func()) *micStream {
	return &micStream{
		kind:   kind,
		rate:   rate,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
		onStop: onStop,
	}
}

func (s *micStream) Frames() <-chan []byte { return s.frames }
func (s *micStream) SampleRate() int       { return s.rate }

func (s *micStream) Stop() {
	s.once.Do(func() {
		close(s.done)
		if s.onStop != nil {
			s.onStop()
		}
	})
}

// push delivers one decoded frame, dropping it when the consumer lags or
// the stream was stopped.
func (s *micStream) push(frame []byte) {
	select {
	case <-s.done:
	case s.frames <- frame:
	default:
	}
}

var _ media.Stream = (*micStream)(nil)
