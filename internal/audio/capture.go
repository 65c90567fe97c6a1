package audio

import (
	"sync"

	"github.com/Jelgon94/hr-voice-agent/internal/media"
)

// Recording is one finished capture awaiting submission. It is produced once
// per capture cycle and consumed exactly once.
type Recording struct {
	Bytes    []byte
	MIMEType string
}

// CaptureService records PCM frames from a live audio stream handle and
// finalizes the result as a WAV recording. Only one capture may be active;
// Start while capturing fails rather than restarting implicitly.
type CaptureService struct {
	mu     sync.Mutex
	active bool
	buf    []byte
	rate   int
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCaptureService constructs an idle capture service.
func NewCaptureService() *CaptureService {
	return &CaptureService{}
}

// Start begins draining frames from the handle into an in-memory buffer.
func (s *CaptureService) Start(h *media.StreamHandle) error {
	if h == nil || h.Kind != media.KindAudio || !h.Live() {
		return ErrNoActiveStream
	}
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	s.active = true
	s.buf = nil
	s.rate = h.SampleRate()
	if s.rate <= 0 {
		s.rate = 16000
	}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.stopCh, s.doneCh = stopCh, doneCh
	frames := h.Frames()
	s.mu.Unlock()

	go func() {
		defer close(doneCh)
		for {
			select {
			case <-stopCh:
				// drain frames already queued before stopping
				for {
					select {
					case f, ok := <-frames:
						if !ok {
							return
						}
						s.appendFrame(f)
					default:
						return
					}
				}
			case f, ok := <-frames:
				if !ok {
					return
				}
				s.appendFrame(f)
			}
		}
	}()
	return nil
}

func (s *CaptureService) appendFrame(f []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, f...)
	s.mu.Unlock()
}

// Stop ends the capture and finalizes the buffered PCM as a WAV recording.
func (s *CaptureService) Stop() (Recording, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return Recording{}, ErrNotRecording
	}
	s.active = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	pcm := s.buf
	rate := s.rate
	s.buf = nil
	s.mu.Unlock()
	return Recording{Bytes: EncodeWAV(pcm, rate, 1), MIMEType: "audio/wav"}, nil
}

// Abort ends an active capture and discards its audio. No-op when idle.
func (s *CaptureService) Abort() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}

// Active reports whether a capture is running.
func (s *CaptureService) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
