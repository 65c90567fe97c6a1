package rtc

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	trackSampleRate = 48000
	frameSamples    = 960 // 20ms at 48kHz
	frameDuration   = 20 * time.Millisecond
	tailFrames      = 10 // ~200ms of silence after each utterance
)

// SampleWriter is the destination for paced opus frames.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// TrackSink encodes 48kHz mono PCM into opus and writes 20ms frames to a
// WebRTC track at wall-clock pace. WritePCM may run far ahead of real time;
// the pacer drains the queue one frame per tick so the browser hears speech
// at normal speed and Reset can cut it off mid-utterance.
//
// WritePCM and FlushTail must come from a single producer goroutine; Reset
// and Close are safe from any goroutine.
type TrackSink struct {
	enc   *opus.Encoder
	track SampleWriter

	mu  sync.Mutex
	pcm []int16

	frames  chan []byte
	stopCh  chan struct{}
	once    sync.Once
}

// NewTrackSink starts the pacer over the given track.
func NewTrackSink(track SampleWriter) (*TrackSink, error) {
	enc, err := opus.NewEncoder(trackSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	s := &TrackSink{
		enc:    enc,
		track:  track,
		frames: make(chan []byte, 512),
		stopCh: make(chan struct{}),
	}
	go s.pacer()
	return s, nil
}

// WritePCM appends little-endian 16-bit 48kHz mono samples and enqueues
// every full frame they complete. Blocks when the frame queue is full, so
// a fast download is naturally throttled to playback pace.
func (s *TrackSink) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	s.mu.Lock()
	for i := 0; i+1 < len(pcmBytes); i += 2 {
		s.pcm = append(s.pcm, int16(binary.LittleEndian.Uint16(pcmBytes[i:i+2])))
	}
	var full [][]int16
	for len(s.pcm) >= frameSamples {
		frame := make([]int16, frameSamples)
		copy(frame, s.pcm[:frameSamples])
		full = append(full, frame)
		s.pcm = append(s.pcm[:0], s.pcm[frameSamples:]...)
	}
	s.mu.Unlock()

	for _, frame := range full {
		s.encodeAndSend(frame)
	}
}

// FlushTail pads the remaining samples to a full frame and appends a short
// silence tail so the end of the utterance is not clipped.
func (s *TrackSink) FlushTail() {
	s.mu.Lock()
	var last []int16
	if len(s.pcm) > 0 {
		last = make([]int16, frameSamples)
		copy(last, s.pcm)
		s.pcm = s.pcm[:0]
	}
	s.mu.Unlock()

	if last != nil {
		s.encodeAndSend(last)
	}
	silence := make([]int16, frameSamples)
	for i := 0; i < tailFrames; i++ {
		s.encodeAndSend(silence)
	}
}

// Pending reports queued frames the pacer has not written to the track yet,
// plus any buffered samples short of a full frame.
func (s *TrackSink) Pending() int {
	s.mu.Lock()
	buffered := len(s.pcm)
	s.mu.Unlock()
	n := len(s.frames)
	if buffered > 0 {
		n++
	}
	return n
}

// Reset drops every queued frame and all buffered samples so interrupted
// speech stops within one pacer tick.
func (s *TrackSink) Reset() {
	s.mu.Lock()
	s.pcm = s.pcm[:0]
	s.mu.Unlock()
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}

// Close stops the pacer and unblocks any pending WritePCM. Idempotent.
func (s *TrackSink) Close() {
	s.once.Do(func() { close(s.stopCh) })
}

func (s *TrackSink) encodeAndSend(frame []int16) {
	buf := make([]byte, 4000)
	n, err := s.enc.Encode(frame, buf)
	if err != nil || n == 0 {
		return
	}
	pkt := make([]byte, n)
	copy(pkt, buf[:n])
	s.send(pkt)
}

func (s *TrackSink) send(pkt []byte) {
	select {
	case <-s.stopCh:
	case s.frames <- pkt:
	}
}

func (s *TrackSink) pacer() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-s.frames:
				_ = s.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration})
			default:
			}
		}
	}
}
