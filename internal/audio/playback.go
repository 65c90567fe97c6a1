package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Sink consumes PCM bytes for delivery to the output device. Implementations
// buffer internally and pace delivery; Reset drops queued audio immediately.
// Pending reports how much queued audio has not reached the device yet, so
// playback completion can be tied to the listener actually hearing the end.
type Sink interface {
	WritePCM(pcm []byte)
	FlushTail()
	Pending() int
	Reset()
}

// PlaybackService fetches one remote audio resource at a time and streams it
// into the sink. At most one playback is active; starting another cancels
// the one in flight before any new audio is written.
type PlaybackService struct {
	Client *http.Client
	sink   Sink

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlaybackService constructs a playback service writing into sink. The
// HTTP client has no overall timeout; playback duration is bounded by the
// caller's context.
func NewPlaybackService(sink Sink) *PlaybackService {
	return &PlaybackService{Client: &http.Client{}, sink: sink}
}

// Play streams the resource at url into the sink until it ends or the
// playback is cancelled. Returns nil on natural completion and
// ErrPlaybackCancelled when interrupted (via Cancel or ctx).
func (p *PlaybackService) Play(ctx context.Context, url string) error {
	p.mu.Lock()
	for p.cancel != nil {
		prevCancel, prevDone := p.cancel, p.done
		p.mu.Unlock()
		prevCancel()
		<-prevDone
		p.mu.Lock()
	}
	playCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	err := p.stream(playCtx, url)
	if err == nil && playCtx.Err() == nil {
		// the sink paces delivery; completion means the listener heard
		// the end, not that the last chunk was queued
		p.sink.FlushTail()
		p.awaitDrain(playCtx)
	}
	cancelled := playCtx.Err() != nil

	p.mu.Lock()
	if p.done == done {
		p.cancel, p.done = nil, nil
	}
	p.mu.Unlock()
	cancel()
	close(done)

	if cancelled {
		p.sink.Reset()
		return ErrPlaybackCancelled
	}
	return err
}

// awaitDrain blocks until the sink has delivered everything queued or the
// playback is cancelled.
func (p *PlaybackService) awaitDrain(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.sink.Pending() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cancel stops the active playback immediately and waits for it to wind
// down. Safe to call when idle.
func (p *PlaybackService) Cancel() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Active reports whether a playback is in flight.
func (p *PlaybackService) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *PlaybackService) stream(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("audio fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("audio fetch status=%d body=%s", resp.StatusCode, string(b))
	}

	body := io.Reader(resp.Body)
	if isWAV(resp.Header.Get("Content-Type"), url) {
		// strip the canonical RIFF header; the sink expects raw PCM
		if _, err := io.CopyN(io.Discard, body, wavHeaderSize); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}

	buf := make([]byte, 4096)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			p.sink.WritePCM(out)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

func isWAV(contentType, url string) bool {
	if strings.Contains(contentType, "audio/wav") || strings.Contains(contentType, "audio/x-wav") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(url), ".wav")
}
