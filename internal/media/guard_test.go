package media

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeStream struct {
	frames chan []byte
	stops  int32
}

func (s *fakeStream) Frames() <-chan []byte { return s.frames }
func (s *fakeStream) SampleRate() int       { return 16000 }
func (s *fakeStream) Stop()                 { atomic.AddInt32(&s.stops, 1) }

type fakeProvider struct {
	streams  map[string]*fakeStream
	acquires []string
	enumErr  error
	acqErr   error
	devices  []Descriptor
}

func (p *fakeProvider) Enumerate(ctx context.Context) ([]Descriptor, error) {
	if p.enumErr != nil {
		return nil, p.enumErr
	}
	return p.devices, nil
}

func (p *fakeProvider) Acquire(ctx context.Context, kind Kind, deviceID string) (Stream, error) {
	p.acquires = append(p.acquires, string(kind)+":"+deviceID)
	if p.acqErr != nil {
		return nil, p.acqErr
	}
	s := &fakeStream{frames: make(chan []byte, 4)}
	if p.streams == nil {
		p.streams = make(map[string]*fakeStream)
	}
	p.streams[deviceID] = s
	return s, nil
}

func TestGuard_AcquireReplacesPriorHandle(t *testing.T) {
	p := &fakeProvider{}
	g := NewGuard(p)

	hA, err := g.Acquire(context.Background(), KindAudio, "idA")
	if err != nil {
		t.Fatalf("acquire idA: %v", err)
	}
	hB, err := g.Acquire(context.Background(), KindAudio, "idB")
	if err != nil {
		t.Fatalf("acquire idB: %v", err)
	}
	if hA.Live() {
		t.Fatalf("expected idA handle released")
	}
	if !hB.Live() {
		t.Fatalf("expected idB handle live")
	}
	if n := atomic.LoadInt32(&p.streams["idA"].stops); n != 1 {
		t.Fatalf("expected idA stream stopped once, got %d", n)
	}
	if got := g.Handle(KindAudio); got != hB {
		t.Fatalf("expected idB to be the live handle")
	}
}

func TestGuard_AcquireFailureLeavesPriorReleased(t *testing.T) {
	p := &fakeProvider{}
	g := NewGuard(p)

	hA, err := g.Acquire(context.Background(), KindAudio, "idA")
	if err != nil {
		t.Fatalf("acquire idA: %v", err)
	}
	p.acqErr = ErrPermissionDenied
	if _, err := g.Acquire(context.Background(), KindAudio, "idB"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if hA.Live() {
		t.Fatalf("expected prior handle released after failed acquire")
	}
	if g.Handle(KindAudio) != nil {
		t.Fatalf("expected no live audio handle after failed acquire")
	}
}

func TestGuard_ReleaseIdempotent(t *testing.T) {
	p := &fakeProvider{}
	g := NewGuard(p)

	if _, err := g.Acquire(context.Background(), KindAudio, "idA"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	g.Release(KindAudio)
	g.Release(KindAudio)
	if n := atomic.LoadInt32(&p.streams["idA"].stops); n != 1 {
		t.Fatalf("expected exactly one stop, got %d", n)
	}
}

func TestGuard_KindsAreIndependent(t *testing.T) {
	p := &fakeProvider{}
	g := NewGuard(p)

	hAudio, err := g.Acquire(context.Background(), KindAudio, "mic")
	if err != nil {
		t.Fatalf("acquire audio: %v", err)
	}
	if _, err := g.Acquire(context.Background(), KindVideo, "cam"); err != nil {
		t.Fatalf("acquire video: %v", err)
	}
	if !hAudio.Live() {
		t.Fatalf("acquiring video must not disturb the live audio handle")
	}
	g.ReleaseAll()
	if g.Handle(KindAudio) != nil || g.Handle(KindVideo) != nil {
		t.Fatalf("expected all handles released")
	}
	if atomic.LoadInt32(&p.streams["mic"].stops) != 1 || atomic.LoadInt32(&p.streams["cam"].stops) != 1 {
		t.Fatalf("expected each stream stopped exactly once")
	}
}

func TestRegistry_RefreshSplitsKindsAndSelectRecordsIntent(t *testing.T) {
	p := &fakeProvider{devices: []Descriptor{
		{ID: "mic1", Label: "Mic 1", Kind: KindAudio},
		{ID: "cam1", Label: "Cam 1", Kind: KindVideo},
		{ID: "mic2", Label: "Mic 2", Kind: KindAudio},
	}}
	r := NewRegistry(p)

	a, v, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(a) != 2 || len(v) != 1 {
		t.Fatalf("expected 2 audio + 1 video, got %d + %d", len(a), len(v))
	}

	r.Select(KindAudio, "mic2")
	if got := r.Selected(KindAudio); got != "mic2" {
		t.Fatalf("expected mic2 selected, got %q", got)
	}
	// Selection alone must not acquire anything.
	if len(p.acquires) != 0 {
		t.Fatalf("selection must not acquire a stream, got %v", p.acquires)
	}
}

func TestRegistry_RefreshErrorIsEnumerationError(t *testing.T) {
	p := &fakeProvider{enumErr: errors.New("no permission grant")}
	r := NewRegistry(p)
	_, _, err := r.Refresh(context.Background())
	var ee *EnumerationError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EnumerationError, got %v", err)
	}
}
