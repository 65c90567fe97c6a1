package rtc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/Jelgon94/hr-voice-agent/internal/media"
)

const (
	micSampleRate  = 16000
	requestTimeout = 10 * time.Second
)

// signalMessage is the websocket protocol with the browser. It carries SDP
// offer/answer and trickle ICE, the browser's device inventory, and
// request/reply device claims.
// Types from the browser: "offer", "candidate", "devices", "result", "bye".
// Types to the browser: "answer", "candidate", "ice-complete", "enumerate",
// "acquire", "release", "error".
type signalMessage struct {
	Type          string             `json:"type"`
	SDP           string             `json:"sdp,omitempty"`
	Candidate     string             `json:"candidate,omitempty"`
	SDPMid        *string            `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16            `json:"sdpMLineIndex,omitempty"`
	Devices       []media.Descriptor `json:"devices,omitempty"`
	Kind          media.Kind         `json:"kind,omitempty"`
	DeviceID      string             `json:"deviceId,omitempty"`
	RequestID     string             `json:"requestId,omitempty"`
	OK            bool               `json:"ok,omitempty"`
	Error         string             `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for local use; restrict in production
		return true
	},
}

var errNoBrowser = errors.New("no browser connected")

// Bridge exchanges media with the user's browser over a single WebRTC peer
// connection. The browser's microphone arrives as a remote opus track and is
// decoded into 16kHz PCM frames; AI speech leaves as paced opus on a local
// track. The bridge doubles as the device provider (the browser reports and
// claims its own devices) and as the playback sink.
type Bridge struct {
	iceJSON string

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	pc      *webrtc.PeerConnection
	sink    *TrackSink
	devices []media.Descriptor
	streams map[media.Kind]*micStream
	replies map[string]chan signalMessage
}

func NewBridge(iceServersJSON string) *Bridge {
	return &Bridge{
		iceJSON: iceServersJSON,
		streams: make(map[media.Kind]*micStream),
		replies: make(map[string]chan signalMessage),
	}
}

// ServeSignaling upgrades to websocket and runs the browser session until
// the socket closes. A new connection replaces any previous one.
func (b *Bridge) ServeSignaling(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("rtc: ws upgrade error: %v", err)
		return
	}
	b.attach(conn)
	defer b.detach(conn)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("rtc: ws read: %v", err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			answer, err := b.answer(conn, m.SDP)
			if err != nil {
				log.Printf("rtc: offer failed: %v", err)
				_ = b.write(conn, signalMessage{Type: "error", Error: err.Error()})
				continue
			}
			_ = b.write(conn, signalMessage{Type: "answer", SDP: answer})
		case "candidate":
			if m.Candidate == "" {
				continue
			}
			b.mu.Lock()
			pc := b.pc
			b.mu.Unlock()
			if pc != nil {
				_ = pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex})
			}
		case "devices":
			b.mu.Lock()
			b.devices = m.Devices
			b.mu.Unlock()
		case "result":
			b.mu.Lock()
			ch := b.replies[m.RequestID]
			delete(b.replies, m.RequestID)
			b.mu.Unlock()
			if ch != nil {
				ch <- m
			}
		case "bye":
			return
		}
	}
}

func (b *Bridge) attach(conn *websocket.Conn) {
	b.mu.Lock()
	prevConn, prevPC, prevSink := b.conn, b.pc, b.sink
	b.conn = conn
	b.pc, b.sink = nil, nil
	b.devices = nil
	b.mu.Unlock()
	b.closePeer(prevConn, prevPC, prevSink)
}

func (b *Bridge) detach(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	pc, sink := b.pc, b.sink
	b.conn, b.pc, b.sink = nil, nil, nil
	b.devices = nil
	streams := b.streams
	b.streams = make(map[media.Kind]*micStream)
	b.mu.Unlock()

	for _, s := range streams {
		s.Stop()
	}
	b.closePeer(conn, pc, sink)
}

func (b *Bridge) closePeer(conn *websocket.Conn, pc *webrtc.PeerConnection, sink *TrackSink) {
	if sink != nil {
		sink.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// answer builds the peer connection for one browser offer and returns the
// local SDP. Candidates trickle over the socket afterwards.
func (b *Bridge) answer(conn *websocket.Conn, offerSDP string) (string, error) {
	if offerSDP == "" {
		return "", errors.New("empty offer")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return "", err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return "", err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: parseICEServers(b.iceJSON)})
	if err != nil {
		return "", err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: trackSampleRate, Channels: 1},
		"agent-audio", "agent",
	)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return "", err
	}
	sink, err := NewTrackSink(outTrack)
	if err != nil {
		_ = pc.Close()
		return "", err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = b.write(conn, signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = b.write(conn, signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("rtc: ICE state: %s", state.String())
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("rtc: remote audio track: codec=%s", remote.Codec().MimeType)
		dec, err := opus.NewDecoder(micSampleRate, 1)
		if err != nil {
			log.Printf("rtc: opus decoder: %v", err)
			return
		}
		go b.readMic(remote, dec)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		sink.Close()
		_ = pc.Close()
		return "", err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		sink.Close()
		_ = pc.Close()
		return "", err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		sink.Close()
		_ = pc.Close()
		return "", err
	}
	local := pc.LocalDescription()
	if local == nil {
		sink.Close()
		_ = pc.Close()
		return "", errors.New("no local description")
	}

	b.mu.Lock()
	prevPC, prevSink := b.pc, b.sink
	b.pc, b.sink = pc, sink
	b.mu.Unlock()
	b.closePeer(nil, prevPC, prevSink)

	return local.SDP, nil
}

// readMic decodes the remote opus track into little-endian 16-bit PCM frames
// and delivers them to whichever audio stream is currently acquired.
func (b *Bridge) readMic(remote *webrtc.TrackRemote, dec *opus.Decoder) {
	samples := make([]int16, 1920)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Printf("rtc: rtp read: %v", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			continue
		}
		frame := make([]byte, n*2)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(frame[i*2:], uint16(samples[i]))
		}
		b.mu.Lock()
		s := b.streams[media.KindAudio]
		b.mu.Unlock()
		if s != nil {
			s.push(frame)
		}
	}
}

// Enumerate asks the browser for its current device inventory.
func (b *Bridge) Enumerate(ctx context.Context) ([]media.Descriptor, error) {
	rep, err := b.request(ctx, signalMessage{Type: "enumerate"})
	if err != nil {
		return nil, &media.EnumerationError{Err: err}
	}
	if !rep.OK {
		return nil, &media.EnumerationError{Err: errors.New(rep.Error)}
	}
	b.mu.Lock()
	b.devices = rep.Devices
	b.mu.Unlock()
	return rep.Devices, nil
}

// Acquire asks the browser to claim a device. Audio streams deliver decoded
// microphone PCM; video streams only hold the claim while the browser keeps
// the preview local.
func (b *Bridge) Acquire(ctx context.Context, kind media.Kind, deviceID string) (media.Stream, error) {
	rep, err := b.request(ctx, signalMessage{Type: "acquire", Kind: kind, DeviceID: deviceID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	}
	if !rep.OK {
		if strings.Contains(strings.ToLower(rep.Error), "permission") {
			return nil, fmt.Errorf("%w: %s", media.ErrPermissionDenied, rep.Error)
		}
		return nil, fmt.Errorf("%w: %s", media.ErrDeviceUnavailable, rep.Error)
	}

	rate := 0
	if kind == media.KindAudio {
		rate = micSampleRate
	}
	s := newMicStream(kind, rate, func() { b.releaseDevice(kind) })
	b.mu.Lock()
	b.streams[kind] = s
	b.mu.Unlock()
	return s, nil
}

func (b *Bridge) releaseDevice(kind media.Kind) {
	b.mu.Lock()
	delete(b.streams, kind)
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		_ = b.write(conn, signalMessage{Type: "release", Kind: kind})
	}
}

// request sends one request frame and waits for the browser's reply.
func (b *Bridge) request(ctx context.Context, msg signalMessage) (signalMessage, error) {
	msg.RequestID = uuid.NewString()
	ch := make(chan signalMessage, 1)

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return signalMessage{}, errNoBrowser
	}
	b.replies[msg.RequestID] = ch
	b.mu.Unlock()

	drop := func() {
		b.mu.Lock()
		delete(b.replies, msg.RequestID)
		b.mu.Unlock()
	}
	if err := b.write(conn, msg); err != nil {
		drop()
		return signalMessage{}, err
	}
	select {
	case rep := <-ch:
		return rep, nil
	case <-ctx.Done():
		drop()
		return signalMessage{}, ctx.Err()
	case <-time.After(requestTimeout):
		drop()
		return signalMessage{}, errors.New("browser did not reply")
	}
}

func (b *Bridge) write(conn *websocket.Conn, msg signalMessage) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (b *Bridge) currentSink() *TrackSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink
}

// WritePCM forwards 48kHz playback PCM to the connected browser. Dropped
// silently when no peer is up.
func (b *Bridge) WritePCM(p []byte) {
	if s := b.currentSink(); s != nil {
		s.WritePCM(p)
	}
}

func (b *Bridge) FlushTail() {
	if s := b.currentSink(); s != nil {
		s.FlushTail()
	}
}

func (b *Bridge) Pending() int {
	if s := b.currentSink(); s != nil {
		return s.Pending()
	}
	return 0
}

func (b *Bridge) Reset() {
	if s := b.currentSink(); s != nil {
		s.Reset()
	}
}

func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

var (
	_ media.Provider = (*Bridge)(nil)
)
