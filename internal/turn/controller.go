package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/Jelgon94/hr-voice-agent/internal/audio"
	"github.com/Jelgon94/hr-voice-agent/internal/convo"
	"github.com/Jelgon94/hr-voice-agent/internal/media"
)

// Playback plays one remote audio resource at a time.
type Playback interface {
	Play(ctx context.Context, url string) error
	Cancel()
	Active() bool
}

// Capture records from a live audio stream handle.
type Capture interface {
	Start(h *media.StreamHandle) error
	Stop() (audio.Recording, error)
	Abort()
	Active() bool
}

// Controller is the turn-taking state machine. It is the only mutation
// surface the UI may drive; it owns the session, the current turn, and the
// lifecycle of capture/playback, and serializes every transition. At most
// one backend request, one playback and one capture exist at any time.
type Controller struct {
	client   convo.Client
	registry *media.Registry
	guard    *media.Guard
	playback Playback
	capture  Capture

	mu       sync.Mutex
	state    State
	session  convo.Session
	language convo.Language
	turn     Turn
	pending  *audio.Recording
	summary  string
	lastErr  string
	cameraOn bool

	convoCancel context.CancelFunc
	convoCtx    context.Context

	onChange func(Snapshot)
}

// NewController wires the state machine over its collaborators. The machine
// starts in Setup.
func NewController(client convo.Client, registry *media.Registry, guard *media.Guard, playback Playback, capture Capture, lang convo.Language) *Controller {
	return &Controller{
		client:   client,
		registry: registry,
		guard:    guard,
		playback: playback,
		capture:  capture,
		language: lang,
		state:    StateSetup,
	}
}

// OnChange registers the observer notified after every transition. Register
// before issuing commands; the observer must not block.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Snapshot returns the current immutable view of the machine.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:            c.state,
		SessionID:        c.session.ID,
		Language:         c.language,
		Turn:             c.turn,
		PendingRecording: c.pending != nil,
		CameraOn:         c.cameraOn,
		SummaryURL:       c.summary,
		LastError:        c.lastErr,
	}
}

func (c *Controller) emit() {
	c.mu.Lock()
	fn := c.onChange
	snap := c.snapshotLocked()
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// illegalLocked records the diagnostic for a rejected command. State is
// left untouched. Caller holds the lock.
func (c *Controller) illegalLocked(cmd string) error {
	err := &IllegalTransitionError{Command: cmd, State: c.state}
	c.lastErr = err.Error()
	log.Printf("turn: %v", err)
	return err
}

func (c *Controller) reportError(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
	log.Printf("turn: %v", err)
	c.emit()
}

// SetLanguage picks the conversation language. Frozen once a session exists.
func (c *Controller) SetLanguage(lang convo.Language) error {
	c.mu.Lock()
	if c.state != StateSetup && c.state != StateAwaitingSession {
		err := c.illegalLocked("set-language")
		c.mu.Unlock()
		c.emit()
		return err
	}
	c.language = lang
	c.mu.Unlock()
	c.emit()
	return nil
}

// CompleteSetup leaves the settings step; session commands become legal.
func (c *Controller) CompleteSetup() error {
	c.mu.Lock()
	if c.state != StateSetup {
		err := c.illegalLocked("complete-setup")
		c.mu.Unlock()
		c.emit()
		return err
	}
	c.state = StateAwaitingSession
	c.mu.Unlock()
	c.emit()
	return nil
}

// RefreshDevices re-enumerates capture devices.
func (c *Controller) RefreshDevices(ctx context.Context) ([]media.Descriptor, []media.Descriptor, error) {
	a, v, err := c.registry.Refresh(ctx)
	if err != nil {
		c.reportError(err)
	}
	return a, v, err
}

// SelectDevice records the device used on the next acquire for kind.
func (c *Controller) SelectDevice(kind media.Kind, deviceID string) {
	c.registry.Select(kind, deviceID)
}

// StartConversation creates the session with the user's password and fetches
// the first question; on success the machine moves through
// AwaitingFirstQuestion into AiSpeaking. Session failures keep the machine
// in AwaitingSession so the user may retry.
func (c *Controller) StartConversation(ctx context.Context, password string) error {
	c.mu.Lock()
	if c.state != StateAwaitingSession {
		err := c.illegalLocked("start-conversation")
		c.mu.Unlock()
		c.emit()
		return err
	}
	lang := c.language
	c.mu.Unlock()

	sess, err := c.client.CreateSession(ctx, password, lang)
	if err != nil {
		c.reportError(fmt.Errorf("create session: %w", err))
		return err
	}

	c.mu.Lock()
	if c.state != StateAwaitingSession {
		c.mu.Unlock()
		log.Printf("turn: session %s abandoned, conversation stopped while creating", sess.ID)
		return nil
	}
	c.session = sess
	c.lastErr = ""
	convoCtx, cancel := context.WithCancel(context.Background())
	c.convoCtx, c.convoCancel = convoCtx, cancel
	c.state = StateAwaitingFirstQuestion
	c.mu.Unlock()
	c.emit()

	q, err := c.client.InitialQuestion(convoCtx, sess.ID)
	if err != nil {
		c.mu.Lock()
		if c.state == StateAwaitingFirstQuestion {
			c.state = StateAwaitingSession
			c.lastErr = fmt.Sprintf("initial question: %v", err)
			if c.convoCancel != nil {
				c.convoCancel()
			}
			c.convoCtx, c.convoCancel = nil, nil
			log.Printf("turn: initial question failed: %v", err)
		}
		c.mu.Unlock()
		c.emit()
		return err
	}

	c.mu.Lock()
	if c.state != StateAwaitingFirstQuestion {
		c.mu.Unlock()
		return nil
	}
	c.turn = Turn{QuestionText: q.Text, AIAudioURL: q.SpeechFileURL}
	c.state = StateAiSpeaking
	playCtx := c.convoCtx
	url := q.SpeechFileURL
	c.mu.Unlock()
	c.emit()

	go c.speak(playCtx, url)
	return nil
}

// speak plays the current turn's audio and advances to
// AwaitingUserRecording whether playback completed naturally or was
// interrupted.
func (c *Controller) speak(ctx context.Context, url string) {
	var err error
	if url == "" {
		log.Printf("turn: no speech file url for current turn")
	} else {
		err = c.playback.Play(ctx, url)
	}
	c.mu.Lock()
	if c.state != StateAiSpeaking {
		c.mu.Unlock()
		return
	}
	c.state = StateAwaitingUserRecording
	if err != nil && !errors.Is(err, audio.ErrPlaybackCancelled) {
		c.lastErr = fmt.Sprintf("playback: %v", err)
		log.Printf("turn: playback error: %v", err)
	}
	c.mu.Unlock()
	c.emit()
}

// SkipPlayback interrupts the AI speech; the turn advances as if playback
// had completed.
func (c *Controller) SkipPlayback() error {
	c.mu.Lock()
	if c.state != StateAiSpeaking {
		err := c.illegalLocked("skip-playback")
		c.mu.Unlock()
		c.emit()
		return err
	}
	c.mu.Unlock()
	c.playback.Cancel()
	return nil
}

// StartRecording acquires the selected microphone and begins capturing.
// A recording held from a previous take is discarded. Device failures are
// recovered locally: the machine stays in AwaitingUserRecording.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateAwaitingUserRecording {
		err := c.illegalLocked("start-recording")
		c.mu.Unlock()
		c.emit()
		return err
	}
	c.pending = nil
	deviceID := c.registry.Selected(media.KindAudio)
	c.mu.Unlock()

	h, err := c.guard.Acquire(ctx, media.KindAudio, deviceID)
	if err != nil {
		c.reportError(fmt.Errorf("acquire microphone: %w", err))
		return err
	}
	if err := c.capture.Start(h); err != nil {
		c.guard.Release(media.KindAudio)
		c.reportError(fmt.Errorf("start capture: %w", err))
		return err
	}

	c.mu.Lock()
	if c.state != StateAwaitingUserRecording {
		c.mu.Unlock()
		c.capture.Abort()
		c.guard.Release(media.KindAudio)
		return nil
	}
	c.state = StateUserRecording
	c.lastErr = ""
	c.mu.Unlock()
	c.emit()
	return nil
}

// StopRecording finalizes the capture. The recording is held for an
// explicit SubmitRecording, so the user can re-record before sending.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	if c.state != StateUserRecording {
		err := c.illegalLocked("stop-recording")
		c.mu.Unlock()
		c.emit()
		return err
	}
	c.mu.Unlock()

	rec, err := c.capture.Stop()

	c.mu.Lock()
	if c.state != StateUserRecording {
		c.mu.Unlock()
		return nil
	}
	c.state = StateAwaitingUserRecording
	if err != nil {
		c.lastErr = fmt.Sprintf("stop capture: %v", err)
		log.Printf("turn: stop capture failed: %v", err)
		c.mu.Unlock()
		c.emit()
		return err
	}
	c.pending = &rec
	c.mu.Unlock()
	c.emit()
	return nil
}

// SubmitRecording uploads the held recording. On backend failure the
// machine returns to AwaitingUserRecording with the recording kept, so the
// user may retry or re-record; nothing is dropped silently.
func (c *Controller) SubmitRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateAwaitingUserRecording || c.pending == nil {
		err := c.illegalLocked("submit-recording")
		c.mu.Unlock()
		c.emit()
		return err
	}
	if !c.session.Valid {
		c.mu.Unlock()
		err := &convo.SessionError{Message: "session invalid; recording not submitted"}
		c.enterErrored(err.Error())
		return err
	}
	rec := *c.pending
	sessID := c.session.ID
	reqCtx := c.convoCtx
	c.state = StateSubmitting
	c.mu.Unlock()
	c.emit()

	res, err := c.client.SubmitTurn(reqCtx, sessID, rec.Bytes, rec.MIMEType)
	if err != nil {
		var serr *convo.SessionError
		if errors.As(err, &serr) {
			c.enterErrored(fmt.Sprintf("submit: %v", err))
			return err
		}
		c.mu.Lock()
		if c.state != StateSubmitting {
			c.mu.Unlock()
			return nil
		}
		c.state = StateAwaitingUserRecording
		c.lastErr = fmt.Sprintf("submit: %v", err)
		log.Printf("turn: submit failed: %v", err)
		c.mu.Unlock()
		c.emit()
		return err
	}

	c.mu.Lock()
	if c.state != StateSubmitting {
		c.mu.Unlock()
		return nil
	}
	c.pending = nil
	c.lastErr = ""
	c.turn = Turn{
		QuestionText: res.Reply,
		AnswerText:   res.TranscribedText,
		AIAudioURL:   res.SpeechFileURL,
	}
	c.state = StateAiSpeaking
	playCtx := c.convoCtx
	url := res.SpeechFileURL
	c.mu.Unlock()
	c.emit()

	go c.speak(playCtx, url)
	return nil
}

// ValidateSession asks the backend whether the session is still good. An
// invalidated session mid-conversation is unrecoverable and moves the
// machine to Errored; transport failures leave state untouched.
func (c *Controller) ValidateSession(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state.Terminal() || c.session.ID == "" {
		err := c.illegalLocked("validate-session")
		c.mu.Unlock()
		c.emit()
		return false, err
	}
	sessID := c.session.ID
	c.mu.Unlock()

	valid, err := c.client.ValidateSession(ctx, sessID)
	if err != nil {
		c.reportError(fmt.Errorf("validate session: %w", err))
		return false, err
	}

	c.mu.Lock()
	c.session.Valid = valid
	invalidMidConversation := !valid && c.state != StateAwaitingSession && !c.state.Terminal()
	c.mu.Unlock()
	if invalidMidConversation {
		c.enterErrored("session no longer valid")
	} else {
		c.emit()
	}
	return valid, nil
}

// EnableCamera acquires the selected video device for preview. Independent
// of the turn cycle.
func (c *Controller) EnableCamera(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Terminal() {
		err := c.illegalLocked("enable-camera")
		c.mu.Unlock()
		c.emit()
		return err
	}
	deviceID := c.registry.Selected(media.KindVideo)
	c.mu.Unlock()

	if _, err := c.guard.Acquire(ctx, media.KindVideo, deviceID); err != nil {
		c.reportError(fmt.Errorf("acquire camera: %w", err))
		return err
	}
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		c.guard.Release(media.KindVideo)
		return nil
	}
	c.cameraOn = true
	c.mu.Unlock()
	c.emit()
	return nil
}

// DisableCamera releases the video device. Idempotent.
func (c *Controller) DisableCamera() error {
	c.guard.Release(media.KindVideo)
	c.mu.Lock()
	c.cameraOn = false
	c.mu.Unlock()
	c.emit()
	return nil
}

// StopConversation ends the conversation from any active state: it cancels
// in-flight playback and requests, aborts any capture, releases every
// stream, and fetches the summary. The machine reaches Finished even when
// the summary fetch fails.
func (c *Controller) StopConversation(ctx context.Context) (convo.Summary, error) {
	c.mu.Lock()
	if c.state == StateSetup || c.state.Terminal() {
		err := c.illegalLocked("stop-conversation")
		c.mu.Unlock()
		c.emit()
		return convo.Summary{}, err
	}
	sessID := c.session.ID
	cancel := c.convoCancel
	c.state = StateFinished
	c.pending = nil
	c.mu.Unlock()
	c.emit()

	if cancel != nil {
		cancel()
	}
	c.playback.Cancel()
	c.capture.Abort()
	c.guard.ReleaseAll()
	c.mu.Lock()
	c.cameraOn = false
	c.mu.Unlock()

	if sessID == "" {
		c.emit()
		return convo.Summary{}, nil
	}
	summary, err := c.client.StopConversation(ctx, sessID)
	if err != nil {
		c.mu.Lock()
		c.lastErr = fmt.Sprintf("stop conversation: %v", err)
		c.mu.Unlock()
		log.Printf("turn: stop conversation failed: %v", err)
		c.emit()
		return convo.Summary{}, err
	}
	c.mu.Lock()
	c.summary = summary.FileURL
	c.mu.Unlock()
	c.emit()
	return summary, nil
}

// enterErrored tears the conversation down after the backend invalidated
// the session. Call without the lock held.
func (c *Controller) enterErrored(msg string) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = StateErrored
	c.lastErr = msg
	c.session.Valid = false
	c.pending = nil
	cancel := c.convoCancel
	c.mu.Unlock()
	log.Printf("turn: %s", msg)

	if cancel != nil {
		cancel()
	}
	c.playback.Cancel()
	c.capture.Abort()
	c.guard.ReleaseAll()
	c.emit()
}
