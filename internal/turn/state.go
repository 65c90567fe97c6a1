package turn

import (
	"fmt"

	"github.com/Jelgon94/hr-voice-agent/internal/convo"
)

// State is the single authority on which commands are currently legal.
// Illegal combinations ("recording while the AI speaks") are unrepresentable
// rather than merely disabled in the UI.
type State string

const (
	StateSetup                 State = "setup"
	StateAwaitingSession       State = "awaiting_session"
	StateAwaitingFirstQuestion State = "awaiting_first_question"
	StateAiSpeaking            State = "ai_speaking"
	StateAwaitingUserRecording State = "awaiting_user_recording"
	StateUserRecording         State = "user_recording"
	StateSubmitting            State = "submitting"
	StateFinished              State = "finished"
	StateErrored               State = "errored"
)

// Terminal reports whether no further commands can move the machine.
func (s State) Terminal() bool { return s == StateFinished || s == StateErrored }

// Turn is the latest question/answer exchange. Only the current turn is
// retained; conversation history is the backend's concern.
type Turn struct {
	// QuestionText is what the AI is currently asking.
	QuestionText string `json:"question_text"`
	// AnswerText is the transcript of the user's answer to the previous
	// question, empty before the first submit.
	AnswerText string `json:"answer_text,omitempty"`
	// AIAudioURL points at the synthesized speech for QuestionText.
	AIAudioURL string `json:"ai_audio_url,omitempty"`
}

// Snapshot is an immutable view of the controller handed to observers.
type Snapshot struct {
	State            State          `json:"state"`
	SessionID        string         `json:"session_id,omitempty"`
	Language         convo.Language `json:"language"`
	Turn             Turn           `json:"turn"`
	PendingRecording bool           `json:"pending_recording"`
	CameraOn         bool           `json:"camera_on"`
	SummaryURL       string         `json:"summary_url,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
}

// IllegalTransitionError reports a command issued outside its legal state.
// The command is a no-op; controller state is never corrupted by one.
type IllegalTransitionError struct {
	Command string
	State   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s not allowed in state %q", e.Command, e.State)
}
