package convo

import "context"

// Language selects the language the backend conducts the conversation in.
type Language string

const (
	LanguageEN Language = "EN"
	LanguageNL Language = "NL"
	LanguageFR Language = "FR"
)

// ParseLanguage returns the Language for a code such as "NL", or false when
// the code is not supported.
func ParseLanguage(code string) (Language, bool) {
	switch Language(code) {
	case LanguageEN, LanguageNL, LanguageFR:
		return Language(code), true
	}
	return "", false
}

// Session identifies one conversation on the backend.
type Session struct {
	ID       string
	Language Language
	Valid    bool
}

// Question is the backend's opening prompt for a session. SpeechFileURL is
// absolute, already resolved against the backend base URL.
type Question struct {
	Text          string
	SpeechFileURL string
}

// TurnResult is the backend's reply to one submitted recording.
type TurnResult struct {
	TranscribedText string
	Reply           string
	SpeechFileURL   string
}

// Summary references the end-of-conversation document on the backend.
type Summary struct {
	FileURL string
}

// Client wraps the five backend conversation calls. Each call is a single
// bounded request with no automatic retry; retry policy belongs to the
// caller. At most one request should be in flight per conversation.
type Client interface {
	CreateSession(ctx context.Context, password string, lang Language) (Session, error)
	ValidateSession(ctx context.Context, sessionID string) (bool, error)
	InitialQuestion(ctx context.Context, sessionID string) (Question, error)
	SubmitTurn(ctx context.Context, sessionID string, audio []byte, mimeType string) (TurnResult, error)
	StopConversation(ctx context.Context, sessionID string) (Summary, error)
}
