package convo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// HTTPClient implements Client against the backend HTTP API.
type HTTPClient struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPClient constructs a client for the backend at baseURL. Every call
// is bounded by timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

type startSessionRequest struct {
	Password string `json:"password"`
	Language string `json:"language,omitempty"`
}

type startSessionResponse struct {
	SessionID string `json:"session_id"`
}

type validateSessionResponse struct {
	Valid bool `json:"valid"`
}

type initialQuestionResponse struct {
	Question      string `json:"question"`
	SpeechFileURL string `json:"speech_file_url"`
}

type conversationResponse struct {
	TranscribedText string `json:"transcribed_text"`
	GPTResponse     string `json:"gpt_response"`
	SpeechFileURL   string `json:"speech_file_url"`
}

type stopConversationRequest struct {
	SessionID string `json:"session_id"`
}

type stopConversationResponse struct {
	SummaryFile string `json:"summary_file"`
}

func (c *HTTPClient) CreateSession(ctx context.Context, password string, lang Language) (Session, error) {
	body, _ := json.Marshal(startSessionRequest{Password: password, Language: string(lang)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/start_session", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out startSessionResponse
	if err := c.do("create session", req, &out); err != nil {
		return Session{}, err
	}
	if out.SessionID == "" {
		return Session{}, &RequestError{Op: "create session", Err: errors.New("empty session id")}
	}
	return Session{ID: out.SessionID, Language: lang, Valid: true}, nil
}

func (c *HTTPClient) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	u := c.BaseURL + "/api/validate_session?session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	var out validateSessionResponse
	if err := c.do("validate session", req, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

func (c *HTTPClient) InitialQuestion(ctx context.Context, sessionID string) (Question, error) {
	u := c.BaseURL + "/api/initial_question?session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Question{}, err
	}
	var out initialQuestionResponse
	if err := c.do("initial question", req, &out); err != nil {
		return Question{}, err
	}
	return Question{Text: out.Question, SpeechFileURL: c.ResolveURL(out.SpeechFileURL)}, nil
}

func (c *HTTPClient) SubmitTurn(ctx context.Context, sessionID string, audio []byte, mimeType string) (TurnResult, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, audioFilename(mimeType)))
	hdr.Set("Content-Type", mimeType)
	fw, err := mw.CreatePart(hdr)
	if err != nil {
		return TurnResult{}, err
	}
	if _, err := fw.Write(audio); err != nil {
		return TurnResult{}, err
	}
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return TurnResult{}, err
	}
	if err := mw.Close(); err != nil {
		return TurnResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/conversation", &buf)
	if err != nil {
		return TurnResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out conversationResponse
	if err := c.do("submit turn", req, &out); err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		TranscribedText: out.TranscribedText,
		Reply:           out.GPTResponse,
		SpeechFileURL:   c.ResolveURL(out.SpeechFileURL),
	}, nil
}

func (c *HTTPClient) StopConversation(ctx context.Context, sessionID string) (Summary, error) {
	body, _ := json.Marshal(stopConversationRequest{SessionID: sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/stop_conversation", bytes.NewReader(body))
	if err != nil {
		return Summary{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out stopConversationResponse
	if err := c.do("stop conversation", req, &out); err != nil {
		return Summary{}, err
	}
	return Summary{FileURL: c.ResolveURL(out.SummaryFile)}, nil
}

// audioFilename picks the upload filename extension from the recording's
// MIME type.
func audioFilename(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return "audio.wav"
	case strings.Contains(mimeType, "webm"):
		return "audio.webm"
	case strings.Contains(mimeType, "ogg"):
		return "audio.ogg"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return "audio.mp3"
	}
	return "audio.bin"
}

// ResolveURL makes a server-relative reference (e.g. "/audio/q1.mp3")
// absolute against the backend base URL. Absolute references pass through.
func (c *HTTPClient) ResolveURL(ref string) string {
	if ref == "" || strings.Contains(ref, "://") {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.BaseURL + ref
}

// do performs the request and decodes a JSON response, mapping failures onto
// the error taxonomy.
func (c *HTTPClient) do(op string, req *http.Request, out interface{}) error {
	resp, err := c.Client.Do(req)
	if err != nil {
		return classify(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &SessionError{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RequestError{Op: op, Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return &RequestError{Op: op, Err: err}
}
