package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Jelgon94/hr-voice-agent/internal/convo"
	"github.com/Jelgon94/hr-voice-agent/internal/media"
	"github.com/Jelgon94/hr-voice-agent/internal/turn"
)

type fakeController struct {
	snap         turn.Snapshot
	startErr     error
	startRecErr  error
	submitErr    error
	stopErr      error
	summary      convo.Summary
	lastPassword string
	lastLanguage convo.Language
}

func (f *fakeController) Snapshot() turn.Snapshot        { return f.snap }
func (f *fakeController) OnChange(fn func(turn.Snapshot)) {}
func (f *fakeController) SetLanguage(lang convo.Language) error {
	f.lastLanguage = lang
	return nil
}
func (f *fakeController) CompleteSetup() error { return nil }
func (f *fakeController) RefreshDevices(ctx context.Context) ([]media.Descriptor, []media.Descriptor, error) {
	return []media.Descriptor{{ID: "mic1", Kind: media.KindAudio}}, nil, nil
}
func (f *fakeController) SelectDevice(kind media.Kind, deviceID string) {}
func (f *fakeController) StartConversation(ctx context.Context, password string) error {
	f.lastPassword = password
	return f.startErr
}
func (f *fakeController) SkipPlayback() error { return nil }
func (f *fakeController) StartRecording(ctx context.Context) error {
	return f.startRecErr
}
func (f *fakeController) StopRecording() error                          { return nil }
func (f *fakeController) SubmitRecording(ctx context.Context) error     { return f.submitErr }
func (f *fakeController) ValidateSession(ctx context.Context) (bool, error) { return true, nil }
func (f *fakeController) EnableCamera(ctx context.Context) error        { return nil }
func (f *fakeController) DisableCamera() error                          { return nil }
func (f *fakeController) StopConversation(ctx context.Context) (convo.Summary, error) {
	return f.summary, f.stopErr
}

func newTestServer(fc *fakeController) *httptest.Server {
	return httptest.NewServer(New(fc, nil).Handler())
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(&fakeController{})
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServer_StateReturnsSnapshot(t *testing.T) {
	fc := &fakeController{snap: turn.Snapshot{State: turn.StateAwaitingUserRecording, SessionID: "S1"}}
	ts := newTestServer(fc)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var snap turn.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State != turn.StateAwaitingUserRecording || snap.SessionID != "S1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestServer_StartPassesPassword(t *testing.T) {
	fc := &fakeController{snap: turn.Snapshot{State: turn.StateAiSpeaking}}
	ts := newTestServer(fc)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/commands/start", map[string]string{"password": "hunter2"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if fc.lastPassword != "hunter2" {
		t.Fatalf("password not forwarded, got %q", fc.lastPassword)
	}
}

func TestServer_IllegalCommandIsConflict(t *testing.T) {
	fc := &fakeController{
		snap:        turn.Snapshot{State: turn.StateSetup},
		startRecErr: &turn.IllegalTransitionError{Command: "start-recording", State: turn.StateSetup},
	}
	ts := newTestServer(fc)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/commands/start-recording", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == "" || body.State != turn.StateSetup {
		t.Fatalf("expected diagnostic with state, got %+v", body)
	}
}

func TestServer_ErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"session", &convo.SessionError{Status: 401, Message: "bad password"}, http.StatusUnauthorized},
		{"timeout", convo.ErrTimeout, http.StatusGatewayTimeout},
		{"permission", media.ErrPermissionDenied, http.StatusForbidden},
		{"device", media.ErrDeviceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fc := &fakeController{startErr: tc.err}
			ts := newTestServer(fc)
			defer ts.Close()
			resp := postJSON(t, ts.URL+"/api/commands/start", map[string]string{"password": "x"})
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestServer_StopReturnsSummaryFile(t *testing.T) {
	fc := &fakeController{
		snap:    turn.Snapshot{State: turn.StateFinished},
		summary: convo.Summary{FileURL: "http://backend/summaries/s1.pdf"},
	}
	ts := newTestServer(fc)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/commands/stop", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body stopResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SummaryFile != "http://backend/summaries/s1.pdf" {
		t.Fatalf("unexpected summary file %q", body.SummaryFile)
	}
	if body.State != turn.StateFinished {
		t.Fatalf("expected Finished, got %s", body.State)
	}
}

func TestServer_BadLanguageRejected(t *testing.T) {
	ts := newTestServer(&fakeController{})
	defer ts.Close()
	resp := postJSON(t, ts.URL+"/api/commands/language", map[string]string{"language": "XX"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
