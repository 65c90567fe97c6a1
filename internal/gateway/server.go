package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Jelgon94/hr-voice-agent/internal/convo"
	"github.com/Jelgon94/hr-voice-agent/internal/media"
	"github.com/Jelgon94/hr-voice-agent/internal/turn"
)

// Controller is the command surface the gateway drives. *turn.Controller
// satisfies it.
type Controller interface {
	Snapshot() turn.Snapshot
	OnChange(func(turn.Snapshot))
	SetLanguage(lang convo.Language) error
	CompleteSetup() error
	RefreshDevices(ctx context.Context) ([]media.Descriptor, []media.Descriptor, error)
	SelectDevice(kind media.Kind, deviceID string)
	StartConversation(ctx context.Context, password string) error
	SkipPlayback() error
	StartRecording(ctx context.Context) error
	StopRecording() error
	SubmitRecording(ctx context.Context) error
	ValidateSession(ctx context.Context) (bool, error)
	EnableCamera(ctx context.Context) error
	DisableCamera() error
	StopConversation(ctx context.Context) (convo.Summary, error)
}

// Server exposes the controller over HTTP: command endpoints for the UI,
// a state snapshot, a websocket event feed, and the WebRTC signaling socket.
type Server struct {
	e         *echo.Echo
	ctrl      Controller
	hub       *Hub
	signaling http.Handler
}

// New builds the configured server. signaling may be nil when no media
// bridge is mounted.
func New(ctrl Controller, signaling http.Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{e: e, ctrl: ctrl, hub: NewHub(), signaling: signaling}
	ctrl.OnChange(s.hub.Broadcast)
	s.register()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) register() {
	e := s.e
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api/state", s.state)
	e.POST("/api/commands/complete-setup", s.completeSetup)
	e.POST("/api/commands/language", s.setLanguage)
	e.POST("/api/commands/device", s.selectDevice)
	e.POST("/api/commands/devices/refresh", s.refreshDevices)
	e.POST("/api/commands/start", s.start)
	e.POST("/api/commands/validate", s.validate)
	e.POST("/api/commands/start-recording", s.startRecording)
	e.POST("/api/commands/stop-recording", s.stopRecording)
	e.POST("/api/commands/submit", s.submit)
	e.POST("/api/commands/skip", s.skip)
	e.POST("/api/commands/camera/on", s.cameraOn)
	e.POST("/api/commands/camera/off", s.cameraOff)
	e.POST("/api/commands/stop", s.stop)
	e.GET("/ws/events", s.events)
	if s.signaling != nil {
		e.GET("/ws/rtc", echo.WrapHandler(s.signaling))
	}
}

type errorBody struct {
	Error string     `json:"error"`
	State turn.State `json:"state"`
}

// command renders a uniform reply: the fresh snapshot on success, the
// mapped status plus diagnostic on failure.
func (s *Server) command(c echo.Context, err error) error {
	if err != nil {
		return c.JSON(commandStatus(err), errorBody{Error: err.Error(), State: s.ctrl.Snapshot().State})
	}
	return c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func commandStatus(err error) int {
	var ill *turn.IllegalTransitionError
	if errors.As(err, &ill) {
		return http.StatusConflict
	}
	var serr *convo.SessionError
	if errors.As(err, &serr) {
		return http.StatusUnauthorized
	}
	switch {
	case errors.Is(err, convo.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, media.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, media.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func (s *Server) state(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) completeSetup(c echo.Context) error {
	return s.command(c, s.ctrl.CompleteSetup())
}

func (s *Server) setLanguage(c echo.Context) error {
	var req struct {
		Language string `json:"language"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body", State: s.ctrl.Snapshot().State})
	}
	lang, ok := convo.ParseLanguage(req.Language)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "unknown language " + req.Language, State: s.ctrl.Snapshot().State})
	}
	return s.command(c, s.ctrl.SetLanguage(lang))
}

func (s *Server) selectDevice(c echo.Context) error {
	var req struct {
		Kind     media.Kind `json:"kind"`
		DeviceID string     `json:"device_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body", State: s.ctrl.Snapshot().State})
	}
	s.ctrl.SelectDevice(req.Kind, req.DeviceID)
	return c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) refreshDevices(c echo.Context) error {
	audio, video, err := s.ctrl.RefreshDevices(c.Request().Context())
	if err != nil {
		return c.JSON(commandStatus(err), errorBody{Error: err.Error(), State: s.ctrl.Snapshot().State})
	}
	return c.JSON(http.StatusOK, map[string][]media.Descriptor{"audio": audio, "video": video})
}

func (s *Server) start(c echo.Context) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body", State: s.ctrl.Snapshot().State})
	}
	return s.command(c, s.ctrl.StartConversation(c.Request().Context(), req.Password))
}

func (s *Server) validate(c echo.Context) error {
	valid, err := s.ctrl.ValidateSession(c.Request().Context())
	if err != nil {
		return c.JSON(commandStatus(err), errorBody{Error: err.Error(), State: s.ctrl.Snapshot().State})
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": valid})
}

func (s *Server) startRecording(c echo.Context) error {
	return s.command(c, s.ctrl.StartRecording(c.Request().Context()))
}

func (s *Server) stopRecording(c echo.Context) error {
	return s.command(c, s.ctrl.StopRecording())
}

func (s *Server) submit(c echo.Context) error {
	return s.command(c, s.ctrl.SubmitRecording(c.Request().Context()))
}

func (s *Server) skip(c echo.Context) error {
	return s.command(c, s.ctrl.SkipPlayback())
}

func (s *Server) cameraOn(c echo.Context) error {
	return s.command(c, s.ctrl.EnableCamera(c.Request().Context()))
}

func (s *Server) cameraOff(c echo.Context) error {
	return s.command(c, s.ctrl.DisableCamera())
}

type stopResponse struct {
	turn.Snapshot
	SummaryFile string `json:"summary_file"`
}

func (s *Server) stop(c echo.Context) error {
	summary, err := s.ctrl.StopConversation(c.Request().Context())
	if err != nil {
		return c.JSON(commandStatus(err), errorBody{Error: err.Error(), State: s.ctrl.Snapshot().State})
	}
	return c.JSON(http.StatusOK, stopResponse{Snapshot: s.ctrl.Snapshot(), SummaryFile: summary.FileURL})
}

func (s *Server) events(c echo.Context) error {
	s.hub.ServeWS(c.Response(), c.Request(), s.ctrl.Snapshot())
	return nil
}
