package handler

import (
	"log/slog"
	"net/http"

	"signage/internal/delivery/http/response"
	"signage/internal/domain/entity"
	"signage/internal/domain/service"
	"signage/internal/usecase"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// PlayerHandlerParams holds dependencies for PlayerHandler, injected by Fx.
type PlayerHandlerParams struct {
	fx.In

	PlayerUC usecase.PlayerUsecase
	QRCode   service.QRCodeService
	Logger   *slog.Logger
}

// PlayerHandler exposes the device state to the local playback front end.
// All endpoints are read-or-trigger: the orchestrator owns every state
// transition, the handler never mutates state directly.
type PlayerHandler struct {
	playerUC usecase.PlayerUsecase
	qrcode   service.QRCodeService
	logger   *slog.Logger
}

// NewPlayerHandler is the constructor for PlayerHandler
func NewPlayerHandler(params PlayerHandlerParams) *PlayerHandler {
	return &PlayerHandler{
		playerUC: params.PlayerUC,
		qrcode:   params.QRCode,
		logger:   params.Logger,
	}
}

// RegisterRequest represents the request body for registering by code
type RegisterRequest struct {
	Code string `json:"code" validate:"required"`
}

// PlaybackErrorRequest represents a playback failure report
type PlaybackErrorRequest struct {
	MediaName string `json:"mediaName"`
	Message   string `json:"message" validate:"required"`
}

// statusResponse is the full device status snapshot.
type statusResponse struct {
	Phase         string                      `json:"phase"`
	Connected     bool                        `json:"connected"`
	LicenseExpiry string                      `json:"licenseExpiry,omitempty"`
	Playlist      *entity.Playlist            `json:"playlist,omitempty"`
	CacheProgress *float64                    `json:"cacheProgress,omitempty"`
	Session       *entity.RegistrationSession `json:"session,omitempty"`
	Error         string                      `json:"error,omitempty"`
	PlaybackError *entity.PlaybackError       `json:"playbackError,omitempty"`
}

// Status returns the current device state snapshot
func (h *PlayerHandler) Status(c echo.Context) error {
	state := h.playerUC.CurrentState()
	status := statusResponse{
		Phase:         entity.Phase(state),
		Connected:     h.playerUC.Connected(),
		LicenseExpiry: h.playerUC.LicenseExpiry(),
		PlaybackError: h.playerUC.LastPlaybackError(),
	}

	switch s := state.(type) {
	case entity.Playing:
		playlist := s.Playlist
		progress := s.CacheProgress
		status.Playlist = &playlist
		status.CacheProgress = &progress
	case entity.RegistrationRequired:
		status.Session = s.Session
		status.Error = s.Err
	case entity.Failed:
		status.Error = s.Message
	}

	return response.Success(c, http.StatusOK, status, "Device status retrieved")
}

// RegistrationQR renders the active pairing session as a PNG
func (h *PlayerHandler) RegistrationQR(c echo.Context) error {
	session := h.playerUC.CurrentSession()
	if session == nil {
		return response.NotFound(c, "NO_SESSION", "No active registration session")
	}

	png, err := h.qrcode.RegistrationPNG(session)
	if err != nil {
		h.logger.Error("failed to render registration QR", slog.Any("error", err))

		return response.InternalServerError(c, "QR_RENDER_FAILED", "Failed to render QR code")
	}

	return c.Blob(http.StatusOK, "image/png", png)
}

// Register triggers registration by playlist code
func (h *PlayerHandler) Register(c echo.Context) error {
	if _, playing := h.playerUC.CurrentState().(entity.Playing); playing {
		return response.Conflict(c, "ALREADY_REGISTERED", "Device is already playing a playlist")
	}

	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid registration input")
	}

	if err := c.Validate(&req); err != nil {
		return response.BadRequest(c, "VALIDATION_ERROR", err.Error())
	}

	h.playerUC.Register(req.Code)

	return response.Success(c, http.StatusAccepted, nil, "Registration started")
}

// Deregister clears the device registration
func (h *PlayerHandler) Deregister(c echo.Context) error {
	h.playerUC.ManualDeregister()

	return response.Success(c, http.StatusAccepted, nil, "Deregistration started")
}

// Command pops the pending one-shot remote command, if any
func (h *PlayerHandler) Command(c echo.Context) error {
	cmd, ok := h.playerUC.ConsumeRemoteCommand()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}

	return response.Success(c, http.StatusOK, map[string]string{"command": cmd}, "Command delivered")
}

// ReportPlaybackError records a playback failure from the front end
func (h *PlayerHandler) ReportPlaybackError(c echo.Context) error {
	var req PlaybackErrorRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid playback error input")
	}

	if err := c.Validate(&req); err != nil {
		return response.BadRequest(c, "VALIDATION_ERROR", err.Error())
	}

	h.playerUC.ReportPlaybackError(req.MediaName, req.Message)

	return response.Success(c, http.StatusOK, nil, "Playback error recorded")
}

// ClearPlaybackError clears the recorded playback failure
func (h *PlayerHandler) ClearPlaybackError(c echo.Context) error {
	h.playerUC.ClearPlaybackError()

	return response.Success(c, http.StatusOK, nil, "Playback error cleared")
}
