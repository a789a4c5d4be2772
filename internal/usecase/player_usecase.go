// Package usecase defines the application service ports.
package usecase

import (
	"context"

	"signage/internal/domain/entity"
)

// PlayerUsecase is the device orchestrator: it reconciles registration
// responses, timeline polls, push events and local cache state into one
// observable device state. Front ends only observe; they never mutate.
type PlayerUsecase interface {
	// Start begins the startup check, the periodic refresh and the push
	// channel subscription. Stop winds them down; in-flight calls finish
	// and their results are discarded.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// CurrentState returns the last published state.
	CurrentState() entity.State

	// OnState registers a state observer, called after every transition.
	OnState(fn func(entity.State))

	// Register binds the device to a playlist by code, asynchronously.
	Register(code string)

	// InitQRRegistration fetches a fresh pairing session, asynchronously.
	InitQRRegistration()

	// ManualDeregister notifies the server best-effort, then clears all
	// local registration state unconditionally.
	ManualDeregister()

	// CurrentSession returns the active pairing session, if any.
	CurrentSession() *entity.RegistrationSession

	// ConsumeRemoteCommand pops the pending one-shot remote command.
	// Each emitted command is delivered at most once.
	ConsumeRemoteCommand() (string, bool)

	// ReportPlaybackError records the front end's last playback failure.
	ReportPlaybackError(mediaName, message string)
	ClearPlaybackError()
	LastPlaybackError() *entity.PlaybackError

	// LicenseExpiry returns the raw license expiry last seen.
	LicenseExpiry() string

	// Connected reports the push channel link state.
	Connected() bool
}
