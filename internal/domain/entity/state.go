package entity

// State is the sealed set of orchestrator states. The marker method keeps
// the set closed so dispatch sites can type-switch exhaustively.
//
// Every state has a path back toward Playing (via timeline refresh or
// re-registration); none is terminal.
type State interface {
	stateMarker()
}

// Loading is the initial state; nothing user-actionable is on screen.
type Loading struct{}

// RegistrationRequired means the device has no usable registration. It may
// carry a fresh QR session, or an error string when fetching one failed.
type RegistrationRequired struct {
	Session *RegistrationSession
	Err     string
}

// LicenseExpired suppresses playback while retaining registration data, so
// a later refresh with a renewed license can recover without re-pairing.
type LicenseExpired struct{}

// Playing is the normal operating state.
type Playing struct {
	Playlist      Playlist
	CacheProgress float64
}

// Failed means registration or sync failed and no cached fallback exists.
type Failed struct {
	Message string
}

func (Loading) stateMarker()              {}
func (RegistrationRequired) stateMarker() {}
func (LicenseExpired) stateMarker()       {}
func (Playing) stateMarker()              {}
func (Failed) stateMarker()               {}

// Phase names a state for logs and the status API.
func Phase(s State) string {
	switch s.(type) {
	case Loading:
		return "loading"
	case RegistrationRequired:
		return "registration_required"
	case LicenseExpired:
		return "license_expired"
	case Playing:
		return "playing"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// One-shot remote command values consumed by the front end.
const (
	CommandEnterFullscreen = "ENTER_FULLSCREEN"
	CommandExitFullscreen  = "EXIT_FULLSCREEN"
)
