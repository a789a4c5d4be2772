package service

import (
	"context"
	"encoding/json"
)

// Server-to-client event names on the push channel.
const (
	EventRegistrationComplete = "registration:complete"
	EventFullscreenEnter      = "device:command:fullscreen-enter"
	EventFullscreenExit       = "device:command:fullscreen-exit"
	EventForceDeregister      = "device:force-deregister"
)

// Client-to-server emission names.
const (
	EmitDeviceJoin    = "device:join"
	EmitPlayerConnect = "device:player:connect"
	EmitPing          = "device:ping"
)

// Event is one inbound push message.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RealtimeService is the long-lived push channel. The connection is owned
// by the implementation: reconnection is automatic and invisible to the
// orchestrator, which only observes the connected flag. Connection state by
// itself never forces a state transition.
type RealtimeService interface {
	// Start opens the channel and keeps it open until Close or ctx end.
	Start(ctx context.Context)

	// Events delivers inbound push events in arrival order.
	Events() <-chan Event

	// Connected reports the current link state.
	Connected() bool

	// OnStatusChange registers a connect/disconnect observer. Must be
	// called before Start.
	OnStatusChange(fn func(connected bool))

	// JoinDevice enters the device-scoped room so registration-completion
	// events addressed to this device are delivered. Re-sent on reconnect.
	JoinDevice(deviceID string)

	// ConnectPlayer announces the playing device. Re-sent on reconnect.
	ConnectPlayer(uid, playlistID string)

	// Ping is the heartbeat emitted while playing.
	Ping(uid string)

	// Close tears the channel down for good.
	Close() error
}
