// Package service defines the external-collaborator ports of the domain layer.
package service

import (
	"context"

	"signage/internal/domain/entity"
)

// BackendService is the typed REST surface of the signage backend. Every
// call classifies its outcome: a nil error with payload, a
// *domainerrors.LicenseExpiredError, domainerrors.ErrDeviceDeregistered, or
// a generic failure. The orchestrator branches on the classification, never
// on raw status codes.
type BackendService interface {
	// InitRegistration creates a QR pairing session for this device.
	InitRegistration(ctx context.Context, deviceID string) (*entity.RegistrationSession, error)

	// Register binds the device to a playlist by code.
	Register(ctx context.Context, code, uid string) (*entity.RegistrationResult, error)

	// Timeline fetches the playlist's current item list and license.
	Timeline(ctx context.Context, playlistID, deviceUID string) (*entity.TimelineResult, error)

	// Deregister removes the device binding server-side. Best effort; the
	// caller's local reset must not depend on it succeeding.
	Deregister(ctx context.Context, uid string) error
}
