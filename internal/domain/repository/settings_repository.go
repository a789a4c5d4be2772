// Package repository defines the persistence ports of the domain layer.
package repository

import (
	"context"

	"signage/internal/domain/entity"
)

// SettingsRepository is the durable local store for the device's
// registration record. Multi-field writes are transactional: PlaylistID and
// the saved playlist JSON are never written independently.
type SettingsRepository interface {
	// Load returns all persisted fields; missing fields read as "".
	Load(ctx context.Context) (*entity.DeviceSettings, error)

	// SaveRegistration persists code, playlist id, device uid and the
	// playlist snapshot in one transaction.
	SaveRegistration(ctx context.Context, rec entity.RegistrationRecord) error

	// SavePlaylist persists a refreshed playlist id + snapshot pair.
	SavePlaylist(ctx context.Context, playlistID, playlistJSON string) error

	// SaveLicenseExpiry persists the raw expiry string as received.
	SaveLicenseExpiry(ctx context.Context, raw string) error

	// SaveDeviceUID persists the per-install device identifier.
	SaveDeviceUID(ctx context.Context, uid string) error

	// Reset clears every persisted field to "" in one transaction.
	Reset(ctx context.Context) error
}
