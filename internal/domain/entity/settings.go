package entity

import "time"

// DeviceSettings is the durable local registration record. Empty string is
// the canonical "absent" value for every field.
type DeviceSettings struct {
	PlaylistCode  string
	PlaylistID    string
	DeviceUID     string
	SavedPlaylist string // serialized Playlist JSON
	LicenseExpiry string // raw expiry string, parsed lazily
}

// RegistrationRecord is what gets persisted, atomically, when a
// registration succeeds. PlaylistID and PlaylistJSON travel together so the
// stored id and the stored snapshot can never diverge.
type RegistrationRecord struct {
	PlaylistCode string
	PlaylistID   string
	DeviceUID    string
	PlaylistJSON string
}

// PlaybackError is the last error reported by the playback front end.
// Transient; never persisted.
type PlaybackError struct {
	MediaName string    `json:"mediaName"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
