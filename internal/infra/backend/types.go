package backend

import "signage/internal/domain/entity"

// Wire shapes of the backend REST API. Registration bodies go through
// entity.DecodeRegistrationResult, which owns the wrapped/top-level
// fallback; only the timeline and init-registration envelopes live here.

type initRegistrationResponse struct {
	Success bool                        `json:"success"`
	Message string                      `json:"message"`
	Data    *entity.RegistrationSession `json:"data"`
}

type timelineResponse struct {
	Success       bool                  `json:"success"`
	Message       string                `json:"message"`
	Items         []entity.PlaylistItem `json:"data"`
	License       *entity.LicenseInfo   `json:"license"`
	DeviceDeleted bool                  `json:"deviceDeleted"`
}

type registerRequest struct {
	PlaylistCode string         `json:"playlistCode"`
	UID          string         `json:"uid"`
	DeviceInfo   map[string]any `json:"deviceInfo"`
}

type initRegistrationRequest struct {
	DeviceID string `json:"deviceId"`
}
