package entity

import "encoding/json"

// RegistrationSession is the short-lived QR pairing session returned by
// init-registration. It is never persisted across restarts.
type RegistrationSession struct {
	SessionToken    string `json:"sessionToken"`
	QRPayload       string `json:"qrPayload"`
	RegistrationURL string `json:"registrationUrl"`
	ExpiresAt       string `json:"expiresAt"`
}

// DeviceRecord is the backend's view of this device.
type DeviceRecord struct {
	ID  string `json:"id"`
	UID string `json:"uid"`
}

// RegistrationResult is the classified payload of a successful register
// call or a registration:complete push event.
type RegistrationResult struct {
	Playlist *Playlist
	Device   *DeviceRecord
	License  *LicenseInfo
	Message  string
}

// TimelineResult is the classified payload of a timeline poll.
type TimelineResult struct {
	Items         []PlaylistItem
	License       *LicenseInfo
	DeviceDeleted bool
}

// registrationEnvelope mirrors the two response shapes the backend emits
// for registration: fields either wrapped under "data" or at the top level.
type registrationEnvelope struct {
	Success  bool                 `json:"success"`
	Message  string               `json:"message"`
	Data     *registrationPayload `json:"data"`
	Playlist *Playlist            `json:"playlist"`
	Device   *DeviceRecord        `json:"device"`
	License  *LicenseInfo         `json:"license"`
}

type registrationPayload struct {
	Device   *DeviceRecord `json:"device"`
	Playlist *Playlist     `json:"playlist"`
	License  *LicenseInfo  `json:"license"`
}

// DecodeRegistrationResult decodes a registration payload, resolving the
// wrapped-versus-top-level ambiguity once for every caller: the "data"
// wrapper wins, top-level fields are the fallback. This is the single
// place that precedence is defined.
func DecodeRegistrationResult(raw []byte) (*RegistrationResult, error) {
	var env registrationEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	return env.result(), nil
}

func (env *registrationEnvelope) result() *RegistrationResult {
	res := &RegistrationResult{
		Playlist: env.Playlist,
		Device:   env.Device,
		License:  env.License,
		Message:  env.Message,
	}
	if env.Data != nil {
		if env.Data.Playlist != nil {
			res.Playlist = env.Data.Playlist
		}
		if env.Data.Device != nil {
			res.Device = env.Data.Device
		}
		if env.Data.License != nil {
			res.License = env.Data.License
		}
	}

	return res
}
