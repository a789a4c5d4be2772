// Package errors defines the classified error taxonomy the orchestrator
// branches on. Backend calls resolve to exactly one of: success,
// license-expired, device-deregistered, or a generic failure.
package errors

import (
	"signage/internal/domain/entity"
	"signage/internal/errors"
)

// ErrDeviceDeregistered signals the backend no longer knows this device
// (HTTP 410 on the timeline, or deviceDeleted in a successful poll).
var ErrDeviceDeregistered = errors.New("device has been deregistered")

// LicenseExpiredError signals a license rejection (HTTP 403). It carries
// whatever partial license payload the error body contained, so the
// orchestrator can persist the expiry even from a failed call.
type LicenseExpiredError struct {
	License *entity.LicenseInfo
}

func (e *LicenseExpiredError) Error() string {
	return "license expired"
}

// AsLicenseExpired extracts a LicenseExpiredError from err's tree.
func AsLicenseExpired(err error) (*LicenseExpiredError, bool) {
	return errors.AsType[*LicenseExpiredError](err)
}

// IsDeviceDeregistered reports whether err classifies as a deregistration.
func IsDeviceDeregistered(err error) bool {
	return errors.Is(err, ErrDeviceDeregistered)
}
