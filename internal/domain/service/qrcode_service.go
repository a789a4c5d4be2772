package service

import "signage/internal/domain/entity"

// QRCodeService renders a registration session as a scannable image for
// whatever front end paints the pairing screen.
type QRCodeService interface {
	RegistrationPNG(session *entity.RegistrationSession) ([]byte, error)
}
