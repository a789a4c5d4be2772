package qrcode

import (
	"signage/config"
	"signage/internal/domain/entity"
	"signage/internal/domain/service"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
)

type qrcodeService struct {
	size                 int
	errorCorrectionLevel qrcode.RecoveryLevel
}

// NewQRCodeService creates a new QR code service instance
func NewQRCodeService(cfg *config.Config) service.QRCodeService {
	size := 512
	levelName := "M"
	if cfg.QRCode != nil {
		if cfg.QRCode.Size > 0 {
			size = cfg.QRCode.Size
		}
		if cfg.QRCode.ErrorCorrectionLevel != "" {
			levelName = cfg.QRCode.ErrorCorrectionLevel
		}
	}

	var level qrcode.RecoveryLevel
	switch levelName {
	case "L":
		level = qrcode.Low
	case "M":
		level = qrcode.Medium
	case "Q":
		level = qrcode.High
	case "H":
		level = qrcode.Highest
	default:
		level = qrcode.Medium
	}

	return &qrcodeService{
		size:                 size,
		errorCorrectionLevel: level,
	}
}

// RegistrationPNG renders the pairing session as a PNG. The backend's QR
// payload wins; the plain registration URL is the fallback for older
// backends that only send the link.
func (s *qrcodeService) RegistrationPNG(session *entity.RegistrationSession) ([]byte, error) {
	if session == nil {
		return nil, errors.New("no registration session")
	}

	payload := session.QRPayload
	if payload == "" {
		payload = session.RegistrationURL
	}
	if payload == "" {
		return nil, errors.New("registration session carries no QR payload")
	}

	code, err := qrcode.New(payload, s.errorCorrectionLevel)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create QR code")
	}

	png, err := code.PNG(s.size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to render QR PNG")
	}

	return png, nil
}
