// Package backend implements the REST client for the signage backend,
// classifying every response into success, license-expired,
// device-deregistered or generic failure.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strings"

	"signage/config"
	"signage/internal/domain/entity"
	domainerrors "signage/internal/domain/errors"
	"signage/internal/domain/service"

	"github.com/pkg/errors"
)

// Client implements service.BackendService over net/http.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient is the constructor for Client.
func NewClient(cfg *config.Config, logger *slog.Logger) service.BackendService {
	return &Client{
		baseURL: strings.TrimRight(cfg.Backend.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Backend.RequestTimeout,
		},
		logger: logger,
	}
}

// InitRegistration creates a QR pairing session for this device.
func (c *Client) InitRegistration(ctx context.Context, deviceID string) (*entity.RegistrationSession, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/api/device/init-registration", initRegistrationRequest{DeviceID: deviceID})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.Errorf("init-registration failed with status %d", status)
	}

	var resp initRegistrationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to decode init-registration response")
	}
	if !resp.Success || resp.Data == nil {
		return nil, errors.Errorf("init-registration rejected: %s", resp.Message)
	}

	return resp.Data, nil
}

// Register binds the device to a playlist by code. A 403 classifies as
// license-expired, carrying any license fragment the error body held.
func (c *Client) Register(ctx context.Context, code, uid string) (*entity.RegistrationResult, error) {
	req := registerRequest{
		PlaylistCode: code,
		UID:          uid,
		DeviceInfo: map[string]any{
			"platform": runtime.GOOS,
			"arch":     runtime.GOARCH,
		},
	}

	body, status, err := c.do(ctx, http.MethodPost, "/playlists/device/register", req)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusForbidden:
		return nil, &domainerrors.LicenseExpiredError{License: licenseFragment(body)}
	case status < 200 || status > 299:
		return nil, errors.Errorf("register failed with status %d", status)
	}

	result, err := entity.DecodeRegistrationResult(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode register response")
	}

	return result, nil
}

// Timeline fetches the playlist's current item list and license. 403 is
// license-expired, 410 is device-deregistered.
func (c *Client) Timeline(ctx context.Context, playlistID, deviceUID string) (*entity.TimelineResult, error) {
	path := fmt.Sprintf("/api/playlists/%s/timeline", url.PathEscape(playlistID))
	if deviceUID != "" {
		path += "?deviceUID=" + url.QueryEscape(deviceUID)
	}

	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusForbidden:
		return nil, &domainerrors.LicenseExpiredError{License: licenseFragment(body)}
	case status == http.StatusGone:
		return nil, domainerrors.ErrDeviceDeregistered
	case status != http.StatusOK:
		return nil, errors.Errorf("timeline failed with status %d", status)
	}

	var resp timelineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to decode timeline response")
	}
	if !resp.Success && !resp.DeviceDeleted {
		// A rejected poll must not replace a playable timeline; the license
		// fragment still flows through so an expiry is never missed.
		c.logger.Warn("timeline reported success=false", slog.String("message", resp.Message))
		resp.Items = nil
	}

	return &entity.TimelineResult{
		Items:         resp.Items,
		License:       resp.License,
		DeviceDeleted: resp.DeviceDeleted,
	}, nil
}

// Deregister removes the device binding server-side.
func (c *Client) Deregister(ctx context.Context, uid string) error {
	path := "/api/device/deregister/" + url.PathEscape(uid)
	_, status, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return errors.Errorf("deregister failed with status %d", status)
	}

	return nil
}

// do issues one request and returns the raw body and status. Transport and
// encode errors are generic failures by definition.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to encode request body")
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "failed to read response body")
	}

	return body, resp.StatusCode, nil
}

// licenseFragment best-effort extracts a license payload from an error
// body. A malformed body yields nil; the classification stands either way.
func licenseFragment(body []byte) *entity.LicenseInfo {
	result, err := entity.DecodeRegistrationResult(body)
	if err != nil {
		return nil
	}

	return result.License
}
