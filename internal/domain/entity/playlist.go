// Package entity contains the core business objects of the player.
package entity

import "strings"

// Playlist is the device's current playable timeline. Identity is ID;
// Items are replaced wholesale on every accepted timeline refresh and
// their order is the playback order.
type Playlist struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Code  string         `json:"code"`
	Items []PlaylistItem `json:"items"`
}

// PlaylistItem is one slot in the timeline. An item without media is a
// no-op slot the player skips or holds black on.
type PlaylistItem struct {
	ID       string      `json:"id"`
	Order    int         `json:"order"`
	Duration int         `json:"duration"`
	Media    *MediaAsset `json:"video,omitempty"`
}

// MediaAsset describes a remote media file. FileName is the on-disk
// cache key.
type MediaAsset struct {
	ID       string  `json:"id"`
	FileName string  `json:"fileName"`
	FilePath string  `json:"filePath,omitempty"`
	MimeType string  `json:"mimeType"`
	Duration float64 `json:"duration,omitempty"`
	FileSize int64   `json:"fileSize,omitempty"`
}

// IsVideo reports whether the asset plays through the video pipeline.
// Anything else is rendered as a still image.
func (m *MediaAsset) IsVideo() bool {
	return strings.HasPrefix(m.MimeType, "video")
}
