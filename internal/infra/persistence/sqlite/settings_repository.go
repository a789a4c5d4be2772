package sqlite

import (
	"context"

	"signage/internal/domain/entity"
	"signage/internal/domain/repository"
	"signage/internal/infra/persistence/model"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Persisted setting keys. Empty string is the absent sentinel for all of
// them, so Reset writes "" rather than deleting rows.
const (
	keyPlaylistCode  = "playlist_code"
	keyPlaylistID    = "playlist_id"
	keyDeviceUID     = "device_uid"
	keySavedPlaylist = "saved_playlist"
	keyLicenseExpiry = "license_expiry"
)

var allKeys = []string{keyPlaylistCode, keyPlaylistID, keyDeviceUID, keySavedPlaylist, keyLicenseExpiry}

// settingsRepository implements repository.SettingsRepository.
type settingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository is the constructor for settingsRepository.
func NewSettingsRepository(db *gorm.DB) repository.SettingsRepository {
	return &settingsRepository{
		db: db,
	}
}

// Load returns all persisted fields; missing rows read as "".
func (repo *settingsRepository) Load(ctx context.Context) (*entity.DeviceSettings, error) {
	var rows []model.SettingModel
	if err := repo.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load device settings")
	}

	settings := &entity.DeviceSettings{}
	for _, row := range rows {
		switch row.Key {
		case keyPlaylistCode:
			settings.PlaylistCode = row.Value
		case keyPlaylistID:
			settings.PlaylistID = row.Value
		case keyDeviceUID:
			settings.DeviceUID = row.Value
		case keySavedPlaylist:
			settings.SavedPlaylist = row.Value
		case keyLicenseExpiry:
			settings.LicenseExpiry = row.Value
		}
	}

	return settings, nil
}

// SaveRegistration persists the full registration record in one transaction.
func (repo *settingsRepository) SaveRegistration(ctx context.Context, rec entity.RegistrationRecord) error {
	values := map[string]string{
		keyPlaylistCode:  rec.PlaylistCode,
		keyPlaylistID:    rec.PlaylistID,
		keyDeviceUID:     rec.DeviceUID,
		keySavedPlaylist: rec.PlaylistJSON,
	}

	return repo.setAll(ctx, values)
}

// SavePlaylist persists a refreshed id + snapshot pair together, keeping
// the stored id and the stored JSON in agreement.
func (repo *settingsRepository) SavePlaylist(ctx context.Context, playlistID, playlistJSON string) error {
	return repo.setAll(ctx, map[string]string{
		keyPlaylistID:    playlistID,
		keySavedPlaylist: playlistJSON,
	})
}

// SaveLicenseExpiry persists the raw expiry string as received.
func (repo *settingsRepository) SaveLicenseExpiry(ctx context.Context, raw string) error {
	return repo.setAll(ctx, map[string]string{keyLicenseExpiry: raw})
}

// SaveDeviceUID persists the per-install device identifier.
func (repo *settingsRepository) SaveDeviceUID(ctx context.Context, uid string) error {
	return repo.setAll(ctx, map[string]string{keyDeviceUID: uid})
}

// Reset clears every persisted field to "" in one transaction.
func (repo *settingsRepository) Reset(ctx context.Context) error {
	values := make(map[string]string, len(allKeys))
	for _, key := range allKeys {
		values[key] = ""
	}

	return repo.setAll(ctx, values)
}

func (repo *settingsRepository) setAll(ctx context.Context, values map[string]string) error {
	err := repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			row := model.SettingModel{Key: key, Value: value}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to write device settings")
	}

	return nil
}
