// Package sqlite contains the concrete implementation of the persistence
// layer using GORM on a device-local SQLite file.
package sqlite

import (
	"log/slog"
	"os"
	"path/filepath"

	"signage/config"
	"signage/internal/infra/persistence/model"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Params defines the required parameters
type Params struct {
	fx.In

	Config *config.Config
	Logger *slog.Logger
}

// New opens the settings database and migrates the schema.
func New(params Params) (*gorm.DB, error) {
	path := params.Config.Store.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create store directory")
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		// Explicit transactions only; repository methods group multi-key
		// writes themselves.
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open settings database")
	}

	if err := db.AutoMigrate(&model.SettingModel{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate settings schema")
	}

	params.Logger.Info("settings store ready", slog.String("path", path))

	return db, nil
}
