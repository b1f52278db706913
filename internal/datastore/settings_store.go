package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/settings"
)

var _ settings.Store = (*Store)(nil)

// LoadSettings returns the user's stored settings; found is false when none exist.
func (s *Store) LoadSettings(ctx context.Context, userID string) (settings.Settings, bool, error) {
	var m NotificationSettings
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return settings.Settings{}, false, nil
	}
	if err != nil {
		return settings.Settings{}, false, dbError(err, "load_settings", errors.PriorityMedium, "user_id", userID)
	}
	return m.toSettings(), true, nil
}

// SaveSettings upserts the user's settings.
func (s *Store) SaveSettings(ctx context.Context, userID string, st settings.Settings) error {
	if userID == "" {
		return validationError("user id is required", "user_id")
	}
	m := settingsToModel(userID, st)

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"push_enabled",
			"sound_enabled",
			"vibration_enabled",
			"panic_override",
			"quiet_hours_enabled",
			"quiet_hours_start",
			"quiet_hours_end",
			"updated_at",
		}),
	}).Create(&m).Error
	if err != nil {
		return dbError(err, "save_settings", errors.PriorityMedium, "user_id", userID)
	}
	return nil
}
