package datastore

import (
	"time"

	"github.com/tphakala/safetynet-go/internal/settings"
)

// NotificationData carries what a client needs to navigate to the subject of a
// notification.
type NotificationData struct {
	URL         string   `json:"url"`
	RelatedType string   `json:"relatedType"`
	RelatedID   string   `json:"relatedId"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
}

// Notification is one persisted in-app notification.
type Notification struct {
	ID         string           `gorm:"primaryKey;size:36" json:"id"`
	UserID     string           `gorm:"size:64;not null;index:idx_notifications_user_created,priority:1" json:"userId"`
	Type       string           `gorm:"size:64;not null" json:"type"`
	Title      string           `gorm:"size:255" json:"title"`
	Body       string           `gorm:"type:text" json:"body"`
	Priority   string           `gorm:"size:16;not null" json:"priority"`
	EntityID   string           `gorm:"size:64;index" json:"entityId"`
	EntityType string           `gorm:"size:64" json:"entityType"`
	DedupKey   string           `gorm:"size:255;index" json:"dedupKey"`
	Data       NotificationData `gorm:"serializer:json;type:text" json:"data"`
	Read       bool             `gorm:"column:is_read;not null" json:"read"`
	CreatedAt  time.Time        `gorm:"index:idx_notifications_user_created,priority:2" json:"createdAt"`
}

// NotificationSettings is the persisted form of settings.Settings.
type NotificationSettings struct {
	UserID            string `gorm:"primaryKey;size:64"`
	PushEnabled       bool   `gorm:"not null"`
	SoundEnabled      bool   `gorm:"not null"`
	VibrationEnabled  bool   `gorm:"not null"`
	PanicOverride     bool   `gorm:"not null"`
	QuietHoursEnabled bool   `gorm:"not null"`
	QuietHoursStart   string `gorm:"size:5"`
	QuietHoursEnd     string `gorm:"size:5"`
	UpdatedAt         time.Time
}

func settingsToModel(userID string, s settings.Settings) NotificationSettings {
	return NotificationSettings{
		UserID:            userID,
		PushEnabled:       s.PushEnabled,
		SoundEnabled:      s.SoundEnabled,
		VibrationEnabled:  s.VibrationEnabled,
		PanicOverride:     s.PanicOverride,
		QuietHoursEnabled: s.QuietHours.Enabled,
		QuietHoursStart:   s.QuietHours.Start,
		QuietHoursEnd:     s.QuietHours.End,
	}
}

func (m NotificationSettings) toSettings() settings.Settings {
	return settings.Settings{
		PushEnabled:      m.PushEnabled,
		SoundEnabled:     m.SoundEnabled,
		VibrationEnabled: m.VibrationEnabled,
		PanicOverride:    m.PanicOverride,
		QuietHours: settings.QuietHours{
			Enabled: m.QuietHoursEnabled,
			Start:   m.QuietHoursStart,
			End:     m.QuietHoursEnd,
		},
	}
}
