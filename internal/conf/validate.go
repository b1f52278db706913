// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) error{
		validateUserSettings,
		validateFeedSettings,
		validateDatabaseSettings,
		validateNotificationSettings,
		validateAPISettings,
		validateTelemetrySettings,
	} {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateUserSettings(s *Settings) error {
	if strings.TrimSpace(s.User.ID) == "" {
		return fmt.Errorf("user.id is required")
	}
	if _, err := s.User.Location(); err != nil {
		return fmt.Errorf("user.timezone: %w", err)
	}
	return nil
}

func validateFeedSettings(s *Settings) error {
	if _, err := url.Parse(s.Feed.MQTT.Broker); err != nil || s.Feed.MQTT.Broker == "" {
		return fmt.Errorf("feed.mqtt.broker must be a valid URL")
	}
	if strings.TrimSpace(s.Feed.MQTT.TopicPrefix) == "" {
		return fmt.Errorf("feed.mqtt.topicprefix is required")
	}
	if u, err := url.Parse(s.Feed.REST.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("feed.rest.baseurl must be an absolute URL")
	}
	if s.Feed.REST.RateLimit <= 0 {
		return fmt.Errorf("feed.rest.ratelimit must be positive")
	}
	return nil
}

func validateDatabaseSettings(s *Settings) error {
	switch s.Database.Type {
	case "sqlite":
		if s.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "mysql":
		if s.Database.MySQL.Host == "" || s.Database.MySQL.Database == "" {
			return fmt.Errorf("database.mysql.host and database.mysql.database are required")
		}
	default:
		return fmt.Errorf("database.type must be sqlite or mysql, got %q", s.Database.Type)
	}
	return nil
}

func validateNotificationSettings(s *Settings) error {
	n := &s.Notification
	if n.DedupCooldown <= 0 || n.PushThrottle <= 0 {
		return fmt.Errorf("notification.dedupcooldown and notification.pushthrottle must be positive")
	}
	if n.GeoRadius <= 0 {
		return fmt.Errorf("notification.georadius must be positive")
	}
	if n.QueueSize <= 0 || n.Workers <= 0 {
		return fmt.Errorf("notification.queuesize and notification.workers must be positive")
	}
	if n.Retention < 0 {
		return fmt.Errorf("notification.retention must not be negative")
	}
	if n.Push.MaxRetries < 0 || n.Push.RetryDelay < 0 || n.Push.Timeout <= 0 {
		return fmt.Errorf("notification.push retry settings are invalid")
	}
	for i, p := range n.Push.Providers {
		if !p.Enabled {
			continue
		}
		switch p.Type {
		case "webhook":
			if u, err := url.Parse(p.URL); err != nil || u.Scheme == "" {
				return fmt.Errorf("notification.push.providers[%d]: webhook url is invalid", i)
			}
		case "shoutrrr":
			if len(p.URLs) == 0 {
				return fmt.Errorf("notification.push.providers[%d]: shoutrrr requires urls", i)
			}
		default:
			return fmt.Errorf("notification.push.providers[%d]: unknown type %q", i, p.Type)
		}
	}
	return nil
}

func validateAPISettings(s *Settings) error {
	if s.API.Enabled && s.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	if s.API.Enabled {
		if _, _, err := net.SplitHostPort(s.API.Listen); err != nil {
			return fmt.Errorf("api.listen %q: %w", s.API.Listen, err)
		}
	}
	if s.API.MaxConnections < 0 {
		return fmt.Errorf("api.maxconnections must not be negative")
	}
	return nil
}

func validateTelemetrySettings(s *Settings) error {
	if s.Telemetry.Enabled && s.Telemetry.DSN == "" {
		return fmt.Errorf("telemetry.dsn is required when telemetry is enabled")
	}
	return nil
}

// Location resolves the configured timezone.
func (u UserSettings) Location() (*time.Location, error) {
	if u.Timezone == "" || u.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(u.Timezone)
}
