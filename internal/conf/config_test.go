package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromFile(t *testing.T, content string) (*Settings, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	viper.SetConfigFile(path)
	return Load()
}

func TestLoadAppliesDefaults(t *testing.T) {
	settings, err := loadFromFile(t, "user:\n  id: user-a\n")
	require.NoError(t, err)

	assert.Equal(t, "user-a", settings.User.ID)
	assert.Equal(t, DefaultDedupCooldown, settings.Notification.DedupCooldown)
	assert.Equal(t, DefaultPushThrottle, settings.Notification.PushThrottle)
	assert.InDelta(t, DefaultGeoRadius, settings.Notification.GeoRadius, 0.001)
	assert.Equal(t, "sqlite", settings.Database.Type)
	assert.Equal(t, "safetynet/changes", settings.Feed.MQTT.TopicPrefix)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	assert.Same(t, settings, GetSettings())
}

func TestLoadParsesProvidersAndDurations(t *testing.T) {
	settings, err := loadFromFile(t, `
user:
  id: user-a
  timezone: Europe/Helsinki
notification:
  pushthrottle: 45s
  push:
    retrydelay: 500ms
    providers:
      - type: webhook
        name: gateway
        enabled: true
        url: https://push.example.com/send
        headers:
          Authorization: Bearer abc
      - type: shoutrrr
        name: ntfy
        enabled: true
        urls: ["ntfy://ntfy.sh/safety"]
`)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, settings.Notification.PushThrottle)
	assert.Equal(t, 500*time.Millisecond, settings.Notification.Push.RetryDelay)
	require.Len(t, settings.Notification.Push.Providers, 2)
	assert.Equal(t, "https://push.example.com/send", settings.Notification.Push.Providers[0].URL)
	assert.Equal(t, []string{"ntfy://ntfy.sh/safety"}, settings.Notification.Push.Providers[1].URLs)

	loc, err := settings.User.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Helsinki", loc.String())
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	t.Setenv("TEST_MQTT_PASSWORD", "broker-pass")
	t.Setenv("TEST_NTFY_TOKEN", "tk_123")
	tokenFile := filepath.Join(t.TempDir(), "api-token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("s3cret\n"), 0o600))

	settings, err := loadFromFile(t, `
user:
  id: user-a
feed:
  mqtt:
    password: ${TEST_MQTT_PASSWORD}
api:
  token: file:`+tokenFile+`
notification:
  push:
    providers:
      - type: shoutrrr
        name: ntfy
        enabled: true
        urls: ["ntfy://:${TEST_NTFY_TOKEN}@ntfy.sh/safety"]
`)
	require.NoError(t, err)
	assert.Equal(t, "broker-pass", settings.Feed.MQTT.Password)
	assert.Equal(t, "s3cret", settings.API.Token)
	assert.Equal(t, []string{"ntfy://:tk_123@ntfy.sh/safety"}, settings.Notification.Push.Providers[0].URLs)

	_, err = loadFromFile(t, "user:\n  id: user-a\ntelemetry:\n  dsn: ${TEST_UNSET_SENTRY_DSN}\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry.dsn")
}

func TestLoadRejectsMissingUser(t *testing.T) {
	_, err := loadFromFile(t, "debug: true\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user.id is required")
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	valid := func() *Settings {
		return &Settings{
			User: UserSettings{ID: "a", Timezone: "UTC"},
			Feed: FeedSettings{
				MQTT: MQTTSettings{Broker: "tcp://localhost:1883", TopicPrefix: "changes"},
				REST: RESTSettings{BaseURL: "http://localhost:3000", RateLimit: 1},
			},
			Database: DatabaseSettings{Type: "sqlite", SQLite: SQLiteSettings{Path: "x.db"}},
			Notification: NotificationSettings{
				DedupCooldown: time.Minute, PushThrottle: time.Second, GeoRadius: 1,
				QueueSize: 1, Workers: 1, Push: PushSettings{Timeout: time.Second},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"bad timezone", func(s *Settings) { s.User.Timezone = "Nowhere/City" }, "user.timezone"},
		{"bad database", func(s *Settings) { s.Database.Type = "postgres" }, "database.type"},
		{"zero radius", func(s *Settings) { s.Notification.GeoRadius = 0 }, "georadius"},
		{"unknown provider", func(s *Settings) {
			s.Notification.Push.Providers = []PushProviderConfig{{Type: "pigeon", Enabled: true}}
		}, "unknown type"},
		{"disabled provider ignored", func(s *Settings) {
			s.Notification.Push.Providers = []PushProviderConfig{{Type: "pigeon"}}
		}, ""},
		{"telemetry without dsn", func(s *Settings) { s.Telemetry.Enabled = true }, "telemetry.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, DefaultConfig(), 0o600))

	settings, err := loadFromFile(t, "user:\n  id: user-b\n")
	require.NoError(t, err)
	require.NoError(t, SaveYAMLConfig(path, settings))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "user-b")
}
