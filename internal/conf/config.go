// Package conf loads and validates the safetynet configuration.
package conf

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/safetynet-go/internal/errors"
	"github.com/tphakala/safetynet-go/internal/logger"
	"github.com/tphakala/safetynet-go/internal/secrets"
)

//go:embed config.yaml
var defaultConfigYAML []byte

// Settings is the root of the application configuration.
type Settings struct {
	Debug        bool                 `yaml:"debug"`
	User         UserSettings         `yaml:"user"`
	Feed         FeedSettings         `yaml:"feed"`
	Database     DatabaseSettings     `yaml:"database"`
	Notification NotificationSettings `yaml:"notification"`
	API          APISettings          `yaml:"api"`
	Telemetry    TelemetrySettings    `yaml:"telemetry"`
	Logging      logger.LoggingConfig `yaml:"logging"`
}

// UserSettings identifies the observing user this process serves.
type UserSettings struct {
	ID       string `yaml:"id"`       // observing user id, required
	Timezone string `yaml:"timezone"` // zone for quiet hours, "Local" or an IANA name
}

// FeedSettings configures the change feed, position feed and seed fetch.
type FeedSettings struct {
	MQTT MQTTSettings `yaml:"mqtt"`
	REST RESTSettings `yaml:"rest"`
}

// MQTTSettings configures the broker carrying change and position messages.
type MQTTSettings struct {
	Broker         string        `yaml:"broker"`                                       // tcp://host:port
	ClientID       string        `yaml:"clientid" mapstructure:"clientid"`             // empty derives one from the user id
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topicprefix" mapstructure:"topicprefix"`       // change topics are <prefix>/<table>
	PositionTopic  string        `yaml:"positiontopic" mapstructure:"positiontopic"`   // empty disables the MQTT position feed
	ConnectTimeout time.Duration `yaml:"connecttimeout" mapstructure:"connecttimeout"`
}

// RESTSettings configures the seed fetch endpoint.
type RESTSettings struct {
	BaseURL   string        `yaml:"baseurl" mapstructure:"baseurl"`
	APIKey    string        `yaml:"apikey" mapstructure:"apikey"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"ratelimit" mapstructure:"ratelimit"` // requests per second
}

// DatabaseSettings selects the in-app notification and settings store.
type DatabaseSettings struct {
	Type   string         `yaml:"type"` // sqlite or mysql
	SQLite SQLiteSettings `yaml:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql"`
}

type SQLiteSettings struct {
	Path string `yaml:"path"`
}

type MySQLSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// NotificationSettings holds the dispatcher rules and delivery tuning.
type NotificationSettings struct {
	DedupCooldown time.Duration `yaml:"dedupcooldown" mapstructure:"dedupcooldown"`
	PushThrottle  time.Duration `yaml:"pushthrottle" mapstructure:"pushthrottle"`
	GeoRadius     float64       `yaml:"georadius" mapstructure:"georadius"` // meters
	QueueSize     int           `yaml:"queuesize" mapstructure:"queuesize"`
	Workers       int           `yaml:"workers"`
	Retention     time.Duration `yaml:"retention"` // in-app records older than this are purged, 0 keeps them
	Push          PushSettings  `yaml:"push"`
}

// PushSettings configures push providers and their retry policy.
type PushSettings struct {
	Enabled    bool                 `yaml:"enabled"`
	MaxRetries int                  `yaml:"maxretries" mapstructure:"maxretries"`
	RetryDelay time.Duration        `yaml:"retrydelay" mapstructure:"retrydelay"`
	Timeout    time.Duration        `yaml:"timeout"`
	RateLimit  float64              `yaml:"ratelimit" mapstructure:"ratelimit"` // sends per second per provider
	Burst      int                  `yaml:"burst"`
	Providers  []PushProviderConfig `yaml:"providers"`
}

// PushProviderConfig describes one push provider.
type PushProviderConfig struct {
	Type    string            `yaml:"type"` // webhook or shoutrrr
	Name    string            `yaml:"name"`
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`  // webhook endpoint
	URLs    []string          `yaml:"urls"` // shoutrrr service URLs
	Headers map[string]string `yaml:"headers"`
}

// APISettings configures the HTTP API.
type APISettings struct {
	Enabled        bool     `yaml:"enabled"`
	Listen         string   `yaml:"listen"`
	Token          string   `yaml:"token"` // bearer token or its bcrypt hash, empty disables auth
	AllowedOrigins []string `yaml:"allowedorigins" mapstructure:"allowedorigins"`
	MaxConnections int      `yaml:"maxconnections" mapstructure:"maxconnections"` // 0 uses the server default
}

// TelemetrySettings configures Sentry error reporting.
type TelemetrySettings struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into a new Settings instance using the global viper,
// which the CLI has already bound to its flags.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// resolveSecrets replaces credential settings given as ${ENV} or file:<path>
// references with their values.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		key   string
		value *string
	}{
		{"feed.mqtt.password", &s.Feed.MQTT.Password},
		{"feed.rest.apikey", &s.Feed.REST.APIKey},
		{"database.mysql.password", &s.Database.MySQL.Password},
		{"api.token", &s.API.Token},
		{"telemetry.dsn", &s.Telemetry.DSN},
	}
	for _, f := range fields {
		v, err := secrets.Resolve(*f.value)
		if err != nil {
			return fmt.Errorf("error resolving %s: %w", f.key, err)
		}
		*f.value = v
	}
	for i := range s.Notification.Push.Providers {
		p := &s.Notification.Push.Providers[i]
		values := []*string{&p.URL}
		for j := range p.URLs {
			values = append(values, &p.URLs[j])
		}
		for k, h := range p.Headers {
			v, err := secrets.Resolve(h)
			if err != nil {
				return fmt.Errorf("error resolving header %s of push provider %q: %w", k, p.Name, err)
			}
			p.Headers[k] = v
		}
		for _, value := range values {
			v, err := secrets.Resolve(*value)
			if err != nil {
				return fmt.Errorf("error resolving push provider %q: %w", p.Name, err)
			}
			*value = v
		}
	}
	return nil
}

// initViper sets defaults and reads the config file, falling back to the embedded defaults.
func initViper() error {
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("SAFETYNET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	if viper.ConfigFileUsed() == "" {
		viper.SetConfigName("config")
		for _, path := range GetDefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	err := viper.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return viper.MergeConfig(bytes.NewReader(defaultConfigYAML))
	}
	return fmt.Errorf("fatal error reading config file: %w", err)
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "safetynet"))
	}
	return append(paths, "/etc/safetynet")
}

// GetSettings returns the most recently loaded settings
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DefaultConfig returns the embedded default configuration file.
func DefaultConfig() []byte {
	return bytes.Clone(defaultConfigYAML)
}

// SaveYAMLConfig writes settings to configPath atomically via a temporary file.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	return os.Rename(tmpName, configPath)
}
