// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Dispatcher rule constants. They are configurable for tests and staging
// deployments but production runs use these values.
const (
	DefaultDedupCooldown = 5 * time.Minute
	DefaultPushThrottle  = 30 * time.Second
	DefaultGeoRadius     = 10_000.0
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("user.id", "")
	viper.SetDefault("user.timezone", "Local")

	viper.SetDefault("feed.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("feed.mqtt.clientid", "")
	viper.SetDefault("feed.mqtt.username", "")
	viper.SetDefault("feed.mqtt.password", "")
	viper.SetDefault("feed.mqtt.topicprefix", "safetynet/changes")
	viper.SetDefault("feed.mqtt.positiontopic", "")
	viper.SetDefault("feed.mqtt.connecttimeout", 10*time.Second)

	viper.SetDefault("feed.rest.baseurl", "http://localhost:3000")
	viper.SetDefault("feed.rest.apikey", "")
	viper.SetDefault("feed.rest.timeout", 15*time.Second)
	viper.SetDefault("feed.rest.ratelimit", 5.0)

	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.sqlite.path", "safetynet.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", 3306)
	viper.SetDefault("database.mysql.database", "safetynet")

	viper.SetDefault("notification.dedupcooldown", DefaultDedupCooldown)
	viper.SetDefault("notification.pushthrottle", DefaultPushThrottle)
	viper.SetDefault("notification.georadius", DefaultGeoRadius)
	viper.SetDefault("notification.queuesize", 1024)
	viper.SetDefault("notification.workers", 4)
	viper.SetDefault("notification.retention", 30*24*time.Hour)
	viper.SetDefault("notification.push.enabled", true)
	viper.SetDefault("notification.push.maxretries", 3)
	viper.SetDefault("notification.push.retrydelay", 2*time.Second)
	viper.SetDefault("notification.push.timeout", 30*time.Second)
	viper.SetDefault("notification.push.ratelimit", 2.0)
	viper.SetDefault("notification.push.burst", 5)

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "127.0.0.1:8090")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.allowedorigins", []string{"*"})
	viper.SetDefault("api.maxconnections", 256)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")
	viper.SetDefault("telemetry.environment", "production")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/safetynet.log")
	viper.SetDefault("logging.file_output.level", "info")
}
