package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Scheduling  SchedulingConfig  `mapstructure:"scheduling"`
	Safety      SafetyConfig      `mapstructure:"safety"`
	Alarms      AlarmsConfig      `mapstructure:"alarms"`
	SystemState SystemStateConfig `mapstructure:"system_state"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Influx      InfluxConfig      `mapstructure:"influx"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// MQTT broker connection
type MQTTConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	UseTLS           bool   `mapstructure:"use_tls"`
	ClientID         string `mapstructure:"client_id"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	KeepAliveSeconds int    `mapstructure:"keepalive_seconds"`
	ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	TopicPrefix      string `mapstructure:"topic_prefix"`
}

type SchedulingConfig struct {
	CheckIntervalSeconds int `mapstructure:"check_interval_seconds"`
}

type SafetyConfig struct {
	WaterLevelStaleMinutes       int `mapstructure:"water_level_stale_minutes"`
	AutoStopCheckIntervalSeconds int `mapstructure:"auto_stop_check_interval_seconds"`
}

type AlarmsConfig struct {
	Capacity           int `mapstructure:"capacity"`
	BreakerFailures    int `mapstructure:"breaker_failures"`
	BreakerOpenSeconds int `mapstructure:"breaker_open_seconds"`
}

type SystemStateConfig struct {
	PublishIntervalSeconds int `mapstructure:"publish_interval_seconds"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// InfluxDB export, disabled while URL is empty
type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "watering")
	v.SetDefault("database.user", "watering")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 5)

	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.use_tls", false)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.keepalive_seconds", 30)
	v.SetDefault("mqtt.reconnect_seconds", 5)
	v.SetDefault("mqtt.topic_prefix", "home/veranda")

	v.SetDefault("scheduling.check_interval_seconds", 30)

	v.SetDefault("safety.water_level_stale_minutes", 10)
	v.SetDefault("safety.auto_stop_check_interval_seconds", 5)

	v.SetDefault("alarms.capacity", 50)
	v.SetDefault("alarms.breaker_failures", 5)
	v.SetDefault("alarms.breaker_open_seconds", 30)

	v.SetDefault("system_state.publish_interval_seconds", 60)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "")

	v.SetDefault("log.development", false)
}

// Load reads the yaml file at path. A missing file is not an error, the
// defaults and OWC_* environment variables are used instead.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	// OWC_MQTT_HOST -> mqtt.host
	v.SetEnvPrefix("OWC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the loops cannot run with and clamps the
// safety interval to one second.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}
	if c.MQTT.Port <= 0 {
		return fmt.Errorf("invalid mqtt.port: %d", c.MQTT.Port)
	}
	if c.MQTT.ReconnectSeconds <= 0 {
		return fmt.Errorf("mqtt.reconnect_seconds must be positive")
	}
	if c.Scheduling.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("scheduling.check_interval_seconds must be positive")
	}
	if c.Safety.WaterLevelStaleMinutes <= 0 {
		return fmt.Errorf("safety.water_level_stale_minutes must be positive")
	}
	if c.Safety.AutoStopCheckIntervalSeconds < 1 {
		c.Safety.AutoStopCheckIntervalSeconds = 1
	}
	if c.Alarms.Capacity <= 0 {
		return fmt.Errorf("alarms.capacity must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// BrokerURL returns the paho broker address, ssl:// when TLS is enabled.
func (m *MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if m.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.Host, m.Port)
}

func (m *MQTTConfig) ReconnectDelay() time.Duration {
	return time.Duration(m.ReconnectSeconds) * time.Second
}

func (m *MQTTConfig) KeepAlive() time.Duration {
	return time.Duration(m.KeepAliveSeconds) * time.Second
}

func (s *SchedulingConfig) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

func (s *SafetyConfig) StaleAfter() time.Duration {
	return time.Duration(s.WaterLevelStaleMinutes) * time.Minute
}

func (s *SafetyConfig) CheckInterval() time.Duration {
	return time.Duration(s.AutoStopCheckIntervalSeconds) * time.Second
}

func (s *SystemStateConfig) PublishInterval() time.Duration {
	return time.Duration(s.PublishIntervalSeconds) * time.Second
}

func (i *InfluxConfig) Enabled() bool {
	return i.URL != ""
}
