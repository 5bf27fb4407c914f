package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Fleet    FleetConfig    `mapstructure:"fleet"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Overlays OverlayConfig  `mapstructure:"overlays"`
	Events   EventsConfig   `mapstructure:"events"`
}

type ServerConfig struct {
	DevicePort      int           `mapstructure:"device_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// FleetConfig tunes the device connection registry and health sweep.
type FleetConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	FanoutLimit      int           `mapstructure:"fanout_limit"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
}

// StorageConfig selects where content bytes live.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"` // memory, filesystem, postgres, redis
	Path      string `mapstructure:"path"`
	Table     string `mapstructure:"table"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"sslmode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv      string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL    time.Duration `mapstructure:"access_token_ttl"`
	AdminUsername     string        `mapstructure:"admin_username"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"`
	OperatorUsername  string        `mapstructure:"operator_username"`
	OperatorPassHash  string        `mapstructure:"operator_password_hash"`
}

type OverlayConfig struct {
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	WeatherEndpoint string        `mapstructure:"weather_endpoint"`
}

type EventsConfig struct {
	MQTT MQTTConfig `mapstructure:"mqtt"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.device_port", 8443)
	v.SetDefault("server.http_port", 5000)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("fleet.heartbeat_timeout", "90s")
	v.SetDefault("fleet.sweep_interval", "30s")
	v.SetDefault("fleet.send_timeout", "5s")
	v.SetDefault("fleet.fanout_limit", 32)
	v.SetDefault("fleet.max_message_size", 64*1024)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.path", "./data/content")
	v.SetDefault("storage.table", "content_blobs")
	v.SetDefault("storage.key_prefix", "signage:content:")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "signage")
	v.SetDefault("database.user", "signage")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth Defaults
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.operator_username", "operator")

	v.SetDefault("overlays.fetch_timeout", "5s")
	v.SetDefault("overlays.weather_endpoint", "https://api.openweathermap.org/data/2.5/weather")

	v.SetDefault("events.mqtt.enabled", false)
	v.SetDefault("events.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("events.mqtt.client_id", "signage-core")
	v.SetDefault("events.mqtt.topic_prefix", "signage")
	v.SetDefault("events.mqtt.qos", 1)
}

// Load reads the YAML file at path. A missing file is not an error when
// path is empty; every key can also come from SIGNAGE_* variables, e.g.
// SIGNAGE_FLEET_SEND_TIMEOUT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("SIGNAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
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

func (c *Config) Validate() error {
	var errs []error

	if c.Fleet.HeartbeatTimeout <= 0 {
		errs = append(errs, errors.New("fleet.heartbeat_timeout must be positive"))
	}
	if c.Fleet.SweepInterval <= 0 {
		errs = append(errs, errors.New("fleet.sweep_interval must be positive"))
	}
	if c.Fleet.SendTimeout <= 0 {
		errs = append(errs, errors.New("fleet.send_timeout must be positive"))
	}
	if c.Fleet.FanoutLimit <= 0 {
		errs = append(errs, errors.New("fleet.fanout_limit must be positive"))
	}

	switch c.Storage.Backend {
	case "memory", "filesystem", "postgres", "redis":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, filesystem, postgres, redis", c.Storage.Backend))
	}

	return errors.Join(errs...)
}

func (c *DatabaseConfig) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// GetJWTSecret loads the signing secret from the configured environment
// variable.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
