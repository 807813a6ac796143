package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	RESTPort int `yaml:"rest_port"`
}

type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// CacheConfig настройки Redis; пустой RedisURL включает кеш в памяти
type CacheConfig struct {
	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
}

// EventBusConfig настройки NATS JetStream; пустой URL включает шину в памяти
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

// TelemetryConfig настройки OTLP; пустой Endpoint означает localhost:4318
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
}

type LoggingConfig struct {
	Component string `yaml:"component"`
	Level     string `yaml:"level"`
	ToFile    bool   `yaml:"to_file"`
}

// Default возвращает конфигурацию, работающую без внешних сервисов
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "BLOCKKIT_REST_PORT", 8088)
}

// RetentionDuration срок хранения событий в стриме
func (e *EventBusConfig) RetentionDuration() time.Duration {
	return time.Duration(e.Retention) * time.Hour
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

func (c *Config) applyDefaults() {
	if c.Storage.Path == "" && !c.Storage.InMemory {
		c.Storage.InMemory = true
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 30 * time.Second
	}
	if c.EventBus.Stream == "" {
		c.EventBus.Stream = "FACINGS"
	}
	if c.EventBus.Retention == 0 {
		c.EventBus.Retention = 24
	}
	if c.EventBus.Buffer == 0 {
		c.EventBus.Buffer = 256
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "blockkit"
	}
	if c.Logging.Component == "" {
		c.Logging.Component = "server"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать путь из ENV BLOCKKIT_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("BLOCKKIT_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}
