package config

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. CLASSROOM_HTTP_PORT
const EnvPrefix = "CLASSROOM"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Hub       *HubConfig       `json:"hub"`
	Session   *SessionConfig   `json:"session"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
}

// DatabaseConfig locates the results journal
type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// Addr is the listen address
func (c *HTTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval    time.Duration `json:"ping_interval"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	MaxMessageSize  int64         `json:"max_message_size"`
	ReadBufferSize  int           `json:"read_buffer_size"`
	WriteBufferSize int           `json:"write_buffer_size"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

// HubConfig sizes the event queue
type HubConfig struct {
	QueueSize int `json:"queue_size"`
}

// SessionConfig governs session lifetime and client-side cleanup timing
type SessionConfig struct {
	MaxAge             time.Duration `json:"max_age"`
	SweepInterval      time.Duration `json:"sweep_interval"`
	CodeLength         int           `json:"code_length"`
	CleanupSettleDelay time.Duration `json:"cleanup_settle_delay"`
}

// RateLimitConfig caps inbound events per connection. Zero disables it.
type RateLimitConfig struct {
	MessagesPerMinute int `json:"messages_per_minute"`
}

// DefaultConfig gives a local single-node setup: journal next to the
// binary, two-hour sessions and five-character codes
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./classroom.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    5 * time.Second,
			MaxMessageSize:  128 * 1024,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			AllowedOrigins:  []string{},
		},
		Hub: &HubConfig{
			QueueSize: 1000,
		},
		Session: &SessionConfig{
			MaxAge:             2 * time.Hour,
			SweepInterval:      5 * time.Minute,
			CodeLength:         5,
			CleanupSettleDelay: 2 * time.Second,
		},
		RateLimit: &RateLimitConfig{
			MessagesPerMinute: 300,
		},
	}
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.ReadBufferSize <= 0 || c.WebSocket.WriteBufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer sizes must be positive")
	}

	if c.Hub == nil {
		return fmt.Errorf("hub configuration is required")
	}
	if c.Hub.QueueSize <= 0 {
		return fmt.Errorf("hub queue size must be positive")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("session max age must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive")
	}
	if c.Session.CodeLength < 4 || c.Session.CodeLength > 8 {
		return fmt.Errorf("session code length must be between 4 and 8")
	}
	if c.Session.CleanupSettleDelay < 0 {
		return fmt.Errorf("cleanup settle delay cannot be negative")
	}

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.MessagesPerMinute < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	return nil
}

// LoadFromEnv applies CLASSROOM_* overrides to the defaults. Values that
// do not parse keep their default.
func LoadFromEnv() *Config {
	return decode(newViper(true))
}

// LoadFromFile reads a JSON, YAML or TOML file (by extension) over the
// defaults. Environment variables are not consulted.
func LoadFromFile(path string) (*Config, error) {
	v := newViper(false)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := decode(v)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence layers file over environment over defaults. A
// missing or invalid file is logged and skipped.
func LoadConfigWithPrecedence(path string) *Config {
	v := newViper(true)

	if path != "" {
		file := viper.New()
		file.SetConfigFile(path)
		if err := file.ReadInConfig(); err != nil {
			log.Printf("Config file skipped: path=%s err=%v", path, err)
		} else {
			// Set outranks the environment inside viper
			for _, key := range file.AllKeys() {
				v.Set(key, file.Get(key))
			}
		}
	}

	config := decode(v)
	if err := config.Validate(); err != nil {
		log.Printf("Config file rejected: path=%s err=%v", path, err)
		return LoadFromEnv()
	}
	return config
}

// newViper seeds a viper instance with the defaults so every key is known
// to AutomaticEnv
func newViper(withEnv bool) *viper.Viper {
	d := DefaultConfig()
	v := viper.New()

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.timeout", d.Database.Timeout)

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.read_buffer_size", d.WebSocket.ReadBufferSize)
	v.SetDefault("websocket.write_buffer_size", d.WebSocket.WriteBufferSize)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)

	v.SetDefault("hub.queue_size", d.Hub.QueueSize)

	v.SetDefault("session.max_age", d.Session.MaxAge)
	v.SetDefault("session.sweep_interval", d.Session.SweepInterval)
	v.SetDefault("session.code_length", d.Session.CodeLength)
	v.SetDefault("session.cleanup_settle_delay", d.Session.CleanupSettleDelay)

	v.SetDefault("rate_limit.messages_per_minute", d.RateLimit.MessagesPerMinute)

	if withEnv {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
	return v
}

// decode reads every key back, keeping the default for values that fail
// to parse
func decode(v *viper.Viper) *Config {
	d := DefaultConfig()
	return &Config{
		Database: &DatabaseConfig{
			Path:    stringOr(v, "database.path", d.Database.Path),
			Timeout: durationOr(v, "database.timeout", d.Database.Timeout),
		},
		HTTP: &HTTPConfig{
			Host:         stringOr(v, "http.host", d.HTTP.Host),
			Port:         intOr(v, "http.port", d.HTTP.Port),
			ReadTimeout:  durationOr(v, "http.read_timeout", d.HTTP.ReadTimeout),
			WriteTimeout: durationOr(v, "http.write_timeout", d.HTTP.WriteTimeout),
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    durationOr(v, "websocket.ping_interval", d.WebSocket.PingInterval),
			ReadTimeout:     durationOr(v, "websocket.read_timeout", d.WebSocket.ReadTimeout),
			WriteTimeout:    durationOr(v, "websocket.write_timeout", d.WebSocket.WriteTimeout),
			MaxMessageSize:  int64(intOr(v, "websocket.max_message_size", int(d.WebSocket.MaxMessageSize))),
			ReadBufferSize:  intOr(v, "websocket.read_buffer_size", d.WebSocket.ReadBufferSize),
			WriteBufferSize: intOr(v, "websocket.write_buffer_size", d.WebSocket.WriteBufferSize),
			AllowedOrigins:  listOf(v, "websocket.allowed_origins"),
		},
		Hub: &HubConfig{
			QueueSize: intOr(v, "hub.queue_size", d.Hub.QueueSize),
		},
		Session: &SessionConfig{
			MaxAge:             durationOr(v, "session.max_age", d.Session.MaxAge),
			SweepInterval:      durationOr(v, "session.sweep_interval", d.Session.SweepInterval),
			CodeLength:         intOr(v, "session.code_length", d.Session.CodeLength),
			CleanupSettleDelay: durationOr(v, "session.cleanup_settle_delay", d.Session.CleanupSettleDelay),
		},
		RateLimit: &RateLimitConfig{
			MessagesPerMinute: intOr(v, "rate_limit.messages_per_minute", d.RateLimit.MessagesPerMinute),
		},
	}
}

func stringOr(v *viper.Viper, key, fallback string) string {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s
	}
	return fallback
}

func intOr(v *viper.Viper, key string, fallback int) int {
	n, err := cast.ToIntE(v.Get(key))
	if err != nil {
		log.Printf("Ignoring invalid config value: key=%s value=%v", key, v.Get(key))
		return fallback
	}
	return n
}

func durationOr(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	d, err := cast.ToDurationE(v.Get(key))
	if err != nil {
		log.Printf("Ignoring invalid config value: key=%s value=%v", key, v.Get(key))
		return fallback
	}
	return d
}

// listOf accepts a list from a file or a comma separated env value
func listOf(v *viper.Viper, key string) []string {
	raw, err := cast.ToStringSliceE(v.Get(key))
	if err != nil {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
