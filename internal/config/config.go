// Package config loads the roomchat configuration from an optional YAML
// file and the environment, and applies safe fallbacks for anything unset
// or invalid.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/roomchat/internal/logging"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig
	TCP       TCPConfig
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Rooms     RoomsConfig
	Activity  ActivityConfig
	Upload    UploadConfig
	Log       logging.Config
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"-"`
	WriteTimeout    time.Duration `mapstructure:"-"`
	IdleTimeout     time.Duration `mapstructure:"-"`
	ShutdownTimeout time.Duration `mapstructure:"-"`
}

// TCPConfig configures the line transport.
type TCPConfig struct {
	Enabled       bool
	Addr          string
	MaxLineLength int           `mapstructure:"max_line_length"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	WriteWait     time.Duration `mapstructure:"-"`
}

// WebSocketConfig configures WebSocket clients.
type WebSocketConfig struct {
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PingInterval   time.Duration `mapstructure:"-"`
	PongWait       time.Duration `mapstructure:"-"`
	WriteWait      time.Duration `mapstructure:"-"`
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration `mapstructure:"-"`
}

// RoomsConfig is the room policy of the deployment.
type RoomsConfig struct {
	DefaultRoom string `mapstructure:"default_room"`
	HistorySize int    `mapstructure:"history_size"`
	ReplayLimit int    `mapstructure:"replay_limit"`
	AutoCreate  bool   `mapstructure:"auto_create"`
	DeleteEmpty bool   `mapstructure:"delete_empty"`
}

// ActivityConfig bounds the activity log.
type ActivityConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
}

// UploadConfig configures file uploads.
type UploadConfig struct {
	Dir     string
	MaxSize int64 `mapstructure:"max_size"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            ":8080",
			AllowedOrigins:  []string{"http://localhost:8080"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		TCP: TCPConfig{
			Enabled:       true,
			Addr:          ":9090",
			MaxLineLength: 1024,
			SendBuffer:    256,
			WriteWait:     10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			SendBuffer:     256,
			PingInterval:   54 * time.Second,
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Rooms: RoomsConfig{
			DefaultRoom: "General",
			HistorySize: 100,
			ReplayLimit: 50,
			AutoCreate:  true,
			DeleteEmpty: false,
		},
		Activity: ActivityConfig{MaxEntries: 200},
		Upload: UploadConfig{
			Dir:     "uploads",
			MaxSize: 16 << 20,
		},
		Log: logging.Config{Level: "info", ServiceName: "roomchat"},
	}
}

// Load reads config.yaml from dir, ".", or "./config" when present, then
// applies environment overrides. A missing file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return decode(v)
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout.String())
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout.String())
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout.String())
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())
	v.SetDefault("tcp.enabled", d.TCP.Enabled)
	v.SetDefault("tcp.addr", d.TCP.Addr)
	v.SetDefault("tcp.max_line_length", d.TCP.MaxLineLength)
	v.SetDefault("tcp.send_buffer", d.TCP.SendBuffer)
	v.SetDefault("tcp.write_wait", d.TCP.WriteWait.String())
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.send_buffer", d.WebSocket.SendBuffer)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval.String())
	v.SetDefault("websocket.pong_wait", d.WebSocket.PongWait.String())
	v.SetDefault("websocket.write_wait", d.WebSocket.WriteWait.String())
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", "1")
	v.SetDefault("rooms.default_room", d.Rooms.DefaultRoom)
	v.SetDefault("rooms.history_size", d.Rooms.HistorySize)
	v.SetDefault("rooms.replay_limit", d.Rooms.ReplayLimit)
	v.SetDefault("rooms.auto_create", d.Rooms.AutoCreate)
	v.SetDefault("rooms.delete_empty", d.Rooms.DeleteEmpty)
	v.SetDefault("activity.max_entries", d.Activity.MaxEntries)
	v.SetDefault("upload.dir", d.Upload.Dir)
	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.service_name", d.Log.ServiceName)
}

// bindEnv keeps the flat variable names older deployments already use.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	_ = v.BindEnv("websocket.max_message_size", "MAX_MESSAGE_SIZE")
	_ = v.BindEnv("rate_limit.burst", "RATE_LIMIT_BURST")
	_ = v.BindEnv("rate_limit.refill_interval", "RATE_LIMIT_REFILL_INTERVAL")
	_ = v.BindEnv("tcp.addr", "TCP_ADDR")
	_ = v.BindEnv("upload.dir", "UPLOAD_DIR")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// A single comma separated string comes from ALLOWED_ORIGINS.
	if raw, ok := v.Get("server.allowed_origins").(string); ok {
		cfg.Server.AllowedOrigins = parseOrigins(raw)
	}

	d := Default()
	cfg.Server.ReadTimeout = parseDuration(v, "server.read_timeout", d.Server.ReadTimeout)
	cfg.Server.WriteTimeout = parseDuration(v, "server.write_timeout", d.Server.WriteTimeout)
	cfg.Server.IdleTimeout = parseDuration(v, "server.idle_timeout", d.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = parseDuration(v, "server.shutdown_timeout", d.Server.ShutdownTimeout)
	cfg.TCP.WriteWait = parseDuration(v, "tcp.write_wait", d.TCP.WriteWait)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", d.WebSocket.PingInterval)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", d.WebSocket.PongWait)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", d.WebSocket.WriteWait)
	cfg.RateLimit.RefillInterval = parseDuration(v, "rate_limit.refill_interval", d.RateLimit.RefillInterval)

	sanitized := Sanitize(cfg)
	return &sanitized, nil
}

// Sanitize replaces unset or invalid values with their defaults.
func Sanitize(cfg Config) Config {
	d := Default()

	if cfg.Server.Port == "" {
		cfg.Server.Port = d.Server.Port
	}
	cfg.Server.AllowedOrigins = cleanOrigins(cfg.Server.AllowedOrigins)
	positiveDuration(&cfg.Server.ReadTimeout, d.Server.ReadTimeout)
	positiveDuration(&cfg.Server.WriteTimeout, d.Server.WriteTimeout)
	positiveDuration(&cfg.Server.IdleTimeout, d.Server.IdleTimeout)
	positiveDuration(&cfg.Server.ShutdownTimeout, d.Server.ShutdownTimeout)

	if cfg.TCP.Addr == "" {
		cfg.TCP.Addr = d.TCP.Addr
	}
	positiveInt(&cfg.TCP.MaxLineLength, d.TCP.MaxLineLength)
	positiveInt(&cfg.TCP.SendBuffer, d.TCP.SendBuffer)
	positiveDuration(&cfg.TCP.WriteWait, d.TCP.WriteWait)

	if cfg.WebSocket.MaxMessageSize <= 0 {
		cfg.WebSocket.MaxMessageSize = d.WebSocket.MaxMessageSize
	}
	positiveInt(&cfg.WebSocket.SendBuffer, d.WebSocket.SendBuffer)
	positiveDuration(&cfg.WebSocket.PongWait, d.WebSocket.PongWait)
	positiveDuration(&cfg.WebSocket.WriteWait, d.WebSocket.WriteWait)
	positiveDuration(&cfg.WebSocket.PingInterval, d.WebSocket.PingInterval)
	if cfg.WebSocket.PingInterval >= cfg.WebSocket.PongWait {
		cfg.WebSocket.PingInterval = cfg.WebSocket.PongWait * 9 / 10
	}

	positiveInt(&cfg.RateLimit.Burst, d.RateLimit.Burst)
	positiveDuration(&cfg.RateLimit.RefillInterval, d.RateLimit.RefillInterval)

	if strings.TrimSpace(cfg.Rooms.DefaultRoom) == "" {
		cfg.Rooms.DefaultRoom = d.Rooms.DefaultRoom
	}
	positiveInt(&cfg.Rooms.HistorySize, d.Rooms.HistorySize)
	positiveInt(&cfg.Rooms.ReplayLimit, d.Rooms.ReplayLimit)
	positiveInt(&cfg.Activity.MaxEntries, d.Activity.MaxEntries)

	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = d.Upload.Dir
	}
	if cfg.Upload.MaxSize <= 0 {
		cfg.Upload.MaxSize = d.Upload.MaxSize
	}
	return cfg
}

func positiveInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func positiveDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func cleanOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseDuration accepts Go durations ("1m30s") and bare integers, which
// are read as seconds.
func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := strings.TrimSpace(v.GetString(key))
	if seconds, err := strconv.Atoi(str); err == nil {
		if seconds <= 0 {
			return defaultVal
		}
		return time.Duration(seconds) * time.Second
	}
	d, err := time.ParseDuration(str)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
