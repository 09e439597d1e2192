package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port      string
	StaticDir string
	Storage   StorageConfig
	Mongo     MongoConfig
	Session   SessionConfig
	Buffer    BufferConfig
	WebSocket WebSocketConfig
	Security  SecurityConfig
}

// StorageConfig selects the storage collaborator.
type StorageConfig struct {
	Driver string
	// SeedUsers maps username to plain password. They are hashed and written
	// to the user store at startup.
	SeedUsers map[string]string
}

// MongoConfig holds MongoDB configuration
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	PingTimeout    time.Duration
	MaxPoolSize    uint64
	MinPoolSize    uint64
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	CookieName string
	MaxAge     time.Duration
}

// BufferConfig controls per-room buffering and flushing.
type BufferConfig struct {
	Threshold    int
	FlushTimeout time.Duration
}

// WebSocketConfig holds per-connection limits and keepalive timing.
type WebSocketConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	MaxFrameSize int64
	SendBuffer   int
}

// SecurityConfig holds input limits, rate limiting and origin policy.
type SecurityConfig struct {
	MaxMessageLength  int
	MaxRoomNameLength int
	RateLimitMessages int
	RateLimitWindow   time.Duration
	EnableRateLimit   bool
	AllowedOrigins    []string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:      ":3000",
		StaticDir: "./static",
		Storage: StorageConfig{
			Driver:    DriverMongo,
			SeedUsers: map[string]string{},
		},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "realtime_chat",
			ConnectTimeout: 10 * time.Second,
			PingTimeout:    5 * time.Second,
			MaxPoolSize:    100,
			MinPoolSize:    5,
		},
		Session: SessionConfig{
			CookieName: "chat-session",
			MaxAge:     600000 * time.Millisecond,
		},
		Buffer: BufferConfig{
			Threshold:    10,
			FlushTimeout: 5 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			PingInterval: 54 * time.Second,
			MaxFrameSize: 4096,
			SendBuffer:   256,
		},
		Security: SecurityConfig{
			MaxMessageLength:  1000,
			MaxRoomNameLength: 50,
			RateLimitMessages: 30,
			RateLimitWindow:   1 * time.Minute,
			EnableRateLimit:   true,
		},
	}
}

// newViper builds a viper instance layering defaults, the config file, the
// environment (CHAT_ prefix) and flags, in increasing priority.
func newViper(configPath string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	def := DefaultServerConfig()

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", def.Port)
	v.SetDefault("server.static_dir", def.StaticDir)
	v.SetDefault("storage.driver", def.Storage.Driver)
	v.SetDefault("storage.seed_users", "")
	v.SetDefault("mongo.uri", def.Mongo.URI)
	v.SetDefault("mongo.database", def.Mongo.Database)
	v.SetDefault("mongo.connect_timeout", def.Mongo.ConnectTimeout)
	v.SetDefault("mongo.ping_timeout", def.Mongo.PingTimeout)
	v.SetDefault("mongo.max_pool_size", def.Mongo.MaxPoolSize)
	v.SetDefault("mongo.min_pool_size", def.Mongo.MinPoolSize)
	v.SetDefault("session.cookie_name", def.Session.CookieName)
	v.SetDefault("session.max_age_ms", def.Session.MaxAge.Milliseconds())
	v.SetDefault("buffer.threshold", def.Buffer.Threshold)
	v.SetDefault("buffer.flush_timeout", def.Buffer.FlushTimeout)
	v.SetDefault("websocket.read_timeout", def.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", def.WebSocket.WriteTimeout)
	v.SetDefault("websocket.ping_interval", def.WebSocket.PingInterval)
	v.SetDefault("websocket.max_frame_size", def.WebSocket.MaxFrameSize)
	v.SetDefault("websocket.send_buffer", def.WebSocket.SendBuffer)
	v.SetDefault("security.max_message_length", def.Security.MaxMessageLength)
	v.SetDefault("security.max_room_name_length", def.Security.MaxRoomNameLength)
	v.SetDefault("security.rate_limit_messages", def.Security.RateLimitMessages)
	v.SetDefault("security.rate_limit_window", def.Security.RateLimitWindow)
	v.SetDefault("security.enable_rate_limit", def.Security.EnableRateLimit)
	v.SetDefault("security.allowed_origins", "")

	// Unprefixed names used by existing deployments.
	_ = v.BindEnv("server.port", "CHAT_PORT", "PORT")
	_ = v.BindEnv("mongo.uri", "CHAT_MONGO_URI", "MONGO_URI")
	_ = v.BindEnv("security.max_message_length", "CHAT_MAX_MESSAGE_LENGTH")
	_ = v.BindEnv("security.rate_limit_messages", "CHAT_RATE_LIMIT_MESSAGES")
	_ = v.BindEnv("security.rate_limit_window", "CHAT_RATE_LIMIT_WINDOW")
	_ = v.BindEnv("security.enable_rate_limit", "CHAT_ENABLE_RATE_LIMIT")

	if flags != nil {
		if f := flags.Lookup("port"); f != nil {
			if err := v.BindPFlag("server.port", f); err != nil {
				return nil, fmt.Errorf("failed to bind port flag: %w", err)
			}
		}
		if f := flags.Lookup("storage"); f != nil {
			if err := v.BindPFlag("storage.driver", f); err != nil {
				return nil, fmt.Errorf("failed to bind storage flag: %w", err)
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		log.Printf("✅ Loaded configuration from %s", configPath)
	}
	return v, nil
}

// decode reads a normalized ServerConfig out of v.
func decode(v *viper.Viper) *ServerConfig {
	cfg := &ServerConfig{}
	cfg.Port = v.GetString("server.port")
	cfg.StaticDir = v.GetString("server.static_dir")

	cfg.Storage.Driver = strings.ToLower(v.GetString("storage.driver"))
	cfg.Storage.SeedUsers = seedUsers(v)

	cfg.Mongo.URI = v.GetString("mongo.uri")
	cfg.Mongo.Database = v.GetString("mongo.database")
	cfg.Mongo.ConnectTimeout = v.GetDuration("mongo.connect_timeout")
	cfg.Mongo.PingTimeout = v.GetDuration("mongo.ping_timeout")
	cfg.Mongo.MaxPoolSize = v.GetUint64("mongo.max_pool_size")
	cfg.Mongo.MinPoolSize = v.GetUint64("mongo.min_pool_size")

	cfg.Session.CookieName = v.GetString("session.cookie_name")
	cfg.Session.MaxAge = time.Duration(v.GetInt64("session.max_age_ms")) * time.Millisecond

	cfg.Buffer.Threshold = v.GetInt("buffer.threshold")
	cfg.Buffer.FlushTimeout = v.GetDuration("buffer.flush_timeout")

	cfg.WebSocket.ReadTimeout = v.GetDuration("websocket.read_timeout")
	cfg.WebSocket.WriteTimeout = v.GetDuration("websocket.write_timeout")
	cfg.WebSocket.PingInterval = v.GetDuration("websocket.ping_interval")
	cfg.WebSocket.MaxFrameSize = v.GetInt64("websocket.max_frame_size")
	cfg.WebSocket.SendBuffer = v.GetInt("websocket.send_buffer")

	cfg.Security.MaxMessageLength = v.GetInt("security.max_message_length")
	cfg.Security.MaxRoomNameLength = v.GetInt("security.max_room_name_length")
	cfg.Security.RateLimitMessages = v.GetInt("security.rate_limit_messages")
	cfg.Security.RateLimitWindow = v.GetDuration("security.rate_limit_window")
	cfg.Security.EnableRateLimit = v.GetBool("security.enable_rate_limit")
	cfg.Security.AllowedOrigins = splitList(v.GetStringSlice("security.allowed_origins"))

	cfg.normalize(DefaultServerConfig())
	return cfg
}

// normalize replaces unusable values with defaults.
func (c *ServerConfig) normalize(def *ServerConfig) {
	if c.Port == "" {
		c.Port = def.Port
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.Storage.Driver != DriverMongo && c.Storage.Driver != DriverMemory {
		log.Printf("⚠️ Unknown storage driver %q, using %s", c.Storage.Driver, def.Storage.Driver)
		c.Storage.Driver = def.Storage.Driver
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = def.Session.CookieName
	}
	if c.Session.MaxAge <= 0 {
		c.Session.MaxAge = def.Session.MaxAge
	}
	if c.Buffer.Threshold <= 0 {
		c.Buffer.Threshold = def.Buffer.Threshold
	}
	if c.Buffer.FlushTimeout <= 0 {
		c.Buffer.FlushTimeout = def.Buffer.FlushTimeout
	}
	if c.WebSocket.ReadTimeout <= 0 {
		c.WebSocket.ReadTimeout = def.WebSocket.ReadTimeout
	}
	if c.WebSocket.WriteTimeout <= 0 {
		c.WebSocket.WriteTimeout = def.WebSocket.WriteTimeout
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		c.WebSocket.PingInterval = c.WebSocket.ReadTimeout * 9 / 10
	}
	if c.WebSocket.MaxFrameSize <= 0 {
		c.WebSocket.MaxFrameSize = def.WebSocket.MaxFrameSize
	}
	if c.WebSocket.SendBuffer <= 0 {
		c.WebSocket.SendBuffer = def.WebSocket.SendBuffer
	}
	if c.Security.MaxMessageLength <= 0 {
		c.Security.MaxMessageLength = def.Security.MaxMessageLength
	}
	if c.Security.MaxRoomNameLength <= 0 {
		c.Security.MaxRoomNameLength = def.Security.MaxRoomNameLength
	}
	if c.Security.RateLimitMessages <= 0 {
		c.Security.RateLimitMessages = def.Security.RateLimitMessages
	}
	if c.Security.RateLimitWindow <= 0 {
		c.Security.RateLimitWindow = def.Security.RateLimitWindow
	}
}

// seedUsers accepts either a map from a config file or "name:password,..." from the environment.
func seedUsers(v *viper.Viper) map[string]string {
	users := make(map[string]string)
	if m := v.GetStringMapString("storage.seed_users"); len(m) > 0 {
		for name, password := range m {
			users[name] = password
		}
		return users
	}
	for _, pair := range splitList([]string{v.GetString("storage.seed_users")}) {
		name, password, ok := strings.Cut(pair, ":")
		if !ok || name == "" {
			log.Printf("⚠️ Ignoring malformed seed user entry %q", pair)
			continue
		}
		users[name] = password
	}
	return users
}

func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
