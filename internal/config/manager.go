package config

import (
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Manager holds the current configuration and reloads it when the config
// file changes. Only settings that are safe to change at runtime are acted
// on by callbacks; the rest take effect on restart.
type Manager struct {
	v         *viper.Viper
	path      string
	config    *ServerConfig
	mutex     sync.RWMutex
	callbacks []func(*ServerConfig)
}

// NewManager loads the initial configuration
func NewManager(configPath string, flags *pflag.FlagSet) (*Manager, error) {
	v, err := newViper(configPath, flags)
	if err != nil {
		return nil, err
	}
	cfg := decode(v)
	log.Printf("config loaded: port=%s storage=%s threshold=%d", cfg.Port, cfg.Storage.Driver, cfg.Buffer.Threshold)
	return &Manager{v: v, path: configPath, config: cfg}, nil
}

// GetConfig returns a copy of the current configuration
func (cm *Manager) GetConfig() *ServerConfig {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	configCopy := *cm.config
	return &configCopy
}

// RegisterCallback registers a callback for configuration changes
func (cm *Manager) RegisterCallback(callback func(*ServerConfig)) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.callbacks = append(cm.callbacks, callback)
}

// Watch starts reloading on config file changes. Without a config file it
// does nothing.
func (cm *Manager) Watch() {
	if cm.path == "" {
		return
	}
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("🔄 Config file changed: %s", e.Name)
		cm.Reload()
	})
	cm.v.WatchConfig()
}

// Reload re-decodes the configuration and notifies callbacks.
func (cm *Manager) Reload() {
	cfg := decode(cm.v)

	cm.mutex.Lock()
	cm.config = cfg
	callbacks := make([]func(*ServerConfig), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	cm.mutex.Unlock()

	for _, callback := range callbacks {
		configCopy := *cfg
		callback(&configCopy)
	}
}

// Summary returns the non-secret settings for display
func (cm *Manager) Summary() map[string]interface{} {
	config := cm.GetConfig()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"port":    config.Port,
			"storage": config.Storage.Driver,
		},
		"session": map[string]interface{}{
			"cookie_name": config.Session.CookieName,
			"max_age_ms":  config.Session.MaxAge.Milliseconds(),
		},
		"buffer": map[string]interface{}{
			"threshold":     config.Buffer.Threshold,
			"flush_timeout": config.Buffer.FlushTimeout.String(),
		},
		"websocket": map[string]interface{}{
			"read_timeout":   config.WebSocket.ReadTimeout.String(),
			"write_timeout":  config.WebSocket.WriteTimeout.String(),
			"ping_interval":  config.WebSocket.PingInterval.String(),
			"max_frame_size": config.WebSocket.MaxFrameSize,
		},
		"security": map[string]interface{}{
			"max_message_length":   config.Security.MaxMessageLength,
			"max_room_name_length": config.Security.MaxRoomNameLength,
			"rate_limit_messages":  config.Security.RateLimitMessages,
			"rate_limit_window":    config.Security.RateLimitWindow.String(),
			"enable_rate_limit":    config.Security.EnableRateLimit,
		},
	}
}
