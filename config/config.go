package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is where the server looks for its config file.
const DefaultPath = "config/config.yaml"

// Config is the process configuration
type Config struct {
	Log struct {
		AppLogFile string `mapstructure:"app_log_file"`
		Level      string `mapstructure:"level"`
	} `mapstructure:"log"`

	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`

	LevelDB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"leveldb"`

	Chain struct {
		RPCURL      string        `mapstructure:"rpc_url"`
		Contract    string        `mapstructure:"contract"`
		ReadTimeout time.Duration `mapstructure:"read_timeout"`
	} `mapstructure:"chain"`

	Socket struct {
		Env                  string            `mapstructure:"env"`
		URLs                 map[string]string `mapstructure:"urls"`
		HeartbeatInterval    time.Duration     `mapstructure:"heartbeat_interval"`
		ReconnectInterval    time.Duration     `mapstructure:"reconnect_interval"`
		MaxReconnectAttempts int               `mapstructure:"max_reconnect_attempts"`
		MaxReconnectDelay    time.Duration     `mapstructure:"max_reconnect_delay"`
		ReconcileDelay       time.Duration     `mapstructure:"reconcile_delay"`
	} `mapstructure:"socket"`

	Cache struct {
		Expiry    time.Duration `mapstructure:"expiry"`
		NodeLimit int           `mapstructure:"node_limit"`
	} `mapstructure:"cache"`
}

// SocketURL returns the socket endpoint of the configured environment.
func (c *Config) SocketURL() (string, error) {
	url, ok := c.Socket.URLs[c.Socket.Env]
	if !ok || url == "" {
		return "", fmt.Errorf("config: no socket url for environment %q", c.Socket.Env)
	}
	return url, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.app_log_file", "-")
	v.SetDefault("log.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("leveldb.path", "data/referral")
	v.SetDefault("chain.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("chain.read_timeout", 15*time.Second)
	v.SetDefault("socket.env", "development")
	v.SetDefault("socket.urls", map[string]string{
		"development": "ws://localhost:8081/ws",
		"production":  "wss://api.referral.example/ws",
	})
	v.SetDefault("socket.heartbeat_interval", 30*time.Second)
	v.SetDefault("socket.reconnect_interval", time.Second)
	v.SetDefault("socket.max_reconnect_attempts", 5)
	v.SetDefault("socket.max_reconnect_delay", 5*time.Minute)
	v.SetDefault("socket.reconcile_delay", 2*time.Second)
	v.SetDefault("cache.expiry", 5*time.Minute)
	v.SetDefault("cache.node_limit", 512)
}

// Load reads path (when it exists) over the defaults. REFERRAL_* environment
// variables override both, e.g. REFERRAL_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("referral")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}
