package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CHATSESSION_"

// Config represents the application configuration
type Config struct {
	Server struct {
		HubURL string `koanf:"hub_url"`
		APIURL string `koanf:"api_url"`
	} `koanf:"server"`

	Session struct {
		Token  string `koanf:"token"`
		UserID string `koanf:"user_id"`
	} `koanf:"session"`

	Transport struct {
		RetryDelay       time.Duration `koanf:"retry_delay"`
		KeepAlive        time.Duration `koanf:"keepalive"`
		ServerTimeout    time.Duration `koanf:"server_timeout"`
		HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
		SendBuffer       int           `koanf:"send_buffer"`
	} `koanf:"transport"`

	Typing struct {
		Throttle  time.Duration `koanf:"throttle"`
		StopAfter time.Duration `koanf:"stop_after"`
	} `koanf:"typing"`

	Notify struct {
		Toasts bool `koanf:"toasts"`
	} `koanf:"notify"`

	Gateway struct {
		Addr string `koanf:"addr"`
	} `koanf:"gateway"`

	Hub struct {
		Addr            string  `koanf:"addr"`
		FramesPerSecond float64 `koanf:"frames_per_second"`
		SigningKey      string  `koanf:"signing_key"`
	} `koanf:"hub"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.hub_url":              "ws://127.0.0.1:5000/hubs/chat",
		"server.api_url":              "http://127.0.0.1:5000",
		"transport.retry_delay":       "10s",
		"transport.keepalive":         "15s",
		"transport.server_timeout":    "30s",
		"transport.handshake_timeout": "10s",
		"transport.send_buffer":       64,
		"typing.throttle":             "2s",
		"typing.stop_after":           "3s",
		"notify.toasts":               true,
		"gateway.addr":                "127.0.0.1:3000",
		"hub.addr":                    "127.0.0.1:5000",
		"hub.frames_per_second":       20,
		"log.level":                   "info",
		"log.format":                  "console",
	}
}

// LoadConfig loads the configuration from a file. An empty path falls back to
// the default locations; a missing default file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./chatsession.toml", "$HOME/.chatsession.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// CHATSESSION_TRANSPORT_RETRY_DELAY -> transport.retry_delay. Only the
	// first underscore after the section is a separator.
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// InitConfig writes a sample configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# chatsession configuration

[server]
hub_url = "ws://127.0.0.1:5000/hubs/chat"
api_url = "http://127.0.0.1:5000"

[session]
# bearer token; usually supplied through CHATSESSION_SESSION_TOKEN
token = ""
# optional, derived from the token claims when empty
user_id = ""

[transport]
retry_delay = "10s"
keepalive = "15s"
server_timeout = "30s"

[typing]
throttle = "2s"
stop_after = "3s"

[gateway]
addr = "127.0.0.1:3000"

[log]
level = "info"
format = "console"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if strings.TrimSpace(config.Server.HubURL) == "" {
		return fmt.Errorf("server hub_url is required")
	}

	durations := map[string]time.Duration{
		"transport.retry_delay":       config.Transport.RetryDelay,
		"transport.keepalive":         config.Transport.KeepAlive,
		"transport.server_timeout":    config.Transport.ServerTimeout,
		"transport.handshake_timeout": config.Transport.HandshakeTimeout,
		"typing.throttle":             config.Typing.Throttle,
		"typing.stop_after":           config.Typing.StopAfter,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}

	if config.Transport.KeepAlive >= config.Transport.ServerTimeout {
		return fmt.Errorf("transport.keepalive (%s) must be shorter than transport.server_timeout (%s)",
			config.Transport.KeepAlive, config.Transport.ServerTimeout)
	}

	if config.Transport.SendBuffer <= 0 {
		return fmt.Errorf("transport.send_buffer must be positive")
	}

	return nil
}
