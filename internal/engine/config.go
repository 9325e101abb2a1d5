package engine

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects the engine's operating mode after authentication: lobby mode
// requests the room directory, room mode rejoins a known room.
type Mode string

const (
	ModeLobby Mode = "lobby"
	ModeRoom  Mode = "room"
)

// Config holds engine configuration. Values come from an optional YAML file
// with environment overrides on top.
type Config struct {
	ServerURL  string
	APIBaseURL string
	Mode       Mode
	RoomID     string

	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration

	TurnDuration       time.Duration
	ReadyDuration      time.Duration
	RevealDuration     time.Duration
	ResultPause        time.Duration
	AutoRollDebounce   time.Duration
	ReturnToLobbyDelay time.Duration
}

// DefaultConfig returns the default engine configuration for the given server.
func DefaultConfig(serverURL string) Config {
	return Config{
		ServerURL:            serverURL,
		Mode:                 ModeLobby,
		ReconnectBaseDelay:   time.Second,
		MaxReconnectAttempts: 6,
		HeartbeatInterval:    25 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
		TurnDuration:         30 * time.Second,
		ReadyDuration:        15 * time.Second,
		RevealDuration:       1200 * time.Millisecond,
		ResultPause:          2 * time.Second,
		AutoRollDebounce:     1500 * time.Millisecond,
		ReturnToLobbyDelay:   5 * time.Second,
	}
}

// UnmarshalYAML merges the file's values onto whatever the Config already
// holds, so absent keys keep their defaults. Durations use time.ParseDuration
// syntax ("30s", "1200ms").
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ServerURL  string `yaml:"server_url"`
		APIBaseURL string `yaml:"api_base_url"`
		Mode       Mode   `yaml:"mode"`
		RoomID     string `yaml:"room_id"`

		ReconnectBaseDelay   string `yaml:"reconnect_base_delay"`
		MaxReconnectAttempts *int   `yaml:"max_reconnect_attempts"`
		HeartbeatInterval    string `yaml:"heartbeat_interval"`
		HeartbeatTimeout     string `yaml:"heartbeat_timeout"`
		TurnDuration         string `yaml:"turn_duration"`
		ReadyDuration        string `yaml:"ready_duration"`
		RevealDuration       string `yaml:"reveal_duration"`
		ResultPause          string `yaml:"result_pause"`
		AutoRollDebounce     string `yaml:"auto_roll_debounce"`
		ReturnToLobbyDelay   string `yaml:"return_to_lobby_delay"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.ServerURL != "" {
		c.ServerURL = raw.ServerURL
	}
	if raw.APIBaseURL != "" {
		c.APIBaseURL = raw.APIBaseURL
	}
	if raw.Mode != "" {
		c.Mode = raw.Mode
	}
	if raw.RoomID != "" {
		c.RoomID = raw.RoomID
	}
	if raw.MaxReconnectAttempts != nil {
		c.MaxReconnectAttempts = *raw.MaxReconnectAttempts
	}

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"reconnect_base_delay", raw.ReconnectBaseDelay, &c.ReconnectBaseDelay},
		{"heartbeat_interval", raw.HeartbeatInterval, &c.HeartbeatInterval},
		{"heartbeat_timeout", raw.HeartbeatTimeout, &c.HeartbeatTimeout},
		{"turn_duration", raw.TurnDuration, &c.TurnDuration},
		{"ready_duration", raw.ReadyDuration, &c.ReadyDuration},
		{"reveal_duration", raw.RevealDuration, &c.RevealDuration},
		{"result_pause", raw.ResultPause, &c.ResultPause},
		{"auto_roll_debounce", raw.AutoRollDebounce, &c.AutoRollDebounce},
		{"return_to_lobby_delay", raw.ReturnToLobbyDelay, &c.ReturnToLobbyDelay},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// LoadConfig reads a YAML config file and applies env overrides. A missing
// path is not an error; defaults plus env are used.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig("")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ServerURL = getEnv("ENGINE_SERVER_URL", cfg.ServerURL)
	cfg.APIBaseURL = getEnv("ENGINE_API_BASE_URL", cfg.APIBaseURL)
	cfg.RoomID = getEnv("ENGINE_ROOM_ID", cfg.RoomID)
	if mode := os.Getenv("ENGINE_MODE"); mode != "" {
		cfg.Mode = Mode(mode)
	}
	cfg.MaxReconnectAttempts = getEnvAsInt("ENGINE_MAX_RECONNECT_ATTEMPTS", cfg.MaxReconnectAttempts)

	if cfg.Mode == "" {
		cfg.Mode = ModeLobby
	}
	if cfg.Mode == ModeRoom && cfg.RoomID == "" {
		return cfg, fmt.Errorf("room mode requires a room_id")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
