package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the ai-way core service.
type Config struct {
	BindAddr         string
	MetricsNamespace string
	ShutdownTimeout  time.Duration

	AllowAnyOrigin bool
	DevMode        bool

	OllamaBaseURL string
	OllamaTimeout time.Duration

	AgentsPath          string
	ConductorModel      string
	AgentModelPrefix    string
	MaxContextTurns     int
	RoutingTemperature  float64
	ResponseTemperature float64

	SessionSnapshotPath string
	DatabaseURL         string
	SnapshotInterval    time.Duration
}

// fileConfig mirrors the config.yaml layout the runtime has always used:
// core, ollama, agents, dev_mode, plus the sessions section for durable
// transcripts.
type fileConfig struct {
	Core struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"core"`
	Ollama struct {
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
		Timeout string `yaml:"timeout"`
	} `yaml:"ollama"`
	Agents struct {
		Path string `yaml:"path"`
	} `yaml:"agents"`
	DevMode struct {
		ShowRouting      *bool `yaml:"show_routing"`
		LogConversations bool  `yaml:"log_conversations"`
	} `yaml:"dev_mode"`
	Sessions struct {
		SnapshotPath     string `yaml:"snapshot_path"`
		DatabaseURL      string `yaml:"database_url"`
		SnapshotInterval string `yaml:"snapshot_interval"`
	} `yaml:"sessions"`
}

// Load reads the optional YAML file, then environment variables, and applies
// safe defaults. Environment values always win over file values.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            ":8420",
		MetricsNamespace:    "aiway",
		ShutdownTimeout:     15 * time.Second,
		AllowAnyOrigin:      false,
		DevMode:             true,
		OllamaBaseURL:       "http://localhost:11434",
		OllamaTimeout:       120 * time.Second,
		AgentsPath:          "../agents",
		ConductorModel:      "ai-way-yollayah",
		AgentModelPrefix:    "ai-way-",
		MaxContextTurns:     10,
		RoutingTemperature:  0.3,
		ResponseTemperature: 0.8,
	}

	fc, err := loadFile()
	if err != nil {
		return Config{}, err
	}

	ollamaHost := "localhost"
	ollamaPort := 11434

	if fc != nil {
		if fc.Core.Host != "" || fc.Core.Port != 0 {
			port := fc.Core.Port
			if port == 0 {
				port = 8420
			}
			cfg.BindAddr = fmt.Sprintf("%s:%d", fc.Core.Host, port)
		}
		if fc.Ollama.Host != "" {
			ollamaHost = fc.Ollama.Host
		}
		if fc.Ollama.Port != 0 {
			ollamaPort = fc.Ollama.Port
		}
		if fc.Ollama.Timeout != "" {
			cfg.OllamaTimeout, err = time.ParseDuration(fc.Ollama.Timeout)
			if err != nil {
				return Config{}, fmt.Errorf("ollama.timeout parse error: %w", err)
			}
		}
		if fc.Agents.Path != "" {
			cfg.AgentsPath = fc.Agents.Path
		}
		if fc.DevMode.ShowRouting != nil {
			cfg.DevMode = *fc.DevMode.ShowRouting
		}
		if fc.Sessions.SnapshotPath != "" {
			cfg.SessionSnapshotPath = fc.Sessions.SnapshotPath
		} else if fc.DevMode.LogConversations {
			// Historical behavior: conversation logging implies the default
			// snapshot location.
			cfg.SessionSnapshotPath = "logs/sessions.json"
		}
		cfg.DatabaseURL = fc.Sessions.DatabaseURL
		if fc.Sessions.SnapshotInterval != "" {
			cfg.SnapshotInterval, err = time.ParseDuration(fc.Sessions.SnapshotInterval)
			if err != nil {
				return Config{}, fmt.Errorf("sessions.snapshot_interval parse error: %w", err)
			}
		}
	}

	if v := stringsTrimSpace("OLLAMA_HOST"); v != "" {
		ollamaHost = v
	}
	ollamaPort, err = intFromEnv("OLLAMA_PORT", ollamaPort)
	if err != nil {
		return Config{}, err
	}
	cfg.OllamaBaseURL = ollamaBaseURL(ollamaHost, ollamaPort)

	cfg.BindAddr = envOrDefault("AIWAY_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("AIWAY_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.AgentsPath = envOrDefault("AIWAY_AGENTS_PATH", cfg.AgentsPath)
	cfg.ConductorModel = envOrDefault("AIWAY_CONDUCTOR_MODEL", cfg.ConductorModel)
	cfg.AgentModelPrefix = envOrDefault("AIWAY_AGENT_MODEL_PREFIX", cfg.AgentModelPrefix)
	cfg.SessionSnapshotPath = envOrDefault("AIWAY_SESSION_SNAPSHOT_PATH", cfg.SessionSnapshotPath)
	cfg.DatabaseURL = envOrDefault("AIWAY_DATABASE_URL", cfg.DatabaseURL)

	cfg.ShutdownTimeout, err = durationFromEnv("AIWAY_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.OllamaTimeout, err = durationFromEnv("AIWAY_OLLAMA_TIMEOUT", cfg.OllamaTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SnapshotInterval, err = durationFromEnv("AIWAY_SNAPSHOT_INTERVAL", cfg.SnapshotInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("AIWAY_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.DevMode, err = boolFromEnv("AIWAY_DEV_MODE", cfg.DevMode)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxContextTurns, err = intFromEnv("AIWAY_MAX_CONTEXT_TURNS", cfg.MaxContextTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.RoutingTemperature, err = floatFromEnv("AIWAY_ROUTING_TEMPERATURE", cfg.RoutingTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.ResponseTemperature, err = floatFromEnv("AIWAY_RESPONSE_TEMPERATURE", cfg.ResponseTemperature)
	if err != nil {
		return Config{}, err
	}

	if cfg.ShutdownTimeout < time.Second {
		return Config{}, fmt.Errorf("AIWAY_SHUTDOWN_TIMEOUT must be at least 1s")
	}
	if cfg.OllamaTimeout <= 0 {
		return Config{}, fmt.Errorf("AIWAY_OLLAMA_TIMEOUT must be positive")
	}
	if cfg.MaxContextTurns <= 0 {
		return Config{}, fmt.Errorf("AIWAY_MAX_CONTEXT_TURNS must be positive")
	}
	if cfg.RoutingTemperature <= 0 || cfg.RoutingTemperature > 2 {
		return Config{}, fmt.Errorf("AIWAY_ROUTING_TEMPERATURE must be in (0, 2]")
	}
	if cfg.ResponseTemperature <= 0 || cfg.ResponseTemperature > 2 {
		return Config{}, fmt.Errorf("AIWAY_RESPONSE_TEMPERATURE must be in (0, 2]")
	}
	if cfg.SnapshotInterval < 0 {
		return Config{}, fmt.Errorf("AIWAY_SNAPSHOT_INTERVAL must not be negative")
	}

	return cfg, nil
}

// loadFile finds the YAML config: an explicit AIWAY_CONFIG path must exist,
// the conventional ./config.yaml is optional.
func loadFile() (*fileConfig, error) {
	path := stringsTrimSpace("AIWAY_CONFIG")
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}

// ollamaBaseURL accepts either a bare host (joined with the port) or a full
// URL in the host slot, which wins as-is.
func ollamaBaseURL(host string, port int) string {
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
