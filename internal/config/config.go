package config

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// Config holds all configuration for studiod.
// Values are loaded from environment variables; see the serve command
// usage for the full list.
type Config struct {
	ControlAPIURL   string `json:"control_api_url"`
	ControlAPIToken string `json:"-"`

	// Studios is the set of resources to operate, each as
	// "owner/teamspace/name". STUDIO_OWNER/TEAMSPACE/STUDIO_NAME are
	// accepted as a single-studio fallback.
	Studios []string `json:"studios"`

	// StoreBackend: "file" (default) or "postgres".
	StoreBackend string `json:"store_backend"`
	DataDir      string `json:"data_dir"`
	DatabaseURL  string `json:"database_url,omitempty"`
	RedisAddr    string `json:"redis_addr,omitempty"`

	HTTPAddr string `json:"http_addr"`
	Timezone string `json:"timezone"`

	PollInterval    time.Duration `json:"-"`
	PollIntervalStr string        `json:"poll_interval"`

	PollTimeout    time.Duration `json:"-"`
	PollTimeoutStr string        `json:"poll_timeout"`

	PollFailureThreshold int `json:"poll_failure_threshold"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	TransitionTimeout    time.Duration `json:"-"`
	TransitionTimeoutStr string        `json:"transition_timeout"`

	HookTimeout    time.Duration `json:"-"`
	HookTimeoutStr string        `json:"hook_timeout"`

	HookKillGrace    time.Duration `json:"-"`
	HookKillGraceStr string        `json:"hook_kill_grace"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	RunnerDrainTimeout    time.Duration `json:"-"`
	RunnerDrainTimeoutStr string        `json:"runner_drain_timeout"`

	TriggerBusBufferSize int `json:"trigger_bus_buffer_size"`
	RecentEventsLimit    int `json:"recent_events_limit"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		ControlAPIURL:          os.Getenv("CONTROL_API_URL"),
		ControlAPIToken:        os.Getenv("CONTROL_API_TOKEN"),
		StoreBackend:           os.Getenv("STORE_BACKEND"),
		DataDir:                os.Getenv("DATA_DIR"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		Timezone:               os.Getenv("TIMEZONE"),
		PollIntervalStr:        os.Getenv("POLL_INTERVAL"),
		PollTimeoutStr:         os.Getenv("POLL_TIMEOUT"),
		TickIntervalStr:        os.Getenv("TICK_INTERVAL"),
		TransitionTimeoutStr:   os.Getenv("TRANSITION_TIMEOUT"),
		HookTimeoutStr:         os.Getenv("HOOK_TIMEOUT"),
		HookKillGraceStr:       os.Getenv("HOOK_KILL_GRACE"),
		DBOpTimeoutStr:         os.Getenv("DB_OP_TIMEOUT"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		RunnerDrainTimeoutStr:  os.Getenv("RUNNER_DRAIN_TIMEOUT"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:            os.Getenv("METRICS_PATH"),
		MetricsPort:            os.Getenv("METRICS_PORT"),
	}

	if studios := os.Getenv("STUDIOS"); studios != "" {
		for _, s := range strings.Split(studios, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Studios = append(cfg.Studios, s)
			}
		}
	} else if name := os.Getenv("STUDIO_NAME"); name != "" {
		// Single-studio fallback matching the original deployment env.
		owner := os.Getenv("STUDIO_OWNER")
		team := os.Getenv("TEAMSPACE")
		if owner != "" && team != "" {
			cfg.Studios = []string{owner + "/" + team + "/" + name}
		}
	}

	if v := os.Getenv("POLL_FAILURE_THRESHOLD"); v != "" {
		if n, err := parseInt(v); err == nil && n > 0 {
			cfg.PollFailureThreshold = n
		} else {
			log.Printf("config: invalid POLL_FAILURE_THRESHOLD %q (must be a positive integer), using default 3", v)
		}
	}
	if cfg.PollFailureThreshold == 0 {
		cfg.PollFailureThreshold = 3
	}

	if v := os.Getenv("TRIGGER_BUS_BUFFER_SIZE"); v != "" {
		if n, err := parseInt(v); err == nil && n > 0 {
			cfg.TriggerBusBufferSize = n
		} else {
			log.Printf("config: invalid TRIGGER_BUS_BUFFER_SIZE %q (must be a positive integer), using default 100", v)
		}
	}
	if cfg.TriggerBusBufferSize == 0 {
		cfg.TriggerBusBufferSize = 100
	}

	if v := os.Getenv("RECENT_EVENTS_LIMIT"); v != "" {
		if n, err := parseInt(v); err == nil && n > 0 {
			cfg.RecentEventsLimit = n
		}
	}
	if cfg.RecentEventsLimit == 0 {
		cfg.RecentEventsLimit = 200
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.StoreBackend == "" {
		if cfg.DatabaseURL != "" {
			cfg.StoreBackend = "postgres"
		} else {
			cfg.StoreBackend = "file"
		}
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.PollIntervalStr == "" {
		cfg.PollIntervalStr = "30s"
	}
	if cfg.PollTimeoutStr == "" {
		cfg.PollTimeoutStr = "10s"
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "15s"
	}
	if cfg.TransitionTimeoutStr == "" {
		cfg.TransitionTimeoutStr = "10m"
	}
	if cfg.HookTimeoutStr == "" {
		cfg.HookTimeoutStr = "5m"
	}
	if cfg.HookKillGraceStr == "" {
		cfg.HookKillGraceStr = "5s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.RunnerDrainTimeoutStr == "" {
		cfg.RunnerDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.PollIntervalStr); err == nil {
		cfg.PollInterval = d
	}
	if d, err := time.ParseDuration(cfg.PollTimeoutStr); err == nil {
		cfg.PollTimeout = d
	}
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.TransitionTimeoutStr); err == nil {
		cfg.TransitionTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HookTimeoutStr); err == nil {
		cfg.HookTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HookKillGraceStr); err == nil {
		cfg.HookKillGrace = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.RunnerDrainTimeoutStr); err == nil {
		cfg.RunnerDrainTimeout = d
	}

	return cfg
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		ControlAPIURL        string   `json:"control_api_url"`
		ControlAPIToken      string   `json:"control_api_token"`
		Studios              []string `json:"studios"`
		StoreBackend         string   `json:"store_backend"`
		DataDir              string   `json:"data_dir"`
		DatabaseURL          string   `json:"database_url,omitempty"`
		RedisAddr            string   `json:"redis_addr,omitempty"`
		HTTPAddr             string   `json:"http_addr"`
		Timezone             string   `json:"timezone"`
		PollInterval         string   `json:"poll_interval"`
		PollTimeout          string   `json:"poll_timeout"`
		PollFailureThreshold int      `json:"poll_failure_threshold"`
		TickInterval         string   `json:"tick_interval"`
		TransitionTimeout    string   `json:"transition_timeout"`
		HookTimeout          string   `json:"hook_timeout"`
		HookKillGrace        string   `json:"hook_kill_grace"`
		DBOpTimeout          string   `json:"db_op_timeout"`
		HTTPShutdownTimeout  string   `json:"http_shutdown_timeout"`
		RunnerDrainTimeout   string   `json:"runner_drain_timeout"`
		TriggerBusBufferSize int      `json:"trigger_bus_buffer_size"`
		RecentEventsLimit    int      `json:"recent_events_limit"`
		MetricsEnabled       bool     `json:"metrics_enabled"`
		MetricsPath          string   `json:"metrics_path"`
		MetricsPort          string   `json:"metrics_port"`
	}{
		ControlAPIURL:        c.ControlAPIURL,
		ControlAPIToken:      maskSecret(c.ControlAPIToken),
		Studios:              c.Studios,
		StoreBackend:         c.StoreBackend,
		DataDir:              c.DataDir,
		DatabaseURL:          maskDatabaseURL(c.DatabaseURL),
		RedisAddr:            c.RedisAddr,
		HTTPAddr:             c.HTTPAddr,
		Timezone:             c.Timezone,
		PollInterval:         c.PollIntervalStr,
		PollTimeout:          c.PollTimeoutStr,
		PollFailureThreshold: c.PollFailureThreshold,
		TickInterval:         c.TickIntervalStr,
		TransitionTimeout:    c.TransitionTimeoutStr,
		HookTimeout:          c.HookTimeoutStr,
		HookKillGrace:        c.HookKillGraceStr,
		DBOpTimeout:          c.DBOpTimeoutStr,
		HTTPShutdownTimeout:  c.HTTPShutdownTimeoutStr,
		RunnerDrainTimeout:   c.RunnerDrainTimeoutStr,
		TriggerBusBufferSize: c.TriggerBusBufferSize,
		RecentEventsLimit:    c.RecentEventsLimit,
		MetricsEnabled:       c.MetricsEnabled,
		MetricsPath:          c.MetricsPath,
		MetricsPort:          c.MetricsPort,
	}
	return json.MarshalIndent(masked, "", "  ")
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// maskDatabaseURL masks a connection string, preserving only the URI
// scheme if present.
func maskDatabaseURL(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
