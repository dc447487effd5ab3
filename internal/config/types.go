package config

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrMissingWebhook is the only configuration problem that cannot be defaulted.
var ErrMissingWebhook = errors.New("WEBHOOK_URL (or DISCORD_WEBHOOK_URL) is not set")

// Config is the full runtime configuration. A config file uses the json tag
// names; environment variables use the upper-case names listed in env.go and
// take precedence.
type Config struct {
	WebhookURL string `json:"webhook_url"`
	// CheckIntervalSeconds is nil when unset; 0 means run once and exit.
	CheckIntervalSeconds *int   `json:"check_interval_seconds,omitempty"`
	CheckSchedule        string `json:"check_schedule,omitempty"`
	RunOnce              bool   `json:"run_once,omitempty"`

	LogLevel string `json:"log_level,omitempty"`
	LogFile  string `json:"log_file,omitempty"`
	LogJSON  bool   `json:"log_json,omitempty"`

	StateDriver string `json:"state_driver,omitempty"`
	StatePath   string `json:"state_path,omitempty"`
	RedisURL    string `json:"redis_url,omitempty"`
	RedisKey    string `json:"redis_key,omitempty"`

	HTTPTimeoutSeconds int  `json:"http_timeout_seconds,omitempty"`
	NotifyDelaySeconds *int `json:"notify_delay_seconds,omitempty"`

	FetchFailurePolicy string   `json:"fetch_failure_policy,omitempty"`
	FilterLines        []string `json:"filter_lines,omitempty"`

	BVGURL    string `json:"bvg_url,omitempty"`
	SBahnURL  string `json:"sbahn_url,omitempty"`
	HAFASURL  string `json:"hafas_url,omitempty"`
	GTFSRTURL string `json:"gtfs_rt_url,omitempty"`
	VBBAPIKey string `json:"vbb_api_key,omitempty"`

	TelegramToken    string `json:"telegram_token,omitempty"`
	TelegramChatID   int64  `json:"telegram_chat_id,omitempty"`
	TelegramThreadID int    `json:"telegram_thread_id,omitempty"`

	Port     int    `json:"port,omitempty"`
	HTTPAddr string `json:"http_addr,omitempty"`
	// Pprof mounts the runtime profiler under /debug on the health server.
	Pprof    bool   `json:"pprof,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

const (
	DefaultCheckInterval = 300 * time.Second
	DefaultHTTPTimeout   = 15 * time.Second
	DefaultNotifyDelay   = 2 * time.Second
	DefaultStatePath     = "data/disruptions_cache.json"
	DefaultPort          = 10000
	DefaultTimezone      = "Europe/Berlin"
	DefaultLogLevel      = "info"
)

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	if c.CheckIntervalSeconds != nil {
		v := *c.CheckIntervalSeconds
		cp.CheckIntervalSeconds = &v
	}
	if c.NotifyDelaySeconds != nil {
		v := *c.NotifyDelaySeconds
		cp.NotifyDelaySeconds = &v
	}
	cp.FilterLines = append([]string(nil), c.FilterLines...)
	return &cp
}

// CheckInterval is the pause between passes. Zero means a single pass.
func (c *Config) CheckInterval() time.Duration {
	if c.CheckIntervalSeconds == nil {
		return DefaultCheckInterval
	}
	return time.Duration(*c.CheckIntervalSeconds) * time.Second
}

// SinglePass reports whether the process should run one pass and exit.
func (c *Config) SinglePass() bool {
	if c.RunOnce {
		return true
	}
	return strings.TrimSpace(c.CheckSchedule) == "" && c.CheckInterval() == 0
}

// Schedule returns the trigger expression for the pass loop.
func (c *Config) Schedule() string {
	if s := strings.TrimSpace(c.CheckSchedule); s != "" {
		return s
	}
	return "@every " + c.CheckInterval().String()
}

func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTPTimeoutSeconds <= 0 {
		return DefaultHTTPTimeout
	}
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) NotifyDelay() time.Duration {
	if c.NotifyDelaySeconds == nil {
		return DefaultNotifyDelay
	}
	return time.Duration(*c.NotifyDelaySeconds) * time.Second
}

func (c *Config) Policy() string {
	if p := strings.ToLower(strings.TrimSpace(c.FetchFailurePolicy)); p != "" {
		return p
	}
	return "keep"
}

func (c *Config) Driver() string {
	if d := strings.ToLower(strings.TrimSpace(c.StateDriver)); d != "" {
		return d
	}
	return "file"
}

func (c *Config) StateLocation() string {
	if p := strings.TrimSpace(c.StatePath); p != "" {
		return p
	}
	return DefaultStatePath
}

func (c *Config) Level() string {
	if l := strings.TrimSpace(c.LogLevel); l != "" {
		return strings.ToLower(l)
	}
	return DefaultLogLevel
}

func (c *Config) TZ() string {
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		return tz
	}
	return DefaultTimezone
}

// ListenAddr is the health server address. HTTP_ADDR wins over PORT.
func (c *Config) ListenAddr() string {
	if a := strings.TrimSpace(c.HTTPAddr); a != "" {
		return a
	}
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return ":" + strconv.Itoa(port)
}

// TelegramEnabled reports whether the Telegram mirror sink is configured.
func (c *Config) TelegramEnabled() bool {
	return strings.TrimSpace(c.TelegramToken) != "" && c.TelegramChatID != 0
}
