package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"stoerbot/internal/storage"
	"stoerbot/internal/task/scheduler"
	logx "stoerbot/pkg/logx"
)

// Validate reports every problem in cfg at once. A missing webhook is
// reported as ErrMissingWebhook so callers can match it.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.WebhookURL) == "" {
		errs = append(errs, ErrMissingWebhook)
	} else if err := validHTTPURL(cfg.WebhookURL); err != nil {
		bad("webhook_url: %w", err)
	}
	for name, raw := range map[string]string{
		"bvg_url":     cfg.BVGURL,
		"sbahn_url":   cfg.SBahnURL,
		"hafas_url":   cfg.HAFASURL,
		"gtfs_rt_url": cfg.GTFSRTURL,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if err := validHTTPURL(raw); err != nil {
			bad("%s: %w", name, err)
		}
	}

	if cfg.CheckIntervalSeconds != nil && *cfg.CheckIntervalSeconds < 0 {
		bad("check_interval_seconds: must be >= 0")
	}
	if s := strings.TrimSpace(cfg.CheckSchedule); s != "" {
		if _, err := scheduler.ParseSchedule(s); err != nil {
			bad("check_schedule: %w", err)
		}
	}
	if cfg.HTTPTimeoutSeconds < 0 {
		bad("http_timeout_seconds: must be >= 0")
	}
	if cfg.NotifyDelaySeconds != nil && *cfg.NotifyDelaySeconds < 0 {
		bad("notify_delay_seconds: must be >= 0")
	}

	if !logx.ValidLevel(cfg.Level()) {
		bad("log_level: unknown level %q", cfg.LogLevel)
	}
	switch cfg.Policy() {
	case "keep", "resolve":
	default:
		bad("fetch_failure_policy: %q is not keep or resolve", cfg.FetchFailurePolicy)
	}

	if !storage.ValidDriver(cfg.Driver()) {
		bad("state_driver: unknown driver %q", cfg.StateDriver)
	}
	if cfg.Driver() == "redis" && strings.TrimSpace(cfg.RedisURL) == "" {
		bad("redis_url: required for state_driver=redis")
	}

	if (strings.TrimSpace(cfg.TelegramToken) != "") != (cfg.TelegramChatID != 0) {
		bad("telegram: token and chat id must be set together")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		bad("port: %d out of range", cfg.Port)
	}
	if _, err := time.LoadLocation(cfg.TZ()); err != nil {
		bad("timezone: %w", err)
	}
	return errors.Join(errs...)
}

func validHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) url", raw)
	}
	return nil
}
