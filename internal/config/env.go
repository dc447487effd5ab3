package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Getenv looks up an environment variable; os.Getenv in production.
type Getenv func(key string) string

// ApplyEnv overlays environment variables onto cfg. Unset or empty
// variables leave the field alone. Legacy names are read when the current
// name is unset.
func ApplyEnv(cfg *Config, getenv Getenv) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				return v, true
			}
		}
		return "", false
	}
	str := func(dst *string, keys ...string) {
		if v, ok := get(keys...); ok {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, legacy ...string) (int, bool) {
		v, ok := get(append([]string{key}, legacy...)...)
		if !ok {
			return 0, false
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid integer %q", key, v))
			return 0, false
		}
		return n, true
	}

	flag := func(dst *bool, key string) {
		v, ok := get(key)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid bool %q", key, v))
			return
		}
		*dst = b
	}

	str(&cfg.WebhookURL, "WEBHOOK_URL", "DISCORD_WEBHOOK_URL")
	if n, ok := num("CHECK_INTERVAL_SECONDS", "CHECK_INTERVAL"); ok {
		cfg.CheckIntervalSeconds = &n
	}
	str(&cfg.CheckSchedule, "CHECK_SCHEDULE")
	// CI runners execute a single pass per job.
	if v, ok := get("RUN_ONCE", "GITHUB_ACTIONS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RunOnce = b
		}
	}
	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.LogFile, "LOG_FILE")
	flag(&cfg.LogJSON, "LOG_JSON")

	str(&cfg.StateDriver, "STATE_DRIVER")
	str(&cfg.StatePath, "STATE_PATH")
	str(&cfg.RedisURL, "REDIS_URL")
	str(&cfg.RedisKey, "REDIS_KEY")

	if n, ok := num("HTTP_TIMEOUT_SECONDS"); ok {
		cfg.HTTPTimeoutSeconds = n
	}
	if n, ok := num("NOTIFY_DELAY_SECONDS"); ok {
		cfg.NotifyDelaySeconds = &n
	}
	str(&cfg.FetchFailurePolicy, "FETCH_FAILURE_POLICY")
	if v, ok := get("FILTER_LINES"); ok {
		cfg.FilterLines = SplitList(v)
	}

	str(&cfg.BVGURL, "BVG_URL")
	str(&cfg.SBahnURL, "SBAHN_URL")
	str(&cfg.HAFASURL, "HAFAS_URL")
	str(&cfg.GTFSRTURL, "GTFS_RT_URL")
	str(&cfg.VBBAPIKey, "VBB_API_KEY")

	str(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	if v, ok := get("TELEGRAM_CHAT_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("TELEGRAM_CHAT_ID: invalid integer %q", v))
		} else {
			cfg.TelegramChatID = id
		}
	}
	if n, ok := num("TELEGRAM_THREAD_ID"); ok {
		cfg.TelegramThreadID = n
	}

	if n, ok := num("PORT"); ok {
		cfg.Port = n
	}
	str(&cfg.HTTPAddr, "HTTP_ADDR")
	flag(&cfg.Pprof, "PPROF_ENABLED")
	str(&cfg.Timezone, "TIMEZONE")

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SplitList splits a comma or whitespace separated list, dropping empties
// and duplicates.
func SplitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' || r == ' ' || r == '\t' })
	seen := map[string]struct{}{}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
