package config

import (
	"reflect"
	"strings"

	logx "stoerbot/pkg/logx"
)

// Sections whose changes cannot be applied to a running process.
var restartSections = map[string]bool{"state": true, "http": true, "sources": true, "sinks": true}

// SummarizeConfigChange lists changed sections and safe log attributes.
// Secrets (webhook, tokens, api keys) are only reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var attrs []logx.Field

	if oldCfg.Schedule() != newCfg.Schedule() || oldCfg.SinglePass() != newCfg.SinglePass() || oldCfg.TZ() != newCfg.TZ() {
		changed = append(changed, "schedule")
		attrs = append(attrs, logx.String("schedule", newCfg.Schedule()), logx.String("timezone", newCfg.TZ()))
	}
	if oldCfg.Level() != newCfg.Level() || oldCfg.LogFile != newCfg.LogFile || oldCfg.LogJSON != newCfg.LogJSON {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("log.level", newCfg.Level()), logx.Bool("log.file_set", newCfg.LogFile != ""))
	}
	if oldCfg.NotifyDelay() != newCfg.NotifyDelay() {
		changed = append(changed, "notify")
		attrs = append(attrs, logx.Duration("notify.delay", newCfg.NotifyDelay()))
	}
	if oldCfg.Policy() != newCfg.Policy() || !reflect.DeepEqual(oldCfg.FilterLines, newCfg.FilterLines) {
		changed = append(changed, "pass")
		attrs = append(attrs, logx.String("pass.policy", newCfg.Policy()), logx.Strings("pass.filter_lines", newCfg.FilterLines))
	}
	if oldCfg.Driver() != newCfg.Driver() || oldCfg.StateLocation() != newCfg.StateLocation() ||
		oldCfg.RedisURL != newCfg.RedisURL || oldCfg.RedisKey != newCfg.RedisKey {
		changed = append(changed, "state")
		attrs = append(attrs, logx.String("state.driver", newCfg.Driver()))
	}
	if oldCfg.BVGURL != newCfg.BVGURL || oldCfg.SBahnURL != newCfg.SBahnURL || oldCfg.HAFASURL != newCfg.HAFASURL ||
		oldCfg.GTFSRTURL != newCfg.GTFSRTURL || oldCfg.VBBAPIKey != newCfg.VBBAPIKey || oldCfg.HTTPTimeout() != newCfg.HTTPTimeout() {
		changed = append(changed, "sources")
		attrs = append(attrs, logx.Bool("sources.hafas", newCfg.HAFASURL != ""), logx.Bool("sources.gtfs_rt", newCfg.GTFSRTURL != "" || newCfg.VBBAPIKey != ""))
	}
	if strings.TrimSpace(oldCfg.WebhookURL) != strings.TrimSpace(newCfg.WebhookURL) ||
		strings.TrimSpace(oldCfg.TelegramToken) != strings.TrimSpace(newCfg.TelegramToken) ||
		oldCfg.TelegramChatID != newCfg.TelegramChatID || oldCfg.TelegramThreadID != newCfg.TelegramThreadID {
		changed = append(changed, "sinks")
		attrs = append(attrs, logx.Bool("sinks.telegram", newCfg.TelegramEnabled()))
	}
	if oldCfg.ListenAddr() != newCfg.ListenAddr() || oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.ListenAddr()), logx.Bool("http.pprof", newCfg.Pprof))
	}
	return changed, attrs
}

// NeedsRestart filters the sections that only take effect after a restart.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}
