package app

import (
	"net/http"
	"strings"
	"time"

	"stoerbot/internal/config"
	"stoerbot/internal/httpapi"
	"stoerbot/internal/monitor"
	"stoerbot/internal/notifier"
	"stoerbot/internal/source"
	"stoerbot/internal/storage"
	"stoerbot/internal/task/scheduler"
	logx "stoerbot/pkg/logx"
)

// webhookTimeout bounds one webhook delivery.
const webhookTimeout = 10 * time.Second

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Level(),
		Console: true,
		JSON:    cfg.LogJSON,
		File: logx.FileConfig{
			Enabled: strings.TrimSpace(cfg.LogFile) != "",
			Path:    strings.TrimSpace(cfg.LogFile),
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:   cfg.Driver(),
		Path:     cfg.StateLocation(),
		RedisURL: strings.TrimSpace(cfg.RedisURL),
		RedisKey: strings.TrimSpace(cfg.RedisKey),
	}
}

func mapRunnerOptions(cfg *config.Config) monitor.Options {
	policy, err := monitor.ParsePolicy(cfg.Policy())
	if err != nil {
		policy = monitor.PolicyKeep
	}
	return monitor.Options{
		Policy:        policy,
		FilterLines:   cfg.FilterLines,
		SourceTimeout: cfg.HTTPTimeout(),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	loc, err := time.LoadLocation(cfg.TZ())
	if err != nil {
		loc = notifier.DefaultLocation()
	}
	return notifier.Config{Delay: cfg.NotifyDelay(), Location: loc}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.TZ()}
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	return httpapi.Config{Addr: cfg.ListenAddr(), Pprof: cfg.Pprof}
}

// buildFetchers returns the enabled sources in announcement order. BVG and
// S-Bahn always run; HAFAS and GTFS-RT are opt-in.
func buildFetchers(cfg *config.Config, client *http.Client) []source.Fetcher {
	fs := []source.Fetcher{
		source.NewBVG(strings.TrimSpace(cfg.BVGURL), client),
		source.NewSBahn(strings.TrimSpace(cfg.SBahnURL), client),
	}
	if u := strings.TrimSpace(cfg.HAFASURL); u != "" {
		fs = append(fs, source.NewHAFAS(u, client))
	}
	switch {
	case strings.TrimSpace(cfg.GTFSRTURL) != "":
		fs = append(fs, source.NewGTFSRT(strings.TrimSpace(cfg.GTFSRTURL), client))
	case strings.TrimSpace(cfg.VBBAPIKey) != "":
		fs = append(fs, source.NewGTFSRT(source.VBBFeedURL(cfg.VBBAPIKey), client))
	}
	return fs
}

func buildSinks(cfg *config.Config, log logx.Logger) []notifier.Sink {
	sinks := []notifier.Sink{
		notifier.NewDiscord(strings.TrimSpace(cfg.WebhookURL), &http.Client{Timeout: webhookTimeout}),
	}
	if cfg.TelegramEnabled() {
		tg, err := notifier.NewTelegram(notifier.TelegramConfig{
			Token:    cfg.TelegramToken,
			ChatID:   cfg.TelegramChatID,
			ThreadID: cfg.TelegramThreadID,
		})
		if err != nil {
			log.Warn("telegram sink disabled", logx.Err(err))
		} else {
			sinks = append(sinks, tg)
		}
	}
	return sinks
}
