package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Level names as operators write them. WARNING and CRITICAL are accepted so
// LOG_LEVEL values from older deployments keep working.
var levelNames = map[string]zerolog.Level{
	"TRACE":    zerolog.TraceLevel,
	"DEBUG":    zerolog.DebugLevel,
	"INFO":     zerolog.InfoLevel,
	"WARN":     zerolog.WarnLevel,
	"WARNING":  zerolog.WarnLevel,
	"ERROR":    zerolog.ErrorLevel,
	"CRITICAL": zerolog.ErrorLevel,
}

// ValidLevel reports whether s names a known level.
func ValidLevel(s string) bool {
	_, ok := levelNames[strings.ToUpper(strings.TrimSpace(s))]
	return ok
}

// ParseLevel maps s to a level, falling back to def for unknown names.
func ParseLevel(s string, def Level) Level {
	if l, ok := levelNames[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return l
	}
	return def
}
