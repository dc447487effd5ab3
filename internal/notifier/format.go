package notifier

import (
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"stoerbot/internal/disruption"
)

const (
	EmbedTitle   = "🚇 Berlin ÖPNV Störungsmelder"
	EmbedFooter  = "BVG & S-Bahn Störungsmelder • Made with ❤️"
	ThumbnailURL = "https://upload.wikimedia.org/wikipedia/commons/thumb/d/d2/BVG_logo.svg/200px-BVG_logo.svg.png"

	ColorNew          = 0xff4444
	ColorConstruction = 0xffa500
	ColorNotice       = 0x3498db
	ColorResolved     = 0x44ff44

	timeLayout = "02.01.2006 15:04:05"
)

// Message is a notification rendered once and shared by all sinks.
type Message struct {
	Kind   Kind
	Notice disruption.Notice
	At     time.Time

	Headline  string // "🚨 NEUE STÖRUNG - BVG"
	DetailTag string // label in front of the description
	TimeTag   string // label in front of the time
	Time      string // At rendered in the configured location
	Color     int
}

// DefaultLocation is Europe/Berlin, or the process-local zone if tzdata is
// unavailable.
func DefaultLocation() *time.Location {
	if loc, err := time.LoadLocation("Europe/Berlin"); err == nil {
		return loc
	}
	return time.Local
}

// Format renders n for kind at the given time.
func Format(n disruption.Notice, kind Kind, at time.Time, loc *time.Location) Message {
	if loc == nil {
		loc = DefaultLocation()
	}
	m := Message{
		Kind:   kind,
		Notice: n,
		At:     at,
		Time:   at.In(loc).Format(timeLayout),
	}
	label := n.Source.Label()
	switch kind {
	case KindResolved:
		m.Headline = "✅ STÖRUNG BEHOBEN - " + label
		m.DetailTag = "📝 Ursprüngliche Beschreibung:"
		m.TimeTag = "🕐 Behoben um:"
		m.Color = ColorResolved
	default:
		m.Headline = "🚨 NEUE STÖRUNG - " + label
		m.DetailTag = "📝 Beschreibung:"
		m.TimeTag = "🕐 Erkannt um:"
		m.Color = severityColor(n.Category)
	}
	return m
}

func severityColor(category string) int {
	switch strings.ToLower(category) {
	case disruption.CategoryConstruction:
		return ColorConstruction
	case disruption.CategoryNotice, "info", "hint":
		return ColorNotice
	}
	return ColorNew
}

// Markdown renders the Discord description.
func (m Message) Markdown() string {
	var b strings.Builder
	b.WriteString("**" + m.Headline + "**\n\n")
	b.WriteString("**📍 Titel:** " + m.Notice.Summary + "\n\n")
	b.WriteString("**" + m.DetailTag + "** " + m.Notice.Detail + "\n\n")
	b.WriteString("**" + m.TimeTag + "** " + m.Time)
	if m.Kind == KindNew && m.Notice.URL != "" {
		b.WriteString("\n\n**🔗 Quelle:** " + m.Notice.URL)
	}
	return b.String()
}

// HTML renders the Telegram text (ParseMode HTML).
func (m Message) HTML() string {
	e := html.EscapeString
	var b strings.Builder
	b.WriteString("<b>" + e(m.Headline) + "</b>\n\n")
	b.WriteString("<b>📍 Titel:</b> " + e(m.Notice.Summary) + "\n\n")
	b.WriteString("<b>" + e(m.DetailTag) + "</b> " + e(m.Notice.Detail) + "\n\n")
	if len(m.Notice.Lines) > 0 {
		b.WriteString("<b>🚏 Linien:</b> " + e(strings.Join(m.Notice.Lines, ", ")) + "\n\n")
	}
	b.WriteString("<b>" + e(m.TimeTag) + "</b> " + e(m.Time))
	if m.Kind == KindNew && m.Notice.URL != "" {
		b.WriteString("\n\n<b>🔗 Quelle:</b> " + e(m.Notice.URL))
	}
	return b.String()
}

func truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	if maxRunes < 4 {
		return string(r[:maxRunes])
	}
	return string(r[:maxRunes-1]) + "…"
}
