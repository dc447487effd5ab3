package disruption

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"
)

// Source names the upstream a notice was observed on.
type Source string

const (
	SourceBVG   Source = "BVG"
	SourceSBahn Source = "S-Bahn"
	SourceHAFAS Source = "HAFAS"
	// SourceVBB is the VBB GTFS-Realtime alert feed.
	SourceVBB Source = "VBB"
)

// Known reports whether s is one of the built-in sources.
func (s Source) Known() bool {
	switch s {
	case SourceBVG, SourceSBahn, SourceHAFAS, SourceVBB:
		return true
	}
	return false
}

// Label is the human-readable name used in messages and in identities. The
// S-Bahn label matches caches written by earlier versions of the bot.
func (s Source) Label() string {
	if s == SourceSBahn {
		return "S-Bahn Berlin"
	}
	return string(s)
}

// ParseSource maps stored source names, including labels, back to a Source.
func ParseSource(v string) Source {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "bvg":
		return SourceBVG
	case "s-bahn", "s-bahn berlin", "sbahn":
		return SourceSBahn
	case "hafas":
		return SourceHAFAS
	case "vbb", "gtfs-rt", "gtfsrt":
		return SourceVBB
	}
	return Source(strings.TrimSpace(v))
}

// Categories set by the fetchers. Anything else is passed through as-is.
const (
	CategoryDisruption   = "disruption"
	CategoryConstruction = "construction"
	CategoryNotice       = "notice"
)

// Notice is one service disruption as observed on a source.
type Notice struct {
	ID         string    `json:"id"`
	Summary    string    `json:"title"`
	Detail     string    `json:"description"`
	Category   string    `json:"category,omitempty"`
	Source     Source    `json:"transport_type"`
	Lines      []string  `json:"lines,omitempty"`
	URL        string    `json:"url,omitempty"`
	ObservedAt time.Time `json:"timestamp"`
}

// EnsureID fills ID from the content identity when it is empty and returns it.
func (n *Notice) EnsureID() string {
	if n.ID == "" {
		n.ID = Identity(n.Source, n.Summary, n.Detail)
	}
	return n.ID
}

// HasLine reports whether the notice lists line (exact match).
func (n Notice) HasLine(line string) bool {
	for _, l := range n.Lines {
		if l == line {
			return true
		}
	}
	return false
}

// identityDetailRunes bounds how much of the detail feeds the identity so
// trailing edits ("updated 14:05") on long texts keep the same identity.
const identityDetailRunes = 100

// Identity returns the stable content identity of a notice: the lowercase hex
// MD5 of "label:summary:detail[:100 runes]".
func Identity(source Source, summary, detail string) string {
	sum := md5.Sum([]byte(source.Label() + ":" + summary + ":" + prefixRunes(detail, identityDetailRunes)))
	return hex.EncodeToString(sum[:])
}

// IdentityFromUpstream derives an identity from an id the upstream assigned.
func IdentityFromUpstream(source Source, id string) string {
	sum := md5.Sum([]byte(string(source) + ":id:" + id))
	return hex.EncodeToString(sum[:])
}

func prefixRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
