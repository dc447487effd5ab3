package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"stoerbot/internal/disruption"
)

// document is the on-disk (and in-Redis) state format.
//
// SentIDs carries the insertion order of ActiveDisruptions since JSON object
// key order does not survive decoding into a map.
type document struct {
	SentIDs           []string          `json:"sent_ids"`
	ActiveDisruptions map[string]record `json:"active_disruptions"`
	UpdatedAt         *time.Time        `json:"updated_at,omitempty"`
}

// record field names are shared with the legacy flat cache format.
type record struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	TransportType string   `json:"transport_type"`
	Category      string   `json:"category,omitempty"`
	Lines         []string `json:"lines,omitempty"`
	URL           string   `json:"url,omitempty"`
	Timestamp     string   `json:"timestamp,omitempty"`
}

func encodeState(k *disruption.KnownState, now time.Time) ([]byte, error) {
	doc := document{
		SentIDs:           []string{},
		ActiveDisruptions: map[string]record{},
	}
	if !now.IsZero() {
		doc.UpdatedAt = &now
	}
	for _, n := range k.Notices() {
		doc.SentIDs = append(doc.SentIDs, n.ID)
		doc.ActiveDisruptions[n.ID] = toRecord(n)
	}
	return json.MarshalIndent(doc, "", "  ")
}

func toRecord(n disruption.Notice) record {
	r := record{
		Title:         n.Summary,
		Description:   n.Detail,
		TransportType: string(n.Source),
		Category:      n.Category,
		Lines:         n.Lines,
		URL:           n.URL,
	}
	if !n.ObservedAt.IsZero() {
		r.Timestamp = n.ObservedAt.Format(time.RFC3339Nano)
	}
	return r
}

func (r record) notice(id string) disruption.Notice {
	return disruption.Notice{
		ID:         id,
		Summary:    r.Title,
		Detail:     r.Description,
		Category:   r.Category,
		Source:     disruption.ParseSource(r.TransportType),
		Lines:      r.Lines,
		URL:        r.URL,
		ObservedAt: parseTimestamp(r.Timestamp),
	}
}

// decodeState accepts the current document format and the legacy flat
// {id: record} cache. Missing fields default to empty values.
func decodeState(b []byte) (*disruption.KnownState, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return disruption.NewKnownState(), nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	records := map[string]record{}
	var order []string

	_, hasActive := top["active_disruptions"]
	_, hasSent := top["sent_ids"]
	if hasActive || hasSent {
		var doc document
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		for id, r := range doc.ActiveDisruptions {
			records[id] = r
		}
		order = doc.SentIDs
	} else {
		for id, raw := range top {
			var r record
			if err := json.Unmarshal(raw, &r); err != nil {
				continue
			}
			records[id] = r
		}
	}

	k := disruption.NewKnownState()
	placed := map[string]bool{}
	for _, id := range order {
		r, ok := records[id]
		if !ok || placed[id] || strings.TrimSpace(id) == "" {
			continue
		}
		placed[id] = true
		k.Put(r.notice(id))
	}

	var rest []disruption.Notice
	for id, r := range records {
		if placed[id] || strings.TrimSpace(id) == "" {
			continue
		}
		rest = append(rest, r.notice(id))
	}
	sort.Slice(rest, func(i, j int) bool {
		if !rest[i].ObservedAt.Equal(rest[j].ObservedAt) {
			return rest[i].ObservedAt.Before(rest[j].ObservedAt)
		}
		return rest[i].ID < rest[j].ID
	})
	for _, n := range rest {
		k.Put(n)
	}
	return k, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
