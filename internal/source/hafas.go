package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"stoerbot/internal/disruption"
)

// hafasRemark is one entry of a HAFAS-style remarks/warnings response.
type hafasRemark struct {
	ID       json.RawMessage `json:"id"`
	Type     string          `json:"type"`
	Summary  string          `json:"summary"`
	Text     string          `json:"text"`
	Products []struct {
		Name string `json:"name"`
	} `json:"products"`
	Lines []struct {
		Name string `json:"name"`
	} `json:"lines"`
}

// HAFASFetcher reads a JSON list of remarks from a HAFAS-style REST endpoint
// (for example the v6.bvg.transport.rest /radar or /warnings family).
type HAFASFetcher struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewHAFAS(url string, client *http.Client) *HAFASFetcher {
	return &HAFASFetcher{url: url, client: client, now: time.Now}
}

func (h *HAFASFetcher) Name() string              { return "hafas" }
func (h *HAFASFetcher) Source() disruption.Source { return disruption.SourceHAFAS }

func (h *HAFASFetcher) Fetch(ctx context.Context) ([]disruption.Notice, error) {
	body, err := get(ctx, h.client, disruption.SourceHAFAS, h.url, "application/json")
	if err != nil {
		return nil, err
	}
	return h.Parse(body)
}

// Parse accepts a top-level array or an object wrapping it under "remarks"
// or "warnings".
func (h *HAFASFetcher) Parse(body []byte) ([]disruption.Notice, error) {
	remarks, err := decodeRemarks(body)
	if err != nil {
		return nil, &FetchError{Source: disruption.SourceHAFAS, Op: OpParse, Err: err}
	}

	now := h.now()
	out := make([]disruption.Notice, 0, len(remarks))
	for _, r := range remarks {
		summary := cleanText(r.Summary)
		detail := cleanText(r.Text)
		if summary == "" && detail == "" {
			continue
		}
		var lines []string
		for _, p := range r.Products {
			lines = appendUnique(lines, p.Name)
		}
		for _, l := range r.Lines {
			lines = appendUnique(lines, l.Name)
		}
		n := disruption.Notice{
			Summary:    summary,
			Detail:     detail,
			Category:   strings.TrimSpace(r.Type),
			Source:     disruption.SourceHAFAS,
			Lines:      lines,
			URL:        h.url,
			ObservedAt: now,
		}
		if id := rawID(r.ID); id != "" {
			n.ID = disruption.IdentityFromUpstream(disruption.SourceHAFAS, id)
		}
		n.EnsureID()
		out = append(out, n)
	}
	return out, nil
}

func decodeRemarks(body []byte) ([]hafasRemark, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == '[' {
		var rs []hafasRemark
		if err := json.Unmarshal(body, &rs); err != nil {
			return nil, err
		}
		return rs, nil
	}
	var wrapped struct {
		Remarks  []hafasRemark `json:"remarks"`
		Warnings []hafasRemark `json:"warnings"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	return append(wrapped.Remarks, wrapped.Warnings...), nil
}

// rawID renders string and numeric ids alike.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}
