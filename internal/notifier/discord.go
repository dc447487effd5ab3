package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Discord embed limits.
const (
	discordDescriptionLimit = 4096
	discordFieldValueLimit  = 1024
)

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color"`
	Timestamp   string              `json:"timestamp"`
	Footer      discordEmbedFooter  `json:"footer"`
	Thumbnail   discordEmbedImage   `json:"thumbnail"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordEmbedImage struct {
	URL string `json:"url"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordSink posts one embed per message to a Discord webhook.
type DiscordSink struct {
	url      string
	username string
	client   *http.Client
}

func NewDiscord(webhookURL string, client *http.Client) *DiscordSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DiscordSink{url: strings.TrimSpace(webhookURL), client: client}
}

// WithUsername overrides the webhook's display name.
func (d *DiscordSink) WithUsername(name string) *DiscordSink {
	d.username = strings.TrimSpace(name)
	return d
}

func (d *DiscordSink) Name() string { return "discord" }

func (d *DiscordSink) payload(m Message) discordPayload {
	e := discordEmbed{
		Title:       EmbedTitle,
		Description: truncate(m.Markdown(), discordDescriptionLimit),
		Color:       m.Color,
		Timestamp:   m.At.UTC().Format(time.RFC3339),
		Footer:      discordEmbedFooter{Text: EmbedFooter},
		Thumbnail:   discordEmbedImage{URL: ThumbnailURL},
	}
	if m.Notice.URL != "" {
		e.URL = m.Notice.URL
	}
	if len(m.Notice.Lines) > 0 {
		e.Fields = append(e.Fields, discordEmbedField{
			Name:   "🚏 Betroffene Linien",
			Value:  truncate(strings.Join(m.Notice.Lines, ", "), discordFieldValueLimit),
			Inline: true,
		})
	}
	return discordPayload{Username: d.username, Embeds: []discordEmbed{e}}
}

func (d *DiscordSink) Send(ctx context.Context, m Message) error {
	b, err := json.Marshal(d.payload(m))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: discord webhook http=%d: %s", ErrTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}
