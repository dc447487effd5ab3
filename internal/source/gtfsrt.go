package source

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"stoerbot/internal/disruption"
)

// DefaultGTFSRTURL is the public VBB feed mirror used when no API key is set.
const DefaultGTFSRTURL = "https://gtfs.mfdz.de/VBB.gtfs.rt"

// VBBFeedURL returns the authenticated VBB feed for apiKey, or the public mirror.
func VBBFeedURL(apiKey string) string {
	if k := strings.TrimSpace(apiKey); k != "" {
		return "https://api.vbb.de/gtfs-rt/v1/feed?apikey=" + k
	}
	return DefaultGTFSRTURL
}

// GTFSRTFetcher reads service alerts from a GTFS-Realtime feed.
type GTFSRTFetcher struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewGTFSRT(url string, client *http.Client) *GTFSRTFetcher {
	return &GTFSRTFetcher{url: url, client: client, now: time.Now}
}

func (g *GTFSRTFetcher) Name() string              { return "gtfsrt" }
func (g *GTFSRTFetcher) Source() disruption.Source { return disruption.SourceVBB }

func (g *GTFSRTFetcher) Fetch(ctx context.Context) ([]disruption.Notice, error) {
	body, err := get(ctx, g.client, disruption.SourceVBB, g.url, "application/x-protobuf")
	if err != nil {
		return nil, err
	}
	return g.Parse(body)
}

// Parse decodes a FeedMessage and returns one notice per alert entity.
// Trip updates and vehicle positions are ignored.
func (g *GTFSRTFetcher) Parse(body []byte) ([]disruption.Notice, error) {
	var feed gtfs.FeedMessage
	if err := proto.Unmarshal(body, &feed); err != nil {
		return nil, &FetchError{Source: disruption.SourceVBB, Op: OpParse, Err: err}
	}

	now := g.now()
	var out []disruption.Notice
	for _, e := range feed.GetEntity() {
		a := e.GetAlert()
		if a == nil || e.GetIsDeleted() {
			continue
		}
		summary := cleanText(translated(a.GetHeaderText()))
		detail := cleanText(translated(a.GetDescriptionText()))
		if summary == "" && detail == "" {
			continue
		}

		var lines []string
		for _, ie := range a.GetInformedEntity() {
			lines = appendUnique(lines, ie.GetRouteId())
		}

		n := disruption.Notice{
			Summary:    summary,
			Detail:     detail,
			Category:   alertCategory(a),
			Source:     disruption.SourceVBB,
			Lines:      lines,
			URL:        translated(a.GetUrl()),
			ObservedAt: now,
		}
		if id := strings.TrimSpace(e.GetId()); id != "" {
			n.ID = disruption.IdentityFromUpstream(disruption.SourceVBB, id)
		}
		n.EnsureID()
		out = append(out, n)
	}
	return out, nil
}

// translated prefers the German translation, then the first one.
func translated(ts *gtfs.TranslatedString) string {
	tr := ts.GetTranslation()
	for _, t := range tr {
		if strings.EqualFold(t.GetLanguage(), "de") {
			return t.GetText()
		}
	}
	if len(tr) > 0 {
		return tr[0].GetText()
	}
	return ""
}

func alertCategory(a *gtfs.Alert) string {
	switch a.GetCause() {
	case gtfs.Alert_CONSTRUCTION, gtfs.Alert_MAINTENANCE:
		return disruption.CategoryConstruction
	}
	switch a.GetEffect() {
	case gtfs.Alert_NO_SERVICE, gtfs.Alert_REDUCED_SERVICE, gtfs.Alert_SIGNIFICANT_DELAYS, gtfs.Alert_DETOUR:
		return disruption.CategoryDisruption
	}
	return disruption.CategoryNotice
}
