package source

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"stoerbot/internal/disruption"
	logx "stoerbot/pkg/logx"
)

const bvgPage = `<!doctype html>
<html><body>
<nav class="navigation-bar"><strong>Navigation und Service</strong></nav>
<div class="Stoerung-Item">
  <h3>U2 Unterbrechung zwischen Gleisdreieck und Nollendorfplatz</h3>
  <p>Wegen eines Polizeieinsatzes ist der Zugverkehr  unterbrochen.
     Bitte nutzen Sie die Buslinie M29.</p>
</div>
<div class="stoerung-item">
  <h3>Kurz</h3>
  <p>Zu kurzer Titel wird verworfen, auch wenn der Text lang genug ist.</p>
</div>
<div class="stoerung-item">
  <strong>Hinweis zum Datenschutz auf dieser Seite</strong>
  <p>Dieser Eintrag enthält ein Ausschlusswort im Titel und wird verworfen.</p>
</div>
<div class="stoerung-item"><p>Ohne Überschrift gibt es keinen Eintrag, egal wie lang.</p></div>
<article><h2>Artikel der nicht beachtet wird weil stoerung trifft</h2><p>Langer Artikeltext, der nicht gelesen werden soll.</p></article>
</body></html>`

func TestHTMLScraperParse(t *testing.T) {
	t.Parallel()
	s := NewBVG("https://example.org/bvg", nil)
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	got, err := s.Parse([]byte(bvgPage))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d notices, want 1: %+v", len(got), got)
	}
	n := got[0]
	if n.Summary != "U2 Unterbrechung zwischen Gleisdreieck und Nollendorfplatz" {
		t.Fatalf("Summary = %q", n.Summary)
	}
	if strings.Contains(n.Detail, "  ") || !strings.HasPrefix(n.Detail, "Wegen eines Polizeieinsatzes") {
		t.Fatalf("Detail = %q", n.Detail)
	}
	if n.Source != disruption.SourceBVG || n.URL != "https://example.org/bvg" || !n.ObservedAt.Equal(fixed) {
		t.Fatalf("notice meta = %+v", n)
	}
	if n.Category != disruption.CategoryDisruption {
		t.Fatalf("Category = %q", n.Category)
	}
	if want := []string{"U2", "M29"}; !reflect.DeepEqual(n.Lines, want) {
		t.Fatalf("Lines = %v, want %v", n.Lines, want)
	}
	if n.ID == "" || n.ID == disruption.Identity(disruption.SourceBVG, n.Summary, n.Detail) {
		t.Fatalf("ID = %q, want the key of the untouched page text", n.ID)
	}
}

func TestHTMLScraperIdentityMatchesCacheKey(t *testing.T) {
	t.Parallel()
	title := "Linie U1 gestört"
	p1 := "Zwischen Warschauer Straße und Schlesisches Tor fährt kein Zug."
	p2 := "Bitte nutzen Sie die Ersatzbusse zwischen beiden Bahnhöfen."
	page := "<div class=\"stoerung\"><h3>" + title + "</h3>\n<p>" + p1 + "</p>\n<p>" + p2 + "</p></div>"

	got, err := NewBVG("", nil).Parse([]byte(page))
	if err != nil || len(got) != 1 {
		t.Fatalf("Parse = %v, %v", got, err)
	}
	// Cache files written by earlier releases key on the stripped text with
	// its line breaks intact.
	raw := p1 + "\n" + p2
	sum := md5.Sum([]byte("BVG:" + title + ":" + string([]rune(raw)[:100])))
	if want := hex.EncodeToString(sum[:]); got[0].ID != want {
		t.Fatalf("ID = %s, want %s", got[0].ID, want)
	}
	if got[0].Detail != p1+" "+p2 {
		t.Fatalf("Detail = %q, want cleaned text", got[0].Detail)
	}
}

func TestHTMLScraperCountsCharacters(t *testing.T) {
	t.Parallel()
	desc := "Wegen einer Weichenstörung fahren die Züge unregelmäßig."
	for _, tc := range []struct {
		title string
		want  int
	}{
		{"Störung U1", 0},  // 10 characters, 11 bytes
		{"Störung U12", 1}, // 11 characters
	} {
		page := `<div class="stoerung"><h3>` + tc.title + `</h3><p>` + desc + `</p></div>`
		got, err := NewBVG("", nil).Parse([]byte(page))
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.title, err)
		}
		if len(got) != tc.want {
			t.Fatalf("Parse(%q) = %d notices, want %d", tc.title, len(got), tc.want)
		}
	}
}

func TestHTMLScraperSelectorPriority(t *testing.T) {
	t.Parallel()
	page := `<html><body>
<div class="baustelle-box"><h4>S41 Bauarbeiten am Wochenende</h4><p>Zwischen Westkreuz und Halensee fahren Ersatzbusse.</p></div>
<div class="content-item"><h4>Nicht gewählter Inhaltseintrag</h4><p>Dieser Eintrag wird nicht gelesen, da baustelle zuerst passt.</p></div>
</body></html>`
	got, err := NewSBahn("", nil).Parse([]byte(page))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 1 || !strings.HasPrefix(got[0].Summary, "S41") {
		t.Fatalf("got %+v", got)
	}
	if got[0].Category != disruption.CategoryConstruction || got[0].URL != DefaultSBahnURL {
		t.Fatalf("notice = %+v", got[0])
	}
}

func TestHTMLScraperTruncates(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("ü", 500)
	page := `<div class="alert"><h2>` + strings.Repeat("Titel ", 50) + `</h2><p>` + long + `</p></div>`
	got, err := NewBVG("", nil).Parse([]byte(page))
	if err != nil || len(got) != 1 {
		t.Fatalf("Parse = %v, %v", got, err)
	}
	if n := len([]rune(got[0].Summary)); n > maxTitleRunes {
		t.Fatalf("Summary runes = %d", n)
	}
	if n := len([]rune(got[0].Detail)); n != maxDetailRunes {
		t.Fatalf("Detail runes = %d, want %d", n, maxDetailRunes)
	}
}

func TestHTMLScraperNoMatch(t *testing.T) {
	t.Parallel()
	got, err := NewBVG("", nil).Parse([]byte(`<html><body><p>nichts</p></body></html>`))
	if err != nil || len(got) != 0 {
		t.Fatalf("Parse = %v, %v", got, err)
	}
}

func TestHTMLScraperFetchOverHTTP(t *testing.T) {
	t.Parallel()
	uaCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case uaCh <- r.Header.Get("User-Agent"):
		default:
		}
		_, _ = w.Write([]byte(bvgPage))
	}))
	defer srv.Close()

	got, err := NewBVG(srv.URL, srv.Client()).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d notices", len(got))
	}
	if ua := <-uaCh; ua != UserAgent {
		t.Fatalf("User-Agent = %q", ua)
	}
}

func TestFetchStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSBahn(srv.URL, srv.Client()).Fetch(context.Background())
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Op != OpStatus || fe.Source != disruption.SourceSBahn {
		t.Fatalf("err = %v, want status FetchError", err)
	}
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("errors.Is(err, ErrStatus) = false")
	}
}

func TestSafeSwallowsErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	safe := NewSafe(NewBVG(srv.URL, srv.Client()), logx.Nop())
	got, ok := safe.Fetch(context.Background())
	if ok || len(got) != 0 {
		t.Fatalf("Safe.Fetch = %v, %v; want empty, false", got, ok)
	}
	if safe.Name() != "bvg" || safe.Source() != disruption.SourceBVG {
		t.Fatalf("Safe identity = %s/%s", safe.Name(), safe.Source())
	}
}

type panicFetcher struct{}

func (panicFetcher) Name() string              { return "panic" }
func (panicFetcher) Source() disruption.Source { return disruption.SourceBVG }
func (panicFetcher) Fetch(context.Context) ([]disruption.Notice, error) {
	panic("boom")
}

func TestSafeRecoversPanic(t *testing.T) {
	t.Parallel()
	got, ok := NewSafe(panicFetcher{}, logx.Nop()).Fetch(context.Background())
	if ok || got != nil {
		t.Fatalf("Safe.Fetch = %v, %v", got, ok)
	}
}

func TestHAFASParse(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
		want int
	}{
		{"array", `[{"id": 7, "type": "warning", "summary": "U6 Ersatzverkehr", "text": "Zwischen  Tegel und Seestraße", "products": [{"name": "U6"}, {"name": "U6"}]}]`, 1},
		{"remarks", `{"remarks": [{"summary": "S1 Verspätungen", "text": "Reparatur an einem Stellwerk", "lines": [{"name": "S1"}]}, {"summary": "", "text": ""}]}`, 1},
		{"warnings", `{"warnings": [{"id": "a", "summary": "x", "text": "y"}, {"id": "b", "summary": "x2", "text": "y2"}]}`, 2},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewHAFAS("https://example.org/hafas", nil).Parse([]byte(tc.body))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("got %d notices, want %d", len(got), tc.want)
			}
		})
	}
}

func TestHAFASIdentityAndLines(t *testing.T) {
	t.Parallel()
	body := `[{"id": 7, "type": "warning", "summary": "U6 Ersatzverkehr", "text": "Zwischen  Tegel und Seestraße", "products": [{"name": "U6"}, {"name": "U6"}, {"name": "N6"}]}]`
	got, err := NewHAFAS("", nil).Parse([]byte(body))
	if err != nil || len(got) != 1 {
		t.Fatalf("Parse = %v, %v", got, err)
	}
	n := got[0]
	if n.ID != disruption.IdentityFromUpstream(disruption.SourceHAFAS, "7") {
		t.Fatalf("ID = %s, want upstream identity", n.ID)
	}
	if n.Detail != "Zwischen Tegel und Seestraße" || n.Category != "warning" {
		t.Fatalf("notice = %+v", n)
	}
	if want := []string{"U6", "N6"}; !reflect.DeepEqual(n.Lines, want) {
		t.Fatalf("Lines = %v, want %v", n.Lines, want)
	}
}

func TestHAFASParseError(t *testing.T) {
	t.Parallel()
	for _, body := range []string{"", "{", `"str"`} {
		_, err := NewHAFAS("", nil).Parse([]byte(body))
		var fe *FetchError
		if !errors.As(err, &fe) || fe.Op != OpParse {
			t.Fatalf("Parse(%q) err = %v, want parse FetchError", body, err)
		}
	}
}

func feedBytes(t *testing.T) []byte {
	t.Helper()
	tr := func(lang, text string) *gtfs.TranslatedString_Translation {
		return &gtfs.TranslatedString_Translation{Language: proto.String(lang), Text: proto.String(text)}
	}
	cause := gtfs.Alert_CONSTRUCTION
	effect := gtfs.Alert_DETOUR
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("alert-1"),
				Alert: &gtfs.Alert{
					Cause:  &cause,
					Effect: &effect,
					HeaderText: &gtfs.TranslatedString{Translation: []*gtfs.TranslatedString_Translation{
						tr("en", "Tram M10 detour"), tr("de", "Tram M10 Umleitung"),
					}},
					DescriptionText: &gtfs.TranslatedString{Translation: []*gtfs.TranslatedString_Translation{
						tr("en", "Due to construction works"),
					}},
					InformedEntity: []*gtfs.EntitySelector{{RouteId: proto.String("M10")}, {RouteId: proto.String("M10")}},
				},
			},
			{Id: proto.String("trip-1"), TripUpdate: &gtfs.TripUpdate{Trip: &gtfs.TripDescriptor{TripId: proto.String("t")}}},
			{Id: proto.String("alert-empty"), Alert: &gtfs.Alert{}},
		},
	}
	b, err := proto.Marshal(feed)
	if err != nil {
		t.Fatalf("marshal feed: %v", err)
	}
	return b
}

func TestGTFSRTParse(t *testing.T) {
	t.Parallel()
	got, err := NewGTFSRT("", nil).Parse(feedBytes(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d notices, want 1: %+v", len(got), got)
	}
	n := got[0]
	if n.Summary != "Tram M10 Umleitung" || n.Detail != "Due to construction works" {
		t.Fatalf("texts = %q / %q", n.Summary, n.Detail)
	}
	if n.Category != disruption.CategoryConstruction || n.Source != disruption.SourceVBB {
		t.Fatalf("notice = %+v", n)
	}
	if want := []string{"M10"}; !reflect.DeepEqual(n.Lines, want) {
		t.Fatalf("Lines = %v, want %v", n.Lines, want)
	}
	if n.ID != disruption.IdentityFromUpstream(disruption.SourceVBB, "alert-1") {
		t.Fatalf("ID = %s", n.ID)
	}
}

func TestGTFSRTParseGarbage(t *testing.T) {
	t.Parallel()
	_, err := NewGTFSRT("", nil).Parse([]byte{0xff, 0xff, 0xff})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Op != OpParse {
		t.Fatalf("err = %v, want parse FetchError", err)
	}
}

func TestVBBFeedURL(t *testing.T) {
	t.Parallel()
	if VBBFeedURL("") != DefaultGTFSRTURL {
		t.Fatalf("empty key should use public mirror")
	}
	if got := VBBFeedURL(" k "); got != "https://api.vbb.de/gtfs-rt/v1/feed?apikey=k" {
		t.Fatalf("VBBFeedURL = %q", got)
	}
}

func TestExtractLines(t *testing.T) {
	t.Parallel()
	got := extractLines("U1 und S41 betroffen, Tram 12 fährt; S410 ist keine Linie", "Bus 100 und RE1, erneut U1")
	want := []string{"U1", "S41", "Tram 12", "Bus 100", "RE1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("extractLines = %v, want %v", got, want)
	}
}

func TestCleanText(t *testing.T) {
	t.Parallel()
	// "e" + combining acute becomes the precomposed rune under NFC.
	if got := cleanText("  Cafe\u0301 \n\t offen "); got != "Caf\u00e9 offen" {
		t.Fatalf("cleanText = %q", got)
	}
}
