package source

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"stoerbot/internal/disruption"
)

const (
	DefaultBVGURL   = "https://www.bvg.de/de/verbindungen/stoerungsmeldungen"
	DefaultSBahnURL = "https://sbahn.berlin/fahren/bauen-stoerung/"
)

// Selector picks candidate notice elements. Class keywords match any element
// whose class attribute contains the keyword, case-insensitively; CSS is a
// plain goquery selector.
type Selector struct {
	ClassKeyword string
	CSS          string
}

func classContains(kw string) Selector { return Selector{ClassKeyword: kw} }
func css(sel string) Selector          { return Selector{CSS: sel} }

func (s Selector) String() string {
	if s.ClassKeyword != "" {
		return `[class*="` + s.ClassKeyword + `" i]`
	}
	return s.CSS
}

func (s Selector) find(doc *goquery.Document) *goquery.Selection {
	if s.ClassKeyword == "" {
		return doc.Find(s.CSS)
	}
	kw := strings.ToLower(s.ClassKeyword)
	return doc.Find("[class]").FilterFunction(func(_ int, el *goquery.Selection) bool {
		c, _ := el.Attr("class")
		return strings.Contains(strings.ToLower(c), kw)
	})
}

func (s Selector) category() string {
	switch strings.ToLower(s.ClassKeyword) {
	case "stoerung", "disruption", "alert":
		return disruption.CategoryDisruption
	case "baustelle", "construction":
		return disruption.CategoryConstruction
	}
	return disruption.CategoryNotice
}

// BVGSelectors and SBahnSelectors are tried in order; the first one that
// matches anything wins.
var (
	BVGSelectors = []Selector{
		classContains("stoerung"),
		classContains("disruption"),
		classContains("alert"),
		classContains("notice"),
		classContains("message"),
		css(".content-item"),
		css(".news-item"),
		css("article"),
	}
	SBahnSelectors = []Selector{
		classContains("stoerung"),
		classContains("disruption"),
		classContains("baustelle"),
		classContains("construction"),
		classContains("alert"),
		classContains("message"),
		css(".content-item"),
		css(".news-item"),
		css("article"),
	}
)

const (
	minTitleLen       = 10
	minDescriptionLen = 20
	maxTitleRunes     = 200
	maxDetailRunes    = 400
)

var skipWords = []string{"cookie", "datenschutz", "impressum", "navigation"}

const titleSelector = "h1, h2, h3, h4, h5, strong, .title"

// HTMLScraper extracts notices from a public web page.
type HTMLScraper struct {
	name      string
	source    disruption.Source
	url       string
	selectors []Selector
	client    *http.Client
	now       func() time.Time
}

func NewHTMLScraper(name string, src disruption.Source, url string, selectors []Selector, client *http.Client) *HTMLScraper {
	return &HTMLScraper{
		name:      name,
		source:    src,
		url:       url,
		selectors: selectors,
		client:    client,
		now:       time.Now,
	}
}

func NewBVG(url string, client *http.Client) *HTMLScraper {
	if strings.TrimSpace(url) == "" {
		url = DefaultBVGURL
	}
	return NewHTMLScraper("bvg", disruption.SourceBVG, url, BVGSelectors, client)
}

func NewSBahn(url string, client *http.Client) *HTMLScraper {
	if strings.TrimSpace(url) == "" {
		url = DefaultSBahnURL
	}
	return NewHTMLScraper("sbahn", disruption.SourceSBahn, url, SBahnSelectors, client)
}

func (h *HTMLScraper) Name() string              { return h.name }
func (h *HTMLScraper) Source() disruption.Source { return h.source }
func (h *HTMLScraper) URL() string               { return h.url }

func (h *HTMLScraper) Fetch(ctx context.Context) ([]disruption.Notice, error) {
	body, err := get(ctx, h.client, h.source, h.url, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	return h.Parse(body)
}

// Parse extracts notices from an already fetched page.
func (h *HTMLScraper) Parse(body []byte) ([]disruption.Notice, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Source: h.source, Op: OpParse, Err: err}
	}

	var (
		els *goquery.Selection
		hit Selector
	)
	for _, sel := range h.selectors {
		found := sel.find(doc)
		if found.Length() > 0 {
			els, hit = found, sel
			break
		}
	}
	if els == nil {
		return nil, nil
	}

	now := h.now()
	var out []disruption.Notice
	els.Each(func(_ int, el *goquery.Selection) {
		titleEl := el.Find(titleSelector).First()
		if titleEl.Length() == 0 {
			return
		}
		rawTitle := strings.TrimSpace(titleEl.Text())
		if rawTitle == "" {
			return
		}
		rawDesc := strings.TrimSpace(strings.ReplaceAll(el.Text(), rawTitle, ""))

		if utf8.RuneCountInString(rawTitle) <= minTitleLen || utf8.RuneCountInString(rawDesc) <= minDescriptionLen || hasSkipWord(rawTitle) {
			return
		}
		title := truncateRunes(cleanText(rawTitle), maxTitleRunes)
		desc := truncateRunes(cleanText(rawDesc), maxDetailRunes)
		n := disruption.Notice{
			// Keyed on the trimmed page text so existing caches keep matching.
			ID: disruption.Identity(h.source,
				truncateRunes(rawTitle, maxTitleRunes), truncateRunes(rawDesc, maxDetailRunes)),
			Summary:    title,
			Detail:     desc,
			Category:   hit.category(),
			Source:     h.source,
			Lines:      extractLines(title, desc),
			URL:        h.url,
			ObservedAt: now,
		}
		out = append(out, n)
	})
	return out, nil
}

func hasSkipWord(title string) bool {
	lt := strings.ToLower(title)
	for _, w := range skipWords {
		if strings.Contains(lt, w) {
			return true
		}
	}
	return false
}
