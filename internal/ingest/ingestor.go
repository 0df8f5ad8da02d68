// Package ingest fetches RSS/Atom feeds and normalizes their entries into
// candidate articles.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/ternarybob/arbor"

	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/pkg/models"
)

// DefaultUserAgent is the user agent string used for feed requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; marketpulse/1.0)"

// maxFeedBytes bounds how much of a feed body is read.
const maxFeedBytes = 10 << 20

// FetchResult is the outcome of fetching one source. Err is a
// *TransientSourceError when the whole fetch failed; Items then is empty.
type FetchResult struct {
	Source    models.Source
	Items     []models.FeedItem
	Malformed []*MalformedEntryError
	Attempts  int
	FetchedAt time.Time
	Err       error
}

// Failed reports whether the whole fetch failed.
func (r FetchResult) Failed() bool { return r.Err != nil }

// Ingestor fetches and parses feeds. It is safe for concurrent use.
type Ingestor struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	backoff   infra.Backoff
	maxItems  int
	logger    arbor.ILogger
	now       func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Ingestor) { i.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(i *Ingestor) {
		if ua != "" {
			i.userAgent = ua
		}
	}
}

// WithTimeout sets the per-source, per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(i *Ingestor) { i.timeout = d }
}

// WithBackoff sets the retry schedule used by FetchWithRetry.
func WithBackoff(b infra.Backoff) Option {
	return func(i *Ingestor) { i.backoff = b }
}

// WithMaxItems caps the number of items kept per feed. Zero keeps all.
func WithMaxItems(n int) Option {
	return func(i *Ingestor) { i.maxItems = n }
}

// WithLogger sets the logger.
func WithLogger(l arbor.ILogger) Option {
	return func(i *Ingestor) { i.logger = infra.OrNop(l) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// New creates an Ingestor.
func New(opts ...Option) *Ingestor {
	i := &Ingestor{
		client:    &http.Client{},
		userAgent: DefaultUserAgent,
		timeout:   30 * time.Second,
		backoff:   infra.Backoff{Base: time.Second, Factor: 2, Max: 30 * time.Second, MaxAttempts: 3},
		logger:    infra.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Fetch performs a single attempt against src.
func (i *Ingestor) Fetch(ctx context.Context, src models.Source) FetchResult {
	res := FetchResult{Source: src, Attempts: 1}
	items, malformed, err := i.fetchOnce(ctx, src)
	if err != nil {
		res.Err = &TransientSourceError{SourceID: src.ID, URL: src.URL, Attempts: 1, Err: err}
		return res
	}
	res.Items, res.Malformed, res.FetchedAt = items, malformed, i.now()
	return res
}

// FetchWithRetry fetches src, retrying whole-feed failures with exponential
// backoff. It never returns an error value; failures are carried in the result.
func (i *Ingestor) FetchWithRetry(ctx context.Context, src models.Source) FetchResult {
	res := FetchResult{Source: src}
	var (
		items     []models.FeedItem
		malformed []*MalformedEntryError
	)

	attempts, err := i.backoff.Retry(ctx, func(ctx context.Context) error {
		var ferr error
		items, malformed, ferr = i.fetchOnce(ctx, src)
		if ferr != nil {
			i.logger.Debug().Err(ferr).Str("source", src.ID).Str("url", src.URL).Msg("Feed fetch attempt failed")
		}
		return ferr
	})
	res.Attempts = attempts
	if err != nil {
		res.Err = &TransientSourceError{SourceID: src.ID, URL: src.URL, Attempts: attempts, Err: err}
		i.logger.Warn().Err(err).Str("source", src.ID).Str("url", src.URL).Int("attempts", attempts).Msg("Feed fetch failed")
		return res
	}

	for _, m := range malformed {
		i.logger.Debug().Str("source", src.ID).Str("link", m.Link).Int("index", m.Index).Str("reason", m.Reason).Msg("Skipped malformed feed item")
	}
	res.Items, res.Malformed, res.FetchedAt = items, malformed, i.now()
	i.logger.Info().Str("source", src.ID).Int("items", len(items)).Int("malformed", len(malformed)).Int("attempts", attempts).Msg("Feed fetched")
	return res
}

func (i *Ingestor) fetchOnce(ctx context.Context, src models.Source) ([]models.FeedItem, []*MalformedEntryError, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	body, err := i.doGet(ctx, src.URL)
	if err != nil {
		return nil, nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse feed: %w", err)
	}

	items, malformed := normalize(src, feed, i.maxItems)
	return items, malformed, nil
}

// doGet performs a GET request and returns the response body.
func (i *Ingestor) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", i.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// normalize converts parsed feed items, skipping malformed ones.
func normalize(src models.Source, feed *gofeed.Feed, maxItems int) ([]models.FeedItem, []*MalformedEntryError) {
	items := make([]models.FeedItem, 0, len(feed.Items))
	var malformed []*MalformedEntryError

	for idx, it := range feed.Items {
		if maxItems > 0 && len(items) >= maxItems {
			break
		}
		if it == nil {
			malformed = append(malformed, &MalformedEntryError{SourceID: src.ID, Index: idx, Reason: "empty item"})
			continue
		}

		title := strings.TrimSpace(cleanHTML(it.Title))
		link := strings.TrimSpace(it.Link)
		if title == "" {
			malformed = append(malformed, &MalformedEntryError{SourceID: src.ID, Index: idx, Link: link, Reason: "missing title"})
			continue
		}
		if link == "" {
			malformed = append(malformed, &MalformedEntryError{SourceID: src.ID, Index: idx, Reason: "missing link"})
			continue
		}
		if !validLink(link) {
			malformed = append(malformed, &MalformedEntryError{SourceID: src.ID, Index: idx, Link: link, Reason: "link is not an absolute http(s) URL"})
			continue
		}

		item := models.FeedItem{
			SourceID: src.ID,
			Title:    title,
			Link:     link,
			Summary:  cleanHTML(it.Description),
			Content:  cleanHTML(it.Content),
			Tags:     cleanTags(it.Categories),
		}
		if item.Summary == "" {
			item.Summary = item.Content
		}

		switch {
		case it.PublishedParsed != nil:
			item.PublishedAt = it.PublishedParsed.UTC()
		case it.UpdatedParsed != nil:
			item.PublishedAt = it.UpdatedParsed.UTC()
		}

		if it.Author != nil {
			item.Author = strings.TrimSpace(it.Author.Name)
		} else if len(it.Authors) > 0 && it.Authors[0] != nil {
			item.Author = strings.TrimSpace(it.Authors[0].Name)
		}

		item.ImageURL = imageURL(it)
		items = append(items, item)
	}
	return items, malformed
}

func validLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func imageURL(it *gofeed.Item) string {
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

func cleanTags(cats []string) []string {
	var out []string
	seen := make(map[string]bool, len(cats))
	for _, c := range cats {
		c = strings.TrimSpace(c)
		if c == "" || seen[strings.ToLower(c)] {
			continue
		}
		seen[strings.ToLower(c)] = true
		out = append(out, c)
	}
	return out
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
