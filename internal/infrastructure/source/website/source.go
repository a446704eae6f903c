// Package website crawls a documentation site over HTTP. The URL frontier is
// resolved in priority order: prebuilt search index, sitemap, then a
// breadth-first crawl from seed URLs. Pages already in the crawl cache are
// served without touching the network.
package website

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
	"github.com/zakordonets/RAG-3-sub001/internal/core/ports"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/resilience"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/source"
	"github.com/zakordonets/RAG-3-sub001/internal/observability/metrics"
)

type Config struct {
	Name         string
	BaseURL      string
	SitemapURL   string
	SeedURLs     []string
	DenyPrefixes []string
	MaxPages     int
	RenderJS     bool
	ReaderBase   string
	UserAgent    string
	CrawlDelay   time.Duration
	Timeout      time.Duration
}

type Source struct {
	cfg     Config
	cache   ports.PageCache
	fetcher *fetcher
	metrics *metrics.IngestMetrics
	logger  *slog.Logger
}

func New(cfg Config, cache ports.PageCache, executor *resilience.Executor, m *metrics.IngestMetrics, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:     cfg,
		cache:   cache,
		fetcher: newFetcher(cfg, executor, logger),
		metrics: m,
		logger:  logger,
	}
}

func (s *Source) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return "website"
}

func (s *Source) Validate(ctx context.Context) error {
	base, err := s.baseURL()
	if err != nil {
		return domain.WrapError(domain.ErrConfiguration, "check base URL", err)
	}
	for _, seed := range s.cfg.SeedURLs {
		parsed, err := url.Parse(strings.TrimSpace(seed))
		if err != nil {
			return domain.WrapError(domain.ErrConfiguration, "check seed URL", err)
		}
		if parsed.IsAbs() && parsed.Scheme != "http" && parsed.Scheme != "https" {
			return domain.WrapError(domain.ErrConfiguration, "check seed URL",
				errors.New(seed+": scheme must be http or https"))
		}
		if !parsed.IsAbs() && base == nil {
			return domain.WrapError(domain.ErrConfiguration, "check seed URL",
				errors.New(seed+": relative seed needs a base URL"))
		}
	}
	if s.cfg.RenderJS && s.cfg.ReaderBase == "" {
		return domain.WrapError(domain.ErrConfiguration, "check reader",
			errors.New("render_js needs a reader endpoint"))
	}
	return nil
}

func (s *Source) baseURL() (*url.URL, error) {
	if strings.TrimSpace(s.cfg.BaseURL) == "" {
		return nil, errors.New("base URL not set")
	}
	parsed, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("base URL scheme must be http or https")
	}
	if parsed.Host == "" {
		return nil, errors.New("base URL must be absolute")
	}
	return parsed, nil
}

// Documents resolves the frontier and streams one raw document per page. Per
// page failures are logged and skipped; only a frontier that cannot be
// resolved at all is fatal.
func (s *Source) Documents(ctx context.Context) (<-chan domain.RawDocument, <-chan error) {
	docs := make(chan domain.RawDocument)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		base, err := s.baseURL()
		if err != nil {
			errs <- domain.WrapError(domain.ErrConfiguration, "resolve base URL", err)
			return
		}

		if emitted, done := s.emitFromSearchIndex(ctx, base, docs); done {
			s.logger.Info("frontier resolved from search index", "source", s.Name(), "pages", emitted)
			return
		}

		fr := newFrontier(base, s.cfg.DenyPrefixes, s.cfg.MaxPages)
		pages, err := s.frontierFromSitemap(ctx, base, fr)
		if err != nil {
			s.logger.Warn("sitemap unavailable, falling back to seeds", "source", s.Name(), "error", err)
		}
		if len(pages) > 0 {
			s.logger.Info("frontier resolved from sitemap", "source", s.Name(), "pages", len(pages))
			s.cleanupStale(fr.visited())
			s.emitPages(ctx, docs, pages)
			return
		}

		if len(s.cfg.SeedURLs) == 0 {
			errs <- domain.WrapError(domain.ErrTemporary, "resolve frontier",
				errors.New("no search index, no sitemap entries, and no seed URLs"))
			return
		}
		if err := s.crawlFromSeeds(ctx, base, fr, docs); err != nil {
			if !errors.Is(err, context.Canceled) {
				errs <- err
			}
			return
		}
		s.cleanupStale(fr.visited())
	}()

	return docs, errs
}

// emitFromSearchIndex is the fast path: when the site publishes a MkDocs
// search index, every page's text is already in one JSON file. Returns
// done=false when the index is absent, unreadable, or empty so the caller
// falls through to the sitemap.
func (s *Source) emitFromSearchIndex(ctx context.Context, base *url.URL, docs chan<- domain.RawDocument) (int, bool) {
	indexURL := base.JoinPath("search", "search_index.json").String()
	res, err := s.fetcher.get(ctx, indexURL, strategyDirect)
	if err != nil {
		s.logger.Debug("no search index", "url", indexURL, "error", err)
		return 0, false
	}
	var index searchIndex
	if err := json.Unmarshal(res.Body, &index); err != nil {
		s.logger.Warn("search index unreadable", "url", indexURL, "error", err)
		return 0, false
	}
	entries := index.pageEntries()
	if len(entries) == 0 {
		return 0, false
	}

	resolveBase := ensureTrailingSlash(base)
	fr := newFrontier(base, s.cfg.DenyPrefixes, s.cfg.MaxPages)
	emitted := 0
	for _, entry := range entries {
		if strings.TrimSpace(entry.Text) == "" {
			continue
		}
		pageURL, ok := fr.admit(entry.Location, resolveBase)
		if !ok {
			continue
		}
		pageType := source.PageTypeForURL(pageURL)
		s.saveToCache(pageURL, "", entry.Text, domain.PageMeta{Title: entry.Title, PageType: pageType})
		if s.metrics != nil {
			s.metrics.PageFetched(s.Name())
		}

		doc := domain.RawDocument{
			URI:       pageURL,
			FetchedAt: time.Now().UTC(),
			Bytes:     []byte(entry.Text),
			Meta: domain.DocumentMeta{
				Source:      s.Name(),
				SiteURL:     pageURL,
				Title:       entry.Title,
				PageType:    pageType,
				ContentType: "text",
			},
		}
		if !s.send(ctx, docs, doc) {
			return emitted, true
		}
		emitted++
	}
	if emitted == 0 {
		return 0, false
	}
	s.cleanupStale(fr.visited())
	return emitted, true
}

// frontierFromSitemap loads the sitemap and follows one level of sitemap
// index nesting, admitting every page URL through the frontier filter.
func (s *Source) frontierFromSitemap(ctx context.Context, base *url.URL, fr *frontier) ([]string, error) {
	sitemapURL := s.cfg.SitemapURL
	if sitemapURL == "" {
		sitemapURL = base.JoinPath("sitemap.xml").String()
	}
	pages, children, err := s.loadSitemap(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if fr.full() {
			break
		}
		childPages, _, err := s.loadSitemap(ctx, child)
		if err != nil {
			s.logger.Warn("child sitemap failed", "url", child, "error", err)
			continue
		}
		pages = append(pages, childPages...)
	}

	admitted := make([]string, 0, len(pages))
	for _, page := range pages {
		if normalized, ok := fr.admit(page, base); ok {
			admitted = append(admitted, normalized)
		}
	}
	return admitted, nil
}

func (s *Source) loadSitemap(ctx context.Context, sitemapURL string) ([]string, []string, error) {
	res, err := s.fetcher.get(ctx, sitemapURL, strategyDirect)
	if err != nil {
		return nil, nil, err
	}
	return parseSitemap(res.Body)
}

// crawlFromSeeds walks the site breadth-first, emitting every admitted page
// and growing the queue from anchors found in HTML bodies.
func (s *Source) crawlFromSeeds(ctx context.Context, base *url.URL, fr *frontier, docs chan<- domain.RawDocument) error {
	queue := make([]string, 0, len(s.cfg.SeedURLs))
	for _, seed := range s.cfg.SeedURLs {
		if normalized, ok := fr.admit(seed, base); ok {
			queue = append(queue, normalized)
		}
	}
	if len(queue) == 0 {
		return domain.WrapError(domain.ErrConfiguration, "admit seed URLs",
			errors.New("no seed URL passed the frontier filter"))
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		pageURL := queue[0]
		queue = queue[1:]

		doc, ok := s.loadPage(ctx, pageURL)
		if !ok {
			continue
		}
		// Only HTML bodies contribute outbound links.
		if strings.Contains(strings.ToLower(doc.Meta.ContentType), "html") {
			if pageBase, err := url.Parse(pageURL); err == nil {
				for _, link := range extractLinks(doc.Bytes) {
					if normalized, ok := fr.admit(link, pageBase); ok {
						queue = append(queue, normalized)
					}
				}
			}
		}
		if !s.send(ctx, docs, doc) {
			return ctx.Err()
		}
	}
	return nil
}

// emitPages walks a resolved frontier in order, loading and forwarding each
// page. Pages that fail to load were already logged by loadPage and are
// skipped.
func (s *Source) emitPages(ctx context.Context, docs chan<- domain.RawDocument, pages []string) {
	for _, pageURL := range pages {
		if ctx.Err() != nil {
			return
		}
		doc, ok := s.loadPage(ctx, pageURL)
		if !ok {
			continue
		}
		if !s.send(ctx, docs, doc) {
			return
		}
	}
}

// loadPage serves a page from the cache when present, otherwise fetches and
// caches it. A page that cannot be fetched is skipped, not fatal.
func (s *Source) loadPage(ctx context.Context, pageURL string) (domain.RawDocument, bool) {
	if s.cache != nil {
		if entry, ok := s.cache.Get(pageURL); ok {
			if body, ok := s.cache.GetBody(pageURL); ok {
				if s.metrics != nil {
					s.metrics.PageFromCache(s.Name())
				}
				return s.cachedDocument(pageURL, entry, body), true
			}
		}
	}

	res, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		s.logger.Warn("page fetch failed", "url", pageURL, "error", err)
		return domain.RawDocument{}, false
	}
	if s.metrics != nil {
		s.metrics.PageFetched(s.Name())
	}
	return s.fetchedDocument(pageURL, res), true
}

func (s *Source) cachedDocument(pageURL string, entry domain.PageCacheEntry, body domain.PageBody) domain.RawDocument {
	content := body.HTML
	contentType := "html"
	if content == "" {
		content = body.Text
		contentType = "text"
	}
	return domain.RawDocument{
		URI:       pageURL,
		FetchedAt: entry.CachedAt,
		Bytes:     []byte(content),
		Meta: domain.DocumentMeta{
			Source:      s.Name(),
			SiteURL:     pageURL,
			Title:       entry.Title,
			PageType:    entry.PageType,
			ContentType: contentType,
		},
	}
}

func (s *Source) fetchedDocument(pageURL string, res *fetchResult) domain.RawDocument {
	contentType := res.ContentType
	isHTML := res.Strategy == strategyDirect &&
		(contentType == "" || strings.Contains(strings.ToLower(contentType), "html"))
	if contentType == "" {
		if isHTML {
			contentType = "html"
		} else {
			contentType = "text"
		}
	}

	pageType := source.PageTypeForURL(pageURL)
	htmlBody, textBody := "", ""
	if isHTML {
		htmlBody = string(res.Body)
	} else {
		textBody = string(res.Body)
	}
	s.saveToCache(pageURL, htmlBody, textBody, domain.PageMeta{
		ETag:         res.ETag,
		LastModified: res.LastModified,
		PageType:     pageType,
	})

	return domain.RawDocument{
		URI:       pageURL,
		FetchedAt: time.Now().UTC(),
		Bytes:     res.Body,
		Meta: domain.DocumentMeta{
			Source:      s.Name(),
			SiteURL:     pageURL,
			PageType:    pageType,
			ContentType: contentType,
		},
	}
}

func (s *Source) saveToCache(pageURL, htmlBody, textBody string, meta domain.PageMeta) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Save(pageURL, htmlBody, textBody, meta); err != nil {
		s.logger.Warn("cache save failed", "url", pageURL, "error", err)
	}
}

func (s *Source) cleanupStale(valid map[string]struct{}) {
	if s.cache == nil || len(valid) == 0 {
		return
	}
	removed, err := s.cache.CleanupStale(valid)
	if err != nil {
		s.logger.Warn("cache cleanup failed", "source", s.Name(), "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("dropped stale cached pages", "source", s.Name(), "count", removed)
	}
}

func (s *Source) send(ctx context.Context, docs chan<- domain.RawDocument, doc domain.RawDocument) bool {
	select {
	case docs <- doc:
		return true
	case <-ctx.Done():
		return false
	}
}

func ensureTrailingSlash(u *url.URL) *url.URL {
	if strings.HasSuffix(u.Path, "/") {
		return u
	}
	clone := *u
	clone.Path += "/"
	return &clone
}
