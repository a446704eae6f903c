package website

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.PageCacheEntry
	bodies  map[string]domain.PageBody
	cleaned map[string]struct{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: make(map[string]domain.PageCacheEntry),
		bodies:  make(map[string]domain.PageBody),
	}
}

func (c *fakeCache) Has(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[url]
	return ok
}

func (c *fakeCache) Get(url string) (domain.PageCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[url]
	return entry, ok
}

func (c *fakeCache) GetBody(url string) (domain.PageBody, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.bodies[url]
	return body, ok
}

func (c *fakeCache) Save(url, html, text string, meta domain.PageMeta) (domain.PageCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := domain.PageCacheEntry{
		URL:      url,
		Title:    meta.Title,
		PageType: meta.PageType,
		CachedAt: time.Now().UTC(),
	}
	c.entries[url] = entry
	c.bodies[url] = domain.PageBody{URL: url, HTML: html, Text: text}
	return entry, nil
}

func (c *fakeCache) IsFresh(string, []byte) bool { return false }

func (c *fakeCache) Remove(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
	delete(c.bodies, url)
	return nil
}

func (c *fakeCache) CleanupStale(validURLs map[string]struct{}) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleaned = validURLs
	return 0, nil
}

func (c *fakeCache) URLs() []string { return nil }

func (c *fakeCache) Stats() domain.CacheStats { return domain.CacheStats{} }

func (c *fakeCache) cleanedWith() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleaned
}

// countingMux tracks how often each path was served.
type countingMux struct {
	mu   sync.Mutex
	hits map[string]int
	mux  *http.ServeMux
}

func newCountingMux() *countingMux {
	return &countingMux{hits: make(map[string]int), mux: http.NewServeMux()}
}

func (m *countingMux) handle(path string, handler http.HandlerFunc) {
	m.mux.HandleFunc(path, handler)
}

func (m *countingMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.hits[r.URL.Path]++
	m.mu.Unlock()
	m.mux.ServeHTTP(w, r)
}

func (m *countingMux) count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

func fastConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		CrawlDelay: time.Millisecond,
		Timeout:    5 * time.Second,
	}
}

func drain(t *testing.T, s *Source) []domain.RawDocument {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	docs, errs := s.Documents(ctx)
	var out []domain.RawDocument
	for doc := range docs {
		out = append(out, doc)
	}
	if err := <-errs; err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	return out
}

func TestSearchIndexFastPath(t *testing.T) {
	mux := newCountingMux()
	mux.handle("/search/search_index.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"docs":[
			{"location":"guides/start/","title":"Start","text":"welcome to the product"},
			{"location":"guides/start/#install","title":"Install","text":"section text"},
			{"location":"empty/","title":"Empty","text":"  "}
		]}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cache := newFakeCache()
	s := New(fastConfig(server.URL), cache, nil, nil, discardLogger())

	got := drain(t, s)
	if len(got) != 1 {
		t.Fatalf("got %d documents, want 1: %v", len(got), got)
	}
	doc := got[0]
	wantURL := server.URL + "/guides/start/"
	if doc.URI != wantURL {
		t.Errorf("URI = %q, want %q", doc.URI, wantURL)
	}
	if doc.Meta.Title != "Start" {
		t.Errorf("Title = %q", doc.Meta.Title)
	}
	if string(doc.Bytes) != "welcome to the product" {
		t.Errorf("Bytes = %q", doc.Bytes)
	}
	if mux.count("/sitemap.xml") != 0 {
		t.Error("sitemap fetched despite search index fast path")
	}
	if _, ok := cache.GetBody(wantURL); !ok {
		t.Error("fast path page not cached")
	}
	if _, ok := cache.cleanedWith()[wantURL]; !ok {
		t.Error("CleanupStale not run with fast path frontier")
	}
}

func TestSitemapFrontierFiltersAndEmits(t *testing.T) {
	mux := newCountingMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.handle("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<urlset>
  <url><loc>%s/guides/start</loc></url>
  <url><loc>%s/faq</loc></url>
  <url><loc>%s/internal/tools</loc></url>
  <url><loc>https://elsewhere.example.com/guides/start</loc></url>
</urlset>`, server.URL, server.URL, server.URL)
	})
	mux.handle("/guides/start", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><head><title>Start</title></head><body>start</body></html>")
	})
	mux.handle("/faq", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>faq</body></html>")
	})

	cfg := fastConfig(server.URL)
	cfg.DenyPrefixes = []string{"/internal"}
	cache := newFakeCache()
	s := New(cfg, cache, nil, nil, discardLogger())

	got := drain(t, s)
	if len(got) != 2 {
		t.Fatalf("got %d documents, want 2", len(got))
	}
	if got[0].URI != server.URL+"/guides/start" || got[1].URI != server.URL+"/faq" {
		t.Errorf("URIs = %q, %q", got[0].URI, got[1].URI)
	}
	if !strings.Contains(strings.ToLower(got[0].Meta.ContentType), "html") {
		t.Errorf("ContentType = %q", got[0].Meta.ContentType)
	}
	if mux.count("/internal/tools") != 0 {
		t.Error("denied page was fetched")
	}
	valid := cache.cleanedWith()
	if len(valid) != 2 {
		t.Errorf("CleanupStale valid set = %v", valid)
	}
}

func TestSitemapIndexFollowsOneLevel(t *testing.T) {
	mux := newCountingMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.handle("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<sitemapindex>
  <sitemap><loc>%s/sitemap-a.xml</loc></sitemap>
  <sitemap><loc>%s/sitemap-b.xml</loc></sitemap>
</sitemapindex>`, server.URL, server.URL)
	})
	mux.handle("/sitemap-a.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<urlset><url><loc>%s/a</loc></url></urlset>`, server.URL)
	})
	mux.handle("/sitemap-b.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<urlset><url><loc>%s/b</loc></url></urlset>`, server.URL)
	})
	mux.handle("/a", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "<html><body>a</body></html>") })
	mux.handle("/b", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "<html><body>b</body></html>") })

	s := New(fastConfig(server.URL), newFakeCache(), nil, nil, discardLogger())
	got := drain(t, s)
	if len(got) != 2 {
		t.Fatalf("got %d documents, want 2", len(got))
	}
}

func TestSitemapFrontierSkipsUnfetchablePages(t *testing.T) {
	mux := newCountingMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.handle("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<urlset>
  <url><loc>%s/gone</loc></url>
  <url><loc>%s/ok</loc></url>
</urlset>`, server.URL, server.URL)
	})
	mux.handle("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.handle("/ok", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>ok</body></html>")
	})

	s := New(fastConfig(server.URL), newFakeCache(), nil, nil, discardLogger())
	got := drain(t, s)
	if len(got) != 1 {
		t.Fatalf("got %d documents, want 1", len(got))
	}
	if got[0].URI != server.URL+"/ok" {
		t.Errorf("URI = %q, want %q", got[0].URI, server.URL+"/ok")
	}
}

func TestSeedCrawlFollowsInDomainLinks(t *testing.T) {
	mux := newCountingMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.handle("/start", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/next">next</a>
			<a href="/admin/secret">admin</a>
			<a href="/logo.png">logo</a>
			<a href="https://other.example.com/x">offsite</a>
			<a href="/start">self</a>
		</body></html>`)
	})
	mux.handle("/next", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/start">back</a></body></html>`)
	})

	cfg := fastConfig(server.URL)
	cfg.SeedURLs = []string{server.URL + "/start"}
	cfg.DenyPrefixes = []string{"/admin"}
	s := New(cfg, newFakeCache(), nil, nil, discardLogger())

	got := drain(t, s)
	if len(got) != 2 {
		t.Fatalf("got %d documents, want 2: %v", len(got), got)
	}
	if got[0].URI != server.URL+"/start" || got[1].URI != server.URL+"/next" {
		t.Errorf("URIs = %q, %q", got[0].URI, got[1].URI)
	}
	if mux.count("/admin/secret") != 0 {
		t.Error("denied link was fetched")
	}
}

func TestSeedCrawlHonorsMaxPages(t *testing.T) {
	mux := newCountingMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.handle("/start", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/next">next</a></body></html>`)
	})
	mux.handle("/next", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>next</body></html>`)
	})

	cfg := fastConfig(server.URL)
	cfg.SeedURLs = []string{server.URL + "/start"}
	cfg.MaxPages = 1
	s := New(cfg, newFakeCache(), nil, nil, discardLogger())

	got := drain(t, s)
	if len(got) != 1 {
		t.Fatalf("got %d documents, want 1", len(got))
	}
	if mux.count("/next") != 0 {
		t.Error("page beyond max_pages was fetched")
	}
}

func TestCachedPageSkipsNetwork(t *testing.T) {
	mux := newCountingMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	cachedURL := server.URL + "/guides/start"
	mux.handle("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<urlset><url><loc>%s</loc></url></urlset>`, cachedURL)
	})
	mux.handle("/guides/start", func(w http.ResponseWriter, r *http.Request) {
		t.Error("cached page fetched from network")
	})

	cache := newFakeCache()
	cachedAt := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	cache.entries[cachedURL] = domain.PageCacheEntry{URL: cachedURL, Title: "Start", PageType: "guide", CachedAt: cachedAt}
	cache.bodies[cachedURL] = domain.PageBody{URL: cachedURL, HTML: "<html><body>cached</body></html>"}

	s := New(fastConfig(server.URL), cache, nil, nil, discardLogger())
	got := drain(t, s)
	if len(got) != 1 {
		t.Fatalf("got %d documents, want 1", len(got))
	}
	doc := got[0]
	if !strings.Contains(string(doc.Bytes), "cached") {
		t.Errorf("Bytes = %q", doc.Bytes)
	}
	if !doc.FetchedAt.Equal(cachedAt) {
		t.Errorf("FetchedAt = %v, want cache time", doc.FetchedAt)
	}
	if doc.Meta.Title != "Start" {
		t.Errorf("Title = %q", doc.Meta.Title)
	}
}

func TestReaderFallbackOnDirectFailure(t *testing.T) {
	readerBody := "Title: Start\n\nURL Source: https://docs.example.com/guides/start\n\nMarkdown Content:\nrendered text"
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, readerBody)
	}))
	defer reader.Close()

	mux := newCountingMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.handle("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<urlset><url><loc>%s/guides/start</loc></url></urlset>`, server.URL)
	})
	mux.handle("/guides/start", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	cfg := fastConfig(server.URL)
	cfg.ReaderBase = reader.URL
	cache := newFakeCache()
	s := New(cfg, cache, nil, nil, discardLogger())

	got := drain(t, s)
	if len(got) != 1 {
		t.Fatalf("got %d documents, want 1", len(got))
	}
	if string(got[0].Bytes) != readerBody {
		t.Errorf("Bytes = %q", got[0].Bytes)
	}
	body, ok := cache.GetBody(server.URL + "/guides/start")
	if !ok {
		t.Fatal("reader result not cached")
	}
	if body.Text == "" || body.HTML != "" {
		t.Errorf("cached body = %+v, want text only", body)
	}
}

func TestRenderJSPrefersReader(t *testing.T) {
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "rendered by reader")
	}))
	defer reader.Close()

	mux := newCountingMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.handle("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<urlset><url><loc>%s/app</loc></url></urlset>`, server.URL)
	})
	mux.handle("/app", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>empty shell</body></html>")
	})

	cfg := fastConfig(server.URL)
	cfg.RenderJS = true
	cfg.ReaderBase = reader.URL
	s := New(cfg, newFakeCache(), nil, nil, discardLogger())

	got := drain(t, s)
	if len(got) != 1 {
		t.Fatalf("got %d documents, want 1", len(got))
	}
	if string(got[0].Bytes) != "rendered by reader" {
		t.Errorf("Bytes = %q", got[0].Bytes)
	}
	if mux.count("/app") != 0 {
		t.Error("direct fetch used despite render_js")
	}
}

func TestNoFrontierIsFatal(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	s := New(fastConfig(server.URL), newFakeCache(), nil, nil, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	docs, errs := s.Documents(ctx)
	for range docs {
		t.Error("unexpected document")
	}
	if err := <-errs; !domain.IsKind(err, domain.ErrTemporary) {
		t.Errorf("err = %v, want temporary frontier failure", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{BaseURL: "https://docs.example.com"}, false},
		{"missing base", Config{}, true},
		{"bad scheme", Config{BaseURL: "ftp://docs.example.com"}, true},
		{"relative base", Config{BaseURL: "/docs"}, true},
		{"bad seed scheme", Config{BaseURL: "https://docs.example.com", SeedURLs: []string{"ftp://x/y"}}, true},
		{"render_js without reader", Config{BaseURL: "https://docs.example.com", RenderJS: true}, true},
		{"render_js with reader", Config{BaseURL: "https://docs.example.com", RenderJS: true, ReaderBase: "https://r.example.com"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(tc.cfg, nil, nil, nil, discardLogger())
			err := s.Validate(context.Background())
			if tc.wantErr && !domain.IsKind(err, domain.ErrConfiguration) {
				t.Errorf("err = %v, want configuration error", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
