package webparser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/PuerkitoBio/goquery"

	"TenderWatch/internal/domain"
	"TenderWatch/internal/ports"
)

// WebSource fetches live pages from the announcement site. It performs no
// retries of its own; per-call deadlines arrive through the context.
type WebSource struct {
	client    *http.Client
	userAgent string
	baseURL   string
}

var _ ports.Source = (*WebSource)(nil)

// NewWebSource wires an HTTP client; a nil client falls back to a default.
func NewWebSource(client *http.Client, userAgent, baseURL string) *WebSource {
	if client == nil {
		client = &http.Client{}
	}
	return &WebSource{client: client, userAgent: userAgent, baseURL: baseURL}
}

// FetchListing downloads one listing page and extracts its items, category
// links and the next pagination URL.
func (s *WebSource) FetchListing(ctx context.Context, pageURL string) (domain.ListingPage, error) {
	html, err := s.get(ctx, pageURL)
	if err != nil {
		return domain.ListingPage{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.ListingPage{}, fmt.Errorf("parse listing %s: %w", pageURL, err)
	}

	page := domain.ListingPage{
		Items:      append(ParseListPage(doc), ParseNoticeListPage(doc)...),
		Mixed:      ParseZcptListPage(doc),
		Categories: ParseCategoryLinks(doc, s.baseURL),
		NextPage:   ParseNextPageURL(doc, pageURL),
	}
	if page.NextPage == "" {
		page.NextPage = ZcptNextPageURL(string(html), pageURL)
	}
	return page, nil
}

// FetchDetail downloads a detail page and returns its extracted body text.
func (s *WebSource) FetchDetail(ctx context.Context, pageURL string) (string, error) {
	html, err := s.get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse detail %s: %w", pageURL, err)
	}
	return ExtractDetailContent(doc), nil
}

func (s *WebSource) get(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", pageURL, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pageURL, err)
	}
	return body, nil
}

// FixtureSource serves static fixture pages from a directory, substituting
// for the live site in offline runs and tests.
type FixtureSource struct {
	dir string
}

var _ ports.Source = (*FixtureSource)(nil)

// NewFixtureSource points at a directory containing sample_list.html and
// sample_detail.html.
func NewFixtureSource(dir string) *FixtureSource {
	return &FixtureSource{dir: dir}
}

// FetchListing parses the list fixture; there is a single page, so no
// categories and no pagination.
func (s *FixtureSource) FetchListing(_ context.Context, _ string) (domain.ListingPage, error) {
	doc, err := s.open("sample_list.html")
	if err != nil {
		return domain.ListingPage{}, err
	}
	return domain.ListingPage{
		Items: append(ParseListPage(doc), ParseNoticeListPage(doc)...),
		Mixed: ParseZcptListPage(doc),
	}, nil
}

// FetchDetail parses the detail fixture regardless of the requested URL.
func (s *FixtureSource) FetchDetail(_ context.Context, _ string) (string, error) {
	doc, err := s.open("sample_detail.html")
	if err != nil {
		return "", err
	}
	return ExtractDetailContent(doc), nil
}

func (s *FixtureSource) open(name string) (*goquery.Document, error) {
	path := filepath.Join(s.dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return doc, nil
}
