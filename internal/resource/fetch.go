package resource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/careline-ai/careline/pkg/types"
)

const (
	maxResponseSize = 5 * 1024 * 1024 // 5MB
	defaultTimeout  = 30 * time.Second
	maxTimeout      = 120 * time.Second
)

// Snapshot is a point-in-time markdown capture of a resource page, used by
// operators to verify directory entries stay accurate.
type Snapshot struct {
	ResourceID string `json:"resourceID"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Markdown   string `json:"markdown"`
	Fetched    int64  `json:"fetched"` // Unix milliseconds
}

// Fetcher captures resource page snapshots.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher creates a fetcher with the configured timeout, clamped to a
// sane ceiling.
func NewFetcher(cfg types.ResourcesConfig) *Fetcher {
	timeout := cfg.FetchTimeout.Std()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Fetch retrieves a URL and returns its content as markdown. Non-HTML
// content is returned as-is.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, string, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "", "", fmt.Errorf("URL must start with http:// or https://")
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "careline-snapshot/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8,*/*;q=0.1")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("request failed with status code: %d", resp.StatusCode)
	}
	if resp.ContentLength > maxResponseSize {
		return "", "", fmt.Errorf("response too large (exceeds 5MB limit)")
	}

	limitedReader := io.LimitReader(resp.Body, maxResponseSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return "", "", fmt.Errorf("response too large (exceeds 5MB limit)")
	}

	content := string(body)
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return content, "", nil
	}

	title, err := extractTitle(content)
	if err != nil {
		title = ""
	}
	markdown, err := convertHTMLToMarkdown(content)
	if err != nil {
		return "", "", fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}
	return markdown, title, nil
}

// Capture fetches the page behind a directory entry. Entries without a URL
// yield an error.
func (f *Fetcher) Capture(ctx context.Context, res types.Resource) (*Snapshot, error) {
	if res.URL == "" {
		return nil, fmt.Errorf("resource %s has no URL", res.ID)
	}
	markdown, title, err := f.Fetch(ctx, res.URL)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ResourceID: res.ID,
		URL:        res.URL,
		Title:      title,
		Markdown:   markdown,
		Fetched:    time.Now().UnixMilli(),
	}, nil
}

// extractTitle pulls the page title from HTML.
func extractTitle(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

// convertHTMLToMarkdown converts HTML content to Markdown format.
func convertHTMLToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link")

	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", err
	}
	return markdown, nil
}
