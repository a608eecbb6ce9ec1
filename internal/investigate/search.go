package investigate

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"trustaudit/internal/sources"
)

// DefaultSearchURL is the DuckDuckGo HTML endpoint; it needs no API key.
const DefaultSearchURL = "https://html.duckduckgo.com/html/"

// SearchResult represents a single search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs a free-text web search.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
	// Endpoint is the URL searches are sent to, used for rate limiting.
	Endpoint() string
}

// DuckDuckGo searches the DuckDuckGo HTML interface.
type DuckDuckGo struct {
	BaseURL string
	Client  *sources.HTTPClient
}

// NewDuckDuckGo creates a searcher. An empty baseURL uses DefaultSearchURL.
func NewDuckDuckGo(baseURL string, client *sources.HTTPClient) *DuckDuckGo {
	if baseURL == "" {
		baseURL = DefaultSearchURL
	}
	return &DuckDuckGo{BaseURL: baseURL, Client: client}
}

func (d *DuckDuckGo) Endpoint() string { return d.BaseURL }

// SearchURL returns the request URL for query.
func (d *DuckDuckGo) SearchURL(query string) string {
	sep := "?"
	if strings.Contains(d.BaseURL, "?") {
		sep = "&"
	}
	return d.BaseURL + sep + "q=" + url.QueryEscape(query)
}

// Search performs a search and returns at most maxResults results.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	body, err := d.Client.Get(ctx, d.SearchURL(query), nil)
	if err != nil {
		return nil, err
	}
	return parseDuckDuckGoResults(body, maxResults)
}

// parseDuckDuckGoResults extracts search results from DuckDuckGo HTML.
func parseDuckDuckGoResults(htmlContent string, maxResults int) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []SearchResult
	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attr(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				if r := extractResult(n); r.URL != "" && r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findResults(c)
		}
	}
	findResults(doc)
	return results, nil
}

func extractResult(n *html.Node) SearchResult {
	var result SearchResult

	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attr(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				result.URL = attr(n, "href")
				result.Title = textContent(n)
			case strings.Contains(class, "result__snippet"):
				result.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)

	result.URL = unwrapRedirect(result.URL)
	return result
}

// unwrapRedirect decodes DuckDuckGo's //duckduckgo.com/l/?uddg= links.
func unwrapRedirect(link string) string {
	if !strings.Contains(link, "duckduckgo.com/l/?") {
		return link
	}
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return link
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
