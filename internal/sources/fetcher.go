package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"trustaudit/internal/logging"
	"trustaudit/internal/types"
)

// Result is what a fetcher reports for one subject.
type Result struct {
	Status     types.FetchStatus
	URL        string
	Raw        string
	Structured *types.StructuredPayload
}

// Fetcher retrieves one source's evidence for a subject. A returned error
// is a transport failure; "nothing found" is a not_found Result.
type Fetcher interface {
	Fetch(ctx context.Context, subject types.Subject) (*Result, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, subject types.Subject) (*Result, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, subject types.Subject) (*Result, error) {
	return f(ctx, subject)
}

// PageRenderer renders a URL in a real browser and returns the DOM.
type PageRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// HTTPClient is the shared outbound client for all HTTP fetchers.
type HTTPClient struct {
	HTTP      *http.Client
	UserAgent string
	MaxBody   int64
}

// NewHTTPClient creates a client with browser-like defaults.
func NewHTTPClient(userAgent string, timeout time.Duration) *HTTPClient {
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	return &HTTPClient{
		HTTP:      &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		MaxBody:   2 << 20,
	}
}

func (c *HTTPClient) do(req *http.Request, client *http.Client) (string, error) {
	req.Header.Set("User-Agent", c.UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	if client == nil {
		client = c.HTTP
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", &HTTPStatusError{URL: req.URL.String(), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.MaxBody))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}

// Get fetches a URL and returns the body.
func (c *HTTPClient) Get(ctx context.Context, target string, header http.Header) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return c.do(req, nil)
}

// notFoundResult builds a not_found Result, keeping a short head of the text.
func notFoundResult(target, text string) *Result {
	head := text
	if len(head) > 1000 {
		head = head[:1000]
	}
	return &Result{Status: types.FetchNotFound, URL: target, Raw: head}
}

// interpret runs the parser over text and shapes the Result.
func interpret(spec Spec, subject types.Subject, target, text string) (*Result, error) {
	parsed, err := spec.Parse(text, NewNameMatcher(subject.Name))
	if err != nil {
		if IsNotFound(err) {
			logging.SourcesDebug("%s: no match for %q: %v", spec.Name, subject.Name, err)
			return notFoundResult(target, text), nil
		}
		return nil, err
	}
	raw := parsed.Excerpt
	if raw == "" {
		raw = text
	}
	return &Result{
		Status:     types.FetchSuccess,
		URL:        target,
		Raw:        truncateRaw(raw),
		Structured: parsed.Structured,
	}, nil
}

// httpNotFound maps a 404 to a not_found Result.
func httpNotFound(err error, target string) (*Result, bool) {
	var se *HTTPStatusError
	if errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusGone) {
		return &Result{Status: types.FetchNotFound, URL: target}, true
	}
	return nil, false
}

// TemplatedFetcher GETs a URL built from the spec template and parses the page text.
type TemplatedFetcher struct {
	Spec   Spec
	Client *HTTPClient
}

// Fetch implements Fetcher.
func (f *TemplatedFetcher) Fetch(ctx context.Context, subject types.Subject) (*Result, error) {
	target := Expand(f.Spec.URLTemplate, subject)
	body, err := f.Client.Get(ctx, target, nil)
	if err != nil {
		if res, ok := httpNotFound(err, target); ok {
			return res, nil
		}
		return nil, err
	}
	return interpret(f.Spec, subject, target, HTMLToText(body))
}

// FormFetcher loads a search form, carries its hidden fields and session
// cookies, and submits the subject's details.
type FormFetcher struct {
	Spec   Spec
	Client *HTTPClient
}

// Fetch implements Fetcher.
func (f *FormFetcher) Fetch(ctx context.Context, subject types.Subject) (*Result, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	session := &http.Client{Timeout: f.Client.HTTP.Timeout, Transport: f.Client.HTTP.Transport, Jar: jar}

	pageURL := Expand(f.Spec.URLTemplate, subject)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	page, err := f.Client.do(req, session)
	if err != nil {
		return nil, err
	}

	wanted := make([]string, 0, len(f.Spec.FormFields))
	for name := range f.Spec.FormFields {
		wanted = append(wanted, name)
	}
	frm, ok := findForm(page, wanted)
	if !ok {
		// Same outcome as a payload the parser cannot read.
		logging.SourcesDebug("%s: search form not found at %s", f.Spec.Name, pageURL)
		return notFoundResult(pageURL, HTMLToText(page)), nil
	}

	values := url.Values{}
	for k, v := range frm.Fields {
		values.Set(k, v)
	}
	for k, tmpl := range f.Spec.FormFields {
		values.Set(k, expandRaw(tmpl, subject))
	}

	action, err := resolveURL(pageURL, frm.Action)
	if err != nil {
		return nil, err
	}

	if frm.Method == http.MethodGet || frm.Method == "" {
		u, _ := url.Parse(action)
		u.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		action = u.String()
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, action, strings.NewReader(values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("Referer", pageURL)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create form request: %w", err)
	}

	body, err := f.Client.do(req, session)
	if err != nil {
		if res, ok := httpNotFound(err, action); ok {
			return res, nil
		}
		return nil, err
	}
	return interpret(f.Spec, subject, action, HTMLToText(body))
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("bad form page url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("bad form action %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// APIFetcher GETs a JSON or XML API and parses the raw body.
type APIFetcher struct {
	Spec   Spec
	Client *HTTPClient
	Header http.Header
}

// Fetch implements Fetcher.
func (f *APIFetcher) Fetch(ctx context.Context, subject types.Subject) (*Result, error) {
	target := Expand(f.Spec.URLTemplate, subject)
	body, err := f.Client.Get(ctx, target, f.Header)
	if err != nil {
		if res, ok := httpNotFound(err, target); ok {
			return res, nil
		}
		return nil, err
	}
	res, err := interpret(f.Spec, subject, target, body)
	if err == nil && res.Status == types.FetchNotFound {
		// Raw API bodies are not useful evidence.
		res.Raw = ""
	}
	return res, err
}

// PlacesFetcher queries the Google Places Text Search API.
type PlacesFetcher struct {
	Spec   Spec
	Client *HTTPClient
	APIKey string
}

// Fetch implements Fetcher.
func (f *PlacesFetcher) Fetch(ctx context.Context, subject types.Subject) (*Result, error) {
	query := strings.TrimSpace(subject.Name + " " + subject.Location())
	payload := fmt.Sprintf(`{"textQuery":%q,"pageSize":5}`, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Spec.URLTemplate, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Goog-Api-Key", f.APIKey)
	req.Header.Set("X-Goog-FieldMask", "places.displayName,places.formattedAddress,places.rating,places.userRatingCount,places.businessStatus")

	body, err := f.Client.do(req, nil)
	if err != nil {
		return nil, err
	}
	res, err := interpret(f.Spec, subject, "", body)
	if err == nil && res.Status == types.FetchNotFound {
		res.Raw = ""
	}
	return res, err
}

// ScraperFetcher renders the page in a browser before parsing.
type ScraperFetcher struct {
	Spec     Spec
	Renderer PageRenderer
}

// Fetch implements Fetcher.
func (f *ScraperFetcher) Fetch(ctx context.Context, subject types.Subject) (*Result, error) {
	target := Expand(f.Spec.URLTemplate, subject)
	dom, err := f.Renderer.Render(ctx, target)
	if err != nil {
		return nil, err
	}
	return interpret(f.Spec, subject, target, HTMLToText(dom))
}

// unavailableFetcher reports a configuration gap as an error record.
type unavailableFetcher struct {
	reason string
}

func (f unavailableFetcher) Fetch(context.Context, types.Subject) (*Result, error) {
	return nil, errors.New(f.reason)
}

// Deps are the collaborators fetchers need.
type Deps struct {
	Client             *HTTPClient
	GooglePlacesAPIKey string
	Renderer           PageRenderer // nil disables custom scrapers
}

// Build creates a fetcher for every source in the registry.
func Build(reg *Registry, deps Deps) map[string]Fetcher {
	out := make(map[string]Fetcher, reg.Len())
	for _, spec := range reg.Specs() {
		out[spec.Name] = newFetcher(spec, deps)
	}
	return out
}

func newFetcher(spec Spec, deps Deps) Fetcher {
	switch spec.Kind {
	case KindTemplatedURL:
		return &TemplatedFetcher{Spec: spec, Client: deps.Client}
	case KindForm:
		return &FormFetcher{Spec: spec, Client: deps.Client}
	case KindAPI:
		if spec.Name == "google" {
			if deps.GooglePlacesAPIKey == "" {
				return unavailableFetcher{reason: "google places api key not configured"}
			}
			return &PlacesFetcher{Spec: spec, Client: deps.Client, APIKey: deps.GooglePlacesAPIKey}
		}
		header := http.Header{}
		header.Set("Accept", "application/json, application/rss+xml, application/xml;q=0.9, */*;q=0.5")
		return &APIFetcher{Spec: spec, Client: deps.Client, Header: header}
	case KindCustomScraper:
		if deps.Renderer == nil {
			return unavailableFetcher{reason: "browser rendering disabled for " + spec.Name}
		}
		return &ScraperFetcher{Spec: spec, Renderer: deps.Renderer}
	}
	return unavailableFetcher{reason: "unsupported source kind " + string(spec.Kind)}
}
