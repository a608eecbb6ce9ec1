// Package sources holds the static source registry and the fetchers that
// turn a Subject into evidence for each registered source.
package sources

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"trustaudit/internal/types"
)

// Kind is how a source is fetched.
type Kind string

const (
	KindTemplatedURL  Kind = "templated_url"
	KindForm          Kind = "form"
	KindAPI           Kind = "api"
	KindCustomScraper Kind = "custom_scraper"
)

// Tier groups sources by refresh cadence. It has no other effect.
type Tier int

const (
	TierReviews Tier = iota + 1
	TierGovernment
	TierNews
	TierAdHoc
)

// TTL returns the cache lifetime for the tier.
func (t Tier) TTL() time.Duration {
	switch t {
	case TierReviews:
		return 24 * time.Hour
	case TierGovernment:
		return 7 * 24 * time.Hour
	case TierNews:
		return 12 * time.Hour
	}
	return 0
}

func (t Tier) String() string {
	switch t {
	case TierReviews:
		return "reviews"
	case TierGovernment:
		return "government"
	case TierNews:
		return "news"
	case TierAdHoc:
		return "ad_hoc"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Parsed is a parser's output: the normalized fields and a readable excerpt
// of the evidence they came from.
type Parsed struct {
	Structured *types.StructuredPayload
	Excerpt    string
}

// ParseFunc extracts structured fields from a fetched payload. It returns
// ErrNoMatch when nothing attributable to the subject was found.
type ParseFunc func(body string, m *NameMatcher) (*Parsed, error)

// Spec is one row of the registry.
type Spec struct {
	Name   string
	Tier   Tier
	Kind   Kind
	Domain string

	// URLTemplate accepts {name}, {city}, {state}, {location} and {website}.
	// For form sources it is the page holding the search form.
	URLTemplate string
	// FormFields maps form input names to templates, for KindForm.
	FormFields map[string]string

	Parse ParseFunc

	// Sequential sources need a stateful session and run outside the batch pool.
	Sequential bool
	// Requests is the number of outbound requests a fetch makes; it is the
	// number of rate-limit tokens acquired.
	Requests int
	// CostPerCall is charged to the ledger for paid APIs.
	CostPerCall float64

	// ttl overrides the tier TTL when non-nil.
	ttl *time.Duration
}

// TTL returns the spec's cache lifetime.
func (s Spec) TTL() time.Duration {
	if s.ttl != nil {
		return *s.ttl
	}
	return s.Tier.TTL()
}

// Tokens returns how many rate-limit tokens a fetch needs.
func (s Spec) Tokens() int {
	if s.Requests < 1 {
		return 1
	}
	return s.Requests
}

// Expand fills a template with the subject's query-escaped fields.
func Expand(tmpl string, subj types.Subject) string {
	r := strings.NewReplacer(
		"{name}", url.QueryEscape(subj.Name),
		"{city}", url.QueryEscape(subj.City),
		"{state}", url.QueryEscape(subj.State),
		"{location}", url.QueryEscape(subj.Location()),
		"{website}", url.QueryEscape(subj.Website),
	)
	return r.Replace(tmpl)
}

// expandRaw fills a template without escaping, for form values.
func expandRaw(tmpl string, subj types.Subject) string {
	r := strings.NewReplacer(
		"{name}", subj.Name,
		"{city}", subj.City,
		"{state}", subj.State,
		"{location}", subj.Location(),
		"{website}", subj.Website,
	)
	return r.Replace(tmpl)
}

// Registry is the static source table.
type Registry struct {
	specs    map[string]Spec
	adHocTTL time.Duration
}

// NewRegistry validates and indexes specs.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("source spec without a name")
		}
		if types.IsAdHocSource(s.Name) {
			return nil, fmt.Errorf("source %s uses the reserved ad hoc prefix", s.Name)
		}
		if _, dup := r.specs[s.Name]; dup {
			return nil, fmt.Errorf("duplicate source %s", s.Name)
		}
		switch s.Kind {
		case KindTemplatedURL, KindForm, KindAPI, KindCustomScraper:
		default:
			return nil, fmt.Errorf("source %s: unknown kind %q", s.Name, s.Kind)
		}
		if s.Parse == nil {
			return nil, fmt.Errorf("source %s: no parser", s.Name)
		}
		r.specs[s.Name] = s
	}
	return r, nil
}

// Get returns the spec for name.
func (r *Registry) Get(name string) (Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns registered source names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Specs returns all specs sorted by name.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.specs))
	for _, n := range r.Names() {
		out = append(out, r.specs[n])
	}
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	return len(r.specs)
}

// TTL returns the cache lifetime for a registered or ad hoc source.
func (r *Registry) TTL(name string) time.Duration {
	if types.IsAdHocSource(name) {
		return r.adHocTTL
	}
	if s, ok := r.specs[name]; ok {
		return s.TTL()
	}
	return 0
}

// SetAdHocTTL sets the lifetime of investigation evidence. Zero means such
// evidence is never fresh.
func (r *Registry) SetAdHocTTL(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.adHocTTL = d
}

// AdHocTTL returns the lifetime of investigation evidence.
func (r *Registry) AdHocTTL() time.Duration {
	return r.adHocTTL
}

// SetURLTemplate points a source at a different endpoint.
func (r *Registry) SetURLTemplate(name, tmpl string) error {
	s, ok := r.specs[name]
	if !ok {
		return fmt.Errorf("unknown source %s", name)
	}
	s.URLTemplate = tmpl
	if u, err := url.Parse(strings.NewReplacer("{", "", "}", "").Replace(tmpl)); err == nil && u.Hostname() != "" {
		s.Domain = u.Hostname()
	}
	r.specs[name] = s
	return nil
}

// SetTTL overrides a source's tier TTL.
func (r *Registry) SetTTL(name string, d time.Duration) error {
	s, ok := r.specs[name]
	if !ok {
		return fmt.Errorf("unknown source %s", name)
	}
	s.ttl = &d
	r.specs[name] = s
	return nil
}

// Without returns a copy of the registry minus the named sources.
func (r *Registry) Without(names ...string) *Registry {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := &Registry{specs: make(map[string]Spec, len(r.specs)), adHocTTL: r.adHocTTL}
	for n, s := range r.specs {
		if !drop[n] {
			out.specs[n] = s
		}
	}
	return out
}
