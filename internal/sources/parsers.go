package sources

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"trustaudit/internal/types"
)

var (
	ratingRe      = regexp.MustCompile(`(?i)(?:rated\s+)?\b([0-5](?:\.\d{1,2})?)\s*(?:out of 5(?:\s*stars?)?|/\s*5\b|-?\s*stars?\b|star rating)`)
	reviewCountRe = regexp.MustCompile(`(?i)\(?([\d,]+)\)?\s+(?:customer\s+)?reviews?\b`)

	bbbGradeRe      = regexp.MustCompile(`(?m)BBB [Rr]ating:?[ \t]*(A\+|A-|A|B\+|B-|B|C\+|C-|C|D\+|D-|D|F|NR)(?:[^A-Za-z\n]|$)`)
	notAccreditedRe = regexp.MustCompile(`(?i)\bnot\s+(?:a\s+)?(?:BBB\s+)?accredited`)
	accreditedRe    = regexp.MustCompile(`(?i)\b(?:BBB\s+accredited|accredited\s+business)`)
	complaintsRe    = regexp.MustCompile(`(?i)([\d,]+)\s+(?:total\s+)?(?:customer\s+)?complaints?\b`)

	licenseStatusRe = regexp.MustCompile(`(?i)(?:license\s+)?status\s*:?\s*(active|inactive|expired|revoked|suspended|cancell?ed|probation)\b`)
	licenseNumberRe = regexp.MustCompile(`(?i)licen[sc]e\s*(?:#|no\.?|number)\s*:?\s*([A-Z0-9][A-Z0-9-]{3,})`)

	entityStatusRe = regexp.MustCompile(`(?i)(?:entity\s+)?status\s*:?\s*(active|inactive|dissolved|forfeited|in good standing|good standing|revoked|withdrawn)\b`)
	formationRe    = regexp.MustCompile(`(?i)(?:formation|registration|filing)\s+date\s*:?\s*([0-9][0-9/\-]{6,9})`)

	inspectionRe = regexp.MustCompile(`(?i)inspection\s*(?:nr|#|number)?\s*:?\s*(\d{6,})`)
	violationsRe = regexp.MustCompile(`(?i)(\d+)\s+(?:serious\s+)?violations?\b`)

	negativeNewsRe = regexp.MustCompile(`(?i)\b(lawsuits?|sued|fraud|scam|arrest(?:ed)?|charged|indicted|complaints?|investigation|fined|penalt(?:y|ies)|bankrupt(?:cy)?)\b`)
)

// excerptRadius is how much text either side of a data point is kept.
const excerptRadius = 400

func excerpt(text string, start, end int) string {
	lo := start - excerptRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + excerptRadius
	if hi > len(text) {
		hi = len(text)
	}
	return strings.TrimSpace(text[lo:hi])
}

// listingTail returns text from a data point up to the next match of re,
// at most excerptRadius characters past it.
func listingTail(text string, start, end int, re *regexp.Regexp) string {
	hi := end + excerptRadius
	if hi > len(text) {
		hi = len(text)
	}
	if loc := re.FindStringIndex(text[end:hi]); loc != nil {
		hi = end + loc[0]
	}
	return text[start:hi]
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func parseCount(s string) (int, bool) {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	return n, err == nil
}

// reviewCountNear looks for a review count on the rating's line first, then
// just before it.
func reviewCountNear(text string, start, end int) (int, bool) {
	hi := end + 150
	if hi > len(text) {
		hi = len(text)
	}
	if g := reviewCountRe.FindStringSubmatch(text[end:hi]); g != nil {
		return parseCount(g[1])
	}
	lo := start - 120
	if lo < 0 {
		lo = 0
	}
	if all := reviewCountRe.FindAllStringSubmatch(text[lo:start], -1); len(all) > 0 {
		return parseCount(all[len(all)-1][1])
	}
	return 0, false
}

// ParseReviewPlatform extracts a star rating and review count.
func ParseReviewPlatform(text string, m *NameMatcher) (*Parsed, error) {
	groups, start, end, ok := m.FindMatched(text, ratingRe)
	if !ok {
		return nil, ErrNoMatch
	}
	rating, ok := parseFloat(groups[1])
	if !ok || rating < 0 || rating > 5 {
		return nil, &ParseError{Source: "review", Err: fmt.Errorf("bad rating %q", groups[1])}
	}

	p := &types.StructuredPayload{
		Rating:      &rating,
		RatingScale: 5,
		MatchedName: m.name,
	}
	if n, ok := reviewCountNear(text, start, end); ok {
		p.ReviewCount = &n
	}
	return &Parsed{Structured: p, Excerpt: excerpt(text, start, end)}, nil
}

// ParseBBB extracts the letter grade, accreditation, complaint count and,
// when present, the customer review rating.
func ParseBBB(text string, m *NameMatcher) (*Parsed, error) {
	p := &types.StructuredPayload{MatchedName: m.name}
	var found bool
	var start, end int

	if groups, s, e, ok := m.FindMatched(text, bbbGradeRe); ok {
		found = true
		start, end = s, e
		p.LetterGrade = groups[1]

		region := listingTail(text, s, e, bbbGradeRe)
		switch {
		case notAccreditedRe.MatchString(region):
			v := false
			p.Accredited = &v
		case accreditedRe.MatchString(region):
			v := true
			p.Accredited = &v
		}
		if g := complaintsRe.FindStringSubmatch(region); g != nil {
			if n, ok := parseCount(g[1]); ok {
				p.Complaints = &n
			}
		}
	}

	if groups, s, e, ok := m.FindMatched(text, ratingRe); ok {
		if rating, ok := parseFloat(groups[1]); ok && rating <= 5 {
			p.Rating = &rating
			p.RatingScale = 5
			if n, ok := reviewCountNear(text, s, e); ok {
				p.ReviewCount = &n
			}
			if !found {
				start, end = s, e
			}
			found = true
		}
	}

	if !found {
		return nil, ErrNoMatch
	}
	return &Parsed{Structured: p, Excerpt: excerpt(text, start, end)}, nil
}

// ParseLicense extracts a contractor license status and number.
func ParseLicense(text string, m *NameMatcher) (*Parsed, error) {
	groups, start, end, ok := m.FindMatched(text, licenseStatusRe)
	if !ok {
		return nil, ErrNoMatch
	}
	p := &types.StructuredPayload{
		LicenseStatus: strings.ToUpper(groups[1]),
		MatchedName:   m.name,
	}
	region := excerpt(text, start, end)
	if g := licenseNumberRe.FindStringSubmatch(region); g != nil {
		p.LicenseNumber = g[1]
	}
	return &Parsed{Structured: p, Excerpt: region}, nil
}

// ParseEntityRegistration extracts a business registration's standing.
func ParseEntityRegistration(text string, m *NameMatcher) (*Parsed, error) {
	groups, start, end, ok := m.FindMatched(text, entityStatusRe)
	if !ok {
		return nil, ErrNoMatch
	}
	region := excerpt(text, start, end)
	p := &types.StructuredPayload{
		MatchedName: m.name,
		Extra:       map[string]string{"entity_status": strings.ToUpper(groups[1])},
	}
	if g := formationRe.FindStringSubmatch(region); g != nil {
		p.Extra["formed"] = g[1]
	}
	return &Parsed{Structured: p, Excerpt: region}, nil
}

// ParseOSHA counts name-matched inspections and their violations.
func ParseOSHA(text string, m *NameMatcher) (*Parsed, error) {
	var (
		inspections, violations int
		excerpts                []string
		floor                   int
	)
	for _, loc := range inspectionRe.FindAllStringIndex(text, -1) {
		if m.MatchAround(text, floor, loc[0], loc[1]) {
			inspections++
			line := text[loc[0]:]
			if nl := strings.IndexByte(line, '\n'); nl >= 0 {
				line = line[:nl]
			}
			if g := violationsRe.FindStringSubmatch(line); g != nil {
				if n, ok := parseCount(g[1]); ok {
					violations += n
				}
			}
			if len(excerpts) < 5 {
				excerpts = append(excerpts, excerpt(text, loc[0], loc[1]))
			}
		}
		floor = contextEnd(text, loc[1])
	}
	if inspections == 0 {
		return nil, ErrNoMatch
	}
	n := inspections
	return &Parsed{
		Structured: &types.StructuredPayload{
			Mentions:    &n,
			MatchedName: m.name,
			Extra: map[string]string{
				"inspections": strconv.Itoa(inspections),
				"violations":  strconv.Itoa(violations),
			},
		},
		Excerpt: strings.Join(excerpts, "\n---\n"),
	}, nil
}

type placesResponse struct {
	Places []struct {
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		FormattedAddress string   `json:"formattedAddress"`
		Rating           *float64 `json:"rating"`
		UserRatingCount  *int     `json:"userRatingCount"`
		BusinessStatus   string   `json:"businessStatus"`
	} `json:"places"`
}

// ParseGooglePlaces picks the first Places result whose display name
// matches the subject.
func ParseGooglePlaces(body string, m *NameMatcher) (*Parsed, error) {
	var resp placesResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, &ParseError{Source: "google", Err: err}
	}
	for _, place := range resp.Places {
		if !m.MatchText(place.DisplayName.Text) {
			continue
		}
		p := &types.StructuredPayload{
			Rating:      place.Rating,
			RatingScale: 5,
			ReviewCount: place.UserRatingCount,
			MatchedName: place.DisplayName.Text,
			Extra: map[string]string{
				"address":         place.FormattedAddress,
				"business_status": place.BusinessStatus,
			},
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s, %s", place.DisplayName.Text, place.FormattedAddress)
		if place.Rating != nil {
			fmt.Fprintf(&sb, ", rated %.1f/5", *place.Rating)
		}
		if place.UserRatingCount != nil {
			fmt.Fprintf(&sb, " from %d reviews", *place.UserRatingCount)
		}
		if place.BusinessStatus != "" {
			fmt.Fprintf(&sb, " (%s)", place.BusinessStatus)
		}
		return &Parsed{Structured: p, Excerpt: sb.String()}, nil
	}
	return nil, ErrNoMatch
}

type courtListenerResponse struct {
	Count   int `json:"count"`
	Results []struct {
		CaseName     string `json:"caseName"`
		DocketNumber string `json:"docketNumber"`
		Court        string `json:"court"`
		DateFiled    string `json:"dateFiled"`
	} `json:"results"`
}

// ParseCourtListener counts dockets whose case name includes the subject.
func ParseCourtListener(body string, m *NameMatcher) (*Parsed, error) {
	var resp courtListenerResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, &ParseError{Source: "court_records", Err: err}
	}
	var lines []string
	for _, r := range resp.Results {
		if m.MatchText(r.CaseName) {
			lines = append(lines, fmt.Sprintf("%s (%s, docket %s, filed %s)", r.CaseName, r.Court, r.DocketNumber, r.DateFiled))
		}
	}
	if len(lines) == 0 {
		return nil, ErrNoMatch
	}
	n := len(lines)
	return &Parsed{
		Structured: &types.StructuredPayload{
			Mentions:    &n,
			MatchedName: m.name,
			Extra:       map[string]string{"total_hits": strconv.Itoa(resp.Count)},
		},
		Excerpt: strings.Join(lines, "\n"),
	}, nil
}

type rssFeed struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			PubDate     string `xml:"pubDate"`
			Description string `xml:"description"`
		} `xml:"item"`
	} `xml:"channel"`
}

// ParseNewsRSS counts feed items that name the subject and flags negative coverage.
func ParseNewsRSS(body string, m *NameMatcher) (*Parsed, error) {
	var feed rssFeed
	if err := xml.Unmarshal([]byte(body), &feed); err != nil {
		return nil, &ParseError{Source: "news", Err: err}
	}

	var lines []string
	negative := 0
	for _, item := range feed.Channel.Items {
		content := item.Title + " " + HTMLToText(item.Description)
		if !m.MatchText(content) {
			continue
		}
		if negativeNewsRe.MatchString(content) {
			negative++
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", item.Title, item.PubDate))
	}
	if len(lines) == 0 {
		return nil, ErrNoMatch
	}
	n := len(lines)
	return &Parsed{
		Structured: &types.StructuredPayload{
			Mentions:    &n,
			MatchedName: m.name,
			Extra:       map[string]string{"negative_mentions": strconv.Itoa(negative)},
		},
		Excerpt: strings.Join(lines, "\n"),
	}, nil
}
