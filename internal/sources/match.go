package sources

import (
	"regexp"
	"strings"
	"unicode"
)

// MatchWindow is how many characters before a data point are searched for
// the subject's name. The window never reaches back past the previous data
// point, and only extends forward to the end of the data point's line.
const MatchWindow = 250

// maxTrailing caps how far past a data point the same-line context reaches.
const maxTrailing = 80

// spanSlack is how many extra words may sit between the subject's tokens.
const spanSlack = 3

var legalSuffixes = map[string]bool{
	"llc": true, "inc": true, "incorporated": true, "corp": true, "corporation": true,
	"co": true, "company": true, "ltd": true, "limited": true, "lp": true, "llp": true,
	"pllc": true, "pc": true, "dba": true,
}

var stopwords = map[string]bool{
	"the": true, "and": true, "of": true, "a": true, "an": true, "at": true, "in": true,
}

// tradeWords describe what a business does rather than which business it is.
// Competitors share them, so they never decide a match on their own.
var tradeWords = map[string]bool{
	"builders": true, "building": true, "construction": true, "contracting": true, "contractors": true,
	"custom": true, "home": true, "homes": true, "remodeling": true, "renovation": true, "restoration": true,
	"roofing": true, "plumbing": true, "heating": true, "cooling": true, "hvac": true, "electric": true,
	"electrical": true, "pools": true, "pool": true, "spa": true, "landscaping": true, "lawn": true,
	"painting": true, "flooring": true, "concrete": true, "paving": true, "fencing": true, "windows": true,
	"doors": true, "siding": true, "gutters": true, "solar": true, "pest": true, "control": true,
	"cleaning": true, "moving": true, "storage": true, "auto": true, "repair": true, "repairs": true,
	"services": true, "service": true, "solutions": true, "group": true, "enterprises": true,
	"professional": true, "quality": true, "general": true, "residential": true, "commercial": true,
}

// NameMatcher decides whether text near a data point refers to the subject.
// Parsers must confirm every claimed rating, grade or status with it.
type NameMatcher struct {
	name      string
	tokens    []string
	distinct  []string
	generic   []string
	minTrade  int
	nameWords int
}

// NewNameMatcher derives the distinguishing tokens of a business name.
func NewNameMatcher(name string) *NameMatcher {
	words := strings.Fields(normalizeText(name))

	seen := make(map[string]bool)
	var tokens []string
	for _, w := range words {
		if legalSuffixes[w] || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	if len(tokens) == 0 {
		// Names made only of filler words still need something to match.
		for _, w := range words {
			if !seen[w] {
				seen[w] = true
				tokens = append(tokens, w)
			}
		}
	}

	m := &NameMatcher{name: name, tokens: tokens, nameWords: len(words)}
	for _, tok := range tokens {
		if tradeWords[tok] {
			m.generic = append(m.generic, tok)
		} else {
			m.distinct = append(m.distinct, tok)
		}
	}
	if len(m.distinct) == 0 {
		// Nothing distinctive: the full name is all there is to go on.
		m.distinct, m.generic = m.generic, nil
	}

	// Long names are often shortened in listings, but only a trade word
	// may be dropped. Every distinctive token must appear.
	m.minTrade = len(m.generic)
	if len(tokens) > 3 && m.minTrade > 0 {
		m.minTrade--
	}
	return m
}

// Tokens returns the distinguishing tokens.
func (m *NameMatcher) Tokens() []string {
	return append([]string(nil), m.tokens...)
}

// Required returns how many tokens must appear for a match.
func (m *NameMatcher) Required() int {
	return len(m.distinct) + m.minTrade
}

// MatchText reports whether text names the subject: every distinctive token
// and enough trade words must appear close together, not scattered across
// the text.
func (m *NameMatcher) MatchText(text string) bool {
	if len(m.tokens) == 0 {
		return false
	}
	words := strings.Fields(normalizeText(text))
	span := m.nameWords + spanSlack
	for i := range words {
		hi := i + span
		if hi > len(words) {
			hi = len(words)
		}
		window := words[i:hi]
		if countTokens(m.distinct, window) == len(m.distinct) && countTokens(m.generic, window) >= m.minTrade {
			return true
		}
	}
	return false
}

func countTokens(tokens, words []string) int {
	hits := 0
	for _, tok := range tokens {
		for _, w := range words {
			if w == tok {
				hits++
				break
			}
		}
	}
	return hits
}

// MatchAround reports whether the subject is named in the context of
// text[start:end], looking back no further than floor.
func (m *NameMatcher) MatchAround(text string, floor, start, end int) bool {
	return m.MatchText(contextWindow(text, floor, start, end))
}

// FindMatched returns the submatches of the first occurrence of re whose
// context names the subject, with the match's byte offsets.
func (m *NameMatcher) FindMatched(text string, re *regexp.Regexp) ([]string, int, int, bool) {
	floor := 0
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		if m.MatchAround(text, floor, loc[0], loc[1]) {
			groups := make([]string, len(loc)/2)
			for i := range groups {
				if loc[2*i] >= 0 {
					groups[i] = text[loc[2*i]:loc[2*i+1]]
				}
			}
			return groups, loc[0], loc[1], true
		}
		floor = contextEnd(text, loc[1])
	}
	return nil, 0, 0, false
}

func contextWindow(text string, floor, start, end int) string {
	lo := start - MatchWindow
	if lo < floor {
		lo = floor
	}
	if lo < 0 {
		lo = 0
	}
	if lo > start {
		lo = start
	}
	return text[lo:contextEnd(text, end)]
}

// contextEnd is where a data point's trailing context stops: the end of its
// line, at most maxTrailing characters on. Text before it belongs to that
// data point and is never credited to the next one.
func contextEnd(text string, end int) int {
	hi := len(text)
	if nl := strings.IndexByte(text[end:], '\n'); nl >= 0 {
		hi = end + nl
	}
	if hi > end+maxTrailing {
		hi = end + maxTrailing
	}
	return hi
}

// normalizeText lowercases, spells out "&", drops apostrophes and turns any
// other punctuation into spaces.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "&", " and ")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\'' || r == '’':
			// joe's -> joes
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
