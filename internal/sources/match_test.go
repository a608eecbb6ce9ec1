package sources

import (
	"reflect"
	"testing"
)

func TestNewNameMatcher_Tokens(t *testing.T) {
	tests := []struct {
		name     string
		tokens   []string
		required int
	}{
		{"Acme Roofing LLC", []string{"acme", "roofing"}, 2},
		{"The Joe's Plumbing & Heating, Inc.", []string{"joes", "plumbing", "heating"}, 3},
		{"Smith Brothers Custom Home Builders", []string{"smith", "brothers", "custom", "home", "builders"}, 4},
		{"Lone Star Custom Pools", []string{"lone", "star", "custom", "pools"}, 3},
		{"The Company", []string{"the", "company"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewNameMatcher(tt.name)
			if got := m.Tokens(); !reflect.DeepEqual(got, tt.tokens) {
				t.Errorf("Tokens() = %v, want %v", got, tt.tokens)
			}
			if m.Required() != tt.required {
				t.Errorf("Required() = %d, want %d", m.Required(), tt.required)
			}
		})
	}
}

func TestMatchText(t *testing.T) {
	m := NewNameMatcher("Acme Roofing LLC")

	tests := []struct {
		text string
		want bool
	}{
		{"ACME ROOFING, LLC", true},
		{"Acme Roofing Denver CO", true},
		{"Apex Roofing", false},
		{"Acme Plumbing", false},
		{"Acme Plumbing serves the metro area with fast and friendly service since 1990. Top Roofing Co", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := m.MatchText(tt.text); got != tt.want {
			t.Errorf("MatchText(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMatchText_LongNameToleratesOneMissingTradeWord(t *testing.T) {
	m := NewNameMatcher("Smith Brothers Custom Home Builders")
	if !m.MatchText("Smith Brothers Home Builders") {
		t.Error("expected match with one trade word missing")
	}
	if m.MatchText("Smith Home Builders") {
		t.Error("expected no match with a distinctive token missing")
	}
	if m.MatchText("Smith Brothers Builders") {
		t.Error("expected no match with two trade words missing")
	}
}

func TestMatchText_RejectsCompetitorSharingTradeWords(t *testing.T) {
	tests := []struct {
		subject string
		other   string
	}{
		{"Smith Brothers Custom Home Builders", "Jones Brothers Custom Home Builders"},
		{"Lone Star Custom Pools", "North Star Custom Pools"},
		{"Lone Star Custom Pools", "Star Custom Pools"},
		{"Acme Roofing LLC", "Acme Plumbing"},
	}
	for _, tt := range tests {
		t.Run(tt.other, func(t *testing.T) {
			if NewNameMatcher(tt.subject).MatchText(tt.other) {
				t.Errorf("%q matched %q", tt.subject, tt.other)
			}
		})
	}
}

func TestNewNameMatcher_AllTradeWords(t *testing.T) {
	m := NewNameMatcher("Custom Home Builders Inc")
	if m.Required() != 3 {
		t.Errorf("Required() = %d, want 3", m.Required())
	}
	if m.MatchText("Custom Builders") {
		t.Error("expected no match with a token missing")
	}
	if !m.MatchText("CUSTOM HOME BUILDERS") {
		t.Error("expected match on the full name")
	}
}

func TestFindMatched_SkipsNeighbouringListings(t *testing.T) {
	text := "Apex Roofing\n4.9 stars (210 reviews)\nAcme Plumbing\n4.7 stars (88 reviews)\nAcme Roofing LLC\n3.1 stars (12 reviews)"
	m := NewNameMatcher("Acme Roofing LLC")

	groups, _, _, ok := m.FindMatched(text, ratingRe)
	if !ok {
		t.Fatal("expected a match")
	}
	if groups[1] != "3.1" {
		t.Errorf("rating = %s, want 3.1", groups[1])
	}
}

func TestFindMatched_TrailingNameNotCreditedToNextLine(t *testing.T) {
	text := "4.8 stars Acme Roofing LLC\n2.0 stars Apex Roofing"
	m := NewNameMatcher("Acme Roofing LLC")

	groups, _, _, ok := m.FindMatched(text, ratingRe)
	if !ok || groups[1] != "4.8" {
		t.Fatalf("got %v ok=%v, want 4.8", groups, ok)
	}

	other := NewNameMatcher("Apex Roofing")
	groups, _, _, ok = other.FindMatched(text, ratingRe)
	if !ok || groups[1] != "2.0" {
		t.Fatalf("got %v ok=%v, want 2.0", groups, ok)
	}
}

func TestFindMatched_NoSubject(t *testing.T) {
	text := "Apex Roofing\n4.9 stars (210 reviews)"
	if _, _, _, ok := NewNameMatcher("Acme Roofing").FindMatched(text, ratingRe); ok {
		t.Error("expected no match")
	}
}

func TestNormalizeText(t *testing.T) {
	got := normalizeText("Joe’s  Plumbing & Heating, Inc.")
	want := "joes plumbing and heating inc"
	if got != want {
		t.Errorf("normalizeText = %q, want %q", got, want)
	}
}
