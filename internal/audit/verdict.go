package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"trustaudit/internal/types"
)

// Verdict is the reasoning service's proposal before enforcement.
type Verdict struct {
	TrustScore      float64         `json:"trust_score"`
	RiskLevel       string          `json:"risk_level"`
	Recommendation  string          `json:"recommendation"`
	Reasoning       string          `json:"reasoning"`
	RedFlags        []types.RedFlag `json:"red_flags"`
	PositiveSignals []string        `json:"positive_signals"`
	Gaps            []string        `json:"gaps"`
}

// scoreLimit bounds a proposed score before it is converted to an int, so
// the override trail records a real number for absurd proposals.
const scoreLimit = 1000

// Score rounds the proposed score to an integer within ±scoreLimit.
// NaN counts as zero.
func (v *Verdict) Score() int {
	s := v.TrustScore
	switch {
	case math.IsNaN(s):
		return 0
	case s > scoreLimit:
		s = scoreLimit
	case s < -scoreLimit:
		s = -scoreLimit
	}
	return int(math.Round(s))
}

const verdictSchemaURL = "https://trustaudit.local/schemas/verdict.json"

const verdictSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["trust_score", "risk_level", "recommendation", "reasoning"],
  "properties": {
    "trust_score": {"type": "number"},
    "risk_level": {"type": "string"},
    "recommendation": {"type": "string"},
    "reasoning": {"type": "string", "minLength": 1},
    "red_flags": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["severity", "description"],
        "properties": {
          "severity": {"type": "string"},
          "category": {"type": "string"},
          "description": {"type": "string"},
          "evidence": {"type": "string"}
        }
      }
    },
    "positive_signals": {"type": "array", "items": {"type": "string"}},
    "gaps": {"type": "array", "items": {"type": "string"}}
  }
}`

var compiledVerdictSchema = mustCompileVerdictSchema()

func mustCompileVerdictSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(verdictSchemaURL, strings.NewReader(verdictSchema)); err != nil {
		panic(fmt.Sprintf("verdict schema load failed: %v", err))
	}
	s, err := c.Compile(verdictSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("verdict schema compile failed: %v", err))
	}
	return s
}

var errNoJSONObject = errors.New("no JSON object in reply")

// ParseVerdict finds the verdict object in a reply. Code fences and
// surrounding prose are tolerated; the first candidate object that
// validates wins.
func ParseVerdict(reply string) (*Verdict, error) {
	candidates := jsonCandidates(reply)
	if len(candidates) == 0 {
		return nil, &VerdictParseError{Reply: reply, Err: errNoJSONObject}
	}

	var firstErr error
	for _, c := range candidates {
		v, err := decodeVerdict(c)
		if err == nil {
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, &VerdictParseError{Reply: reply, Err: firstErr}
}

func decodeVerdict(candidate string) (*Verdict, error) {
	var doc any
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if err := compiledVerdictSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	var v Verdict
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	for i := range v.RedFlags {
		v.RedFlags[i].Severity = types.ParseSeverity(string(v.RedFlags[i].Severity))
	}
	return &v, nil
}

// jsonCandidates returns fenced blocks first, then every balanced top-level
// object in the text.
func jsonCandidates(text string) []string {
	var out []string
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		body := rest[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.Contains(body[:nl], "{") {
			body = body[nl+1:]
		}
		end := strings.Index(body, "```")
		if end < 0 {
			break
		}
		if block := strings.TrimSpace(body[:end]); strings.HasPrefix(block, "{") {
			out = append(out, block)
		}
		rest = body[end+3:]
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		if end := matchBrace(text, i); end > 0 {
			out = append(out, text[i:end+1])
			i = end
		}
	}
	return out
}

// matchBrace returns the index of the brace closing text[start], honoring
// JSON strings, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
