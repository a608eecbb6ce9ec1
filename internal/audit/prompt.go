package audit

import "fmt"

func systemPrompt(maxInvestigations int) string {
	return fmt.Sprintf(`You are a business trust auditor. You receive an evidence digest collected
from review platforms, government registries, court records and news about one business.
Judge how far a consumer can trust this business.

Rules:
- Base every claim on the digest. Cite the source name in each red flag's evidence field.
- Evidence marked STALE may be out of date; evidence marked TRUNCATED exists but was omitted.
- A name match in a source is not proof it is the same business; say so when unsure.
- You may call the investigate tool at most %d times in total to resolve a specific suspicion.
  Each call needs a concrete query and a reason. Do not investigate out of curiosity.

When you are done, reply with a single JSON object and nothing else:
{
  "trust_score": <0-100>,
  "risk_level": "CRITICAL|SEVERE|MODERATE|LOW|TRUSTED",
  "recommendation": "AVOID|CAUTION|VERIFY|RECOMMENDED",
  "reasoning": "<concise explanation>",
  "red_flags": [{"severity": "CRITICAL|SEVERE|MODERATE|MINOR", "category": "...", "description": "...", "evidence": "..."}],
  "positive_signals": ["..."],
  "gaps": ["things you could not verify"]
}`, maxInvestigations)
}

const correctiveInstruction = "Your last reply was not a valid verdict (%v). " +
	"Respond with the JSON verdict object only: no prose, no code fences."

const finalTurnInstruction = "This is your final turn and no tools remain. " +
	"Respond with the JSON verdict object only."

func userPrompt(digest string) string {
	return "Audit the following business.\n\n" + digest
}
