package extract

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/person-facts/internal/model"
)

// snippetLimit caps how much interaction body text goes into the prompt.
const snippetLimit = 500

// extractionTemplate is the system prompt for fact extraction. Sender
// attribution is the hard part of this task, so the prompt spends most of
// its length on who-said-what rules and worked examples of wrong
// extractions. {person}/{user} tokens are substituted per run.
const extractionTemplate = `Analyze these interactions and extract ONLY facts about {person} (the contact person).

CONTEXT: These messages are between {user} (the user) and {person}.

YOU ARE A RECALL ASSISTANT, not a biography builder. Extract MEMORABLE personal
details that help remember {person} - things you could not find on LinkedIn.

PRIORITIZE (high value for recall):
- Pet names ("my dog Max", "our cat Luna")
- Hobby specifics ("I've been learning pottery", "training for a triathlon")
- Family member names ("my sister Emma", "my son Jake")
- Personal preferences ("I can't stand cilantro", "I'm a morning person")
- Personal anecdotes ("We went to Costa Rica last year")
- Health/medical mentions ("I have my infusion next week")
- Interests and passions ("I'm obsessed with Formula 1")

SKIP (low value, findable elsewhere):
- Current job title or company name (LinkedIn has this)
- Generic professional info
- Meeting logistics and routine scheduling details

CRITICAL - MESSAGE SENDER LABELS:
Messages are labeled with who sent them:
- [{USER} SENT]: {user} (the user) wrote this message. ANY fact stated here is about {USER}, NOT {person}. NEVER extract these as facts about {person}.
- [{PERSON} SENT]: {person} wrote this message. Facts stated here ARE about {person}. These can be extracted.

EXAMPLES OF CORRECT ATTRIBUTION:
- [{USER} SENT]: "I'm in Minnesota" -> {user} is in Minnesota. DO NOT extract as a fact about {person}.
- [{PERSON} SENT]: "I'm in Minnesota" -> {person} is in Minnesota. Extract this fact.
- [{USER} SENT]: "I imagine you're in Minnesota" -> {user} thinks {person} might be there. NOT a confirmed fact.
- [{PERSON} SENT]: "Just landed in Denver" -> {person} is in Denver. Extract this fact.

CRITICAL - ENTITY ATTRIBUTION:
- If {user} says "my daughter" -> This is {user}'s daughter, NOT {person}'s. DO NOT extract.
- If {user} says "my wife" or "my partner" -> This is {user}'s partner. Only extract if {person} IS that partner.
- If {person} says "my daughter Emma" -> This IS {person}'s daughter. Extract it.
- If they discuss a third person "Sarah got a new job" -> This is about Sarah, NOT {person}. DO NOT extract.

CRITICAL RULES:
1. CHECK THE SENDER LABEL before extracting any fact from a message
2. ONLY extract facts that {person} states about themselves
3. Each fact MUST have a verbatim quote as evidence
4. The quote must come from a message {person} sent (labeled [{PERSON} SENT])
5. If unsure who a fact applies to, DO NOT extract it

CONFIDENCE SCORING (based on evidence strength):
- 0.9: Direct quote where {person} states the fact explicitly
- 0.8: Clear statement in context, minor interpretation needed
- 0.7: Reasonably certain but some ambiguity in context
- 0.6: Likely true based on context but not explicitly stated
- 0.5: Inference from indirect evidence

Return ONLY valid JSON with this structure (no markdown, no explanation):
{
  "facts": [
    {
      "category": "family",
      "value": "Has a daughter named Emma who plays soccer",
      "quote": "I'm taking my daughter Emma to soccer practice",
      "source_id": "abc123",
      "confidence": 0.9
    }
  ]
}

Categories: family, preferences, background, interests, dates, work, topics, travel

EXTRACTION RULES:
- Values must be complete sentences with specific names or details, never bare words or booleans
- The "quote" field MUST show this fact belongs to {person}
- The "source_id" field should match the ID shown in the interaction (e.g., "ID:abc123")
- Reject vague facts without specific names or details
- Reject any fact about the user or third parties mentioned in conversation

Example of GOOD extraction (from [{PERSON} SENT] messages):
- [{PERSON} SENT]: "I'm taking my daughter Emma to soccer practice"
- Fact: {"category": "family", "value": "Has a daughter named Emma", "quote": "I'm taking my daughter Emma", "confidence": 0.9}

Example of BAD extraction (DO NOT do this):
- [{USER} SENT]: "I'm in Minnesota" <- The user said this, not {person}!
- BAD: {"category": "travel", "value": "Lives in Minnesota"} <- WRONG! This is about the user!
`

func extractionSystemPrompt(personName, userName string, known []model.Fact) string {
	r := strings.NewReplacer(
		"{person}", personName,
		"{PERSON}", strings.ToUpper(personName),
		"{user}", userName,
		"{USER}", strings.ToUpper(userName),
	)
	prompt := r.Replace(extractionTemplate)

	if len(known) > 0 {
		var b strings.Builder
		b.WriteString(prompt)
		b.WriteString("\nALREADY KNOWN about " + personName + " (do NOT re-extract these):\n")
		for _, f := range known {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Category, f.Value)
		}
		prompt = b.String()
	}

	return prompt
}

// formatInteractions renders one batch of interactions as prompt text with
// explicit sender labels for message sources. The sync layer writes message
// titles as "→ text" for sent and "← text" for received.
func formatInteractions(interactions []model.Interaction, personName, userName string) string {
	userUpper := strings.ToUpper(userName)
	personUpper := strings.ToUpper(personName)

	lines := make([]string, 0, len(interactions))
	for i, in := range interactions {
		title := in.Title
		senderPrefix := ""
		if in.SourceType.IsMessage() {
			switch {
			case strings.HasPrefix(title, "→"):
				senderPrefix = "[" + userUpper + " SENT]: "
				title = strings.TrimSpace(strings.TrimPrefix(title, "→"))
			case strings.HasPrefix(title, "←"):
				senderPrefix = "[" + personUpper + " SENT]: "
				title = strings.TrimSpace(strings.TrimPrefix(title, "←"))
			}
		}

		line := fmt.Sprintf("[%d] ID:%s [%s] %s", i+1, in.ID, in.SourceType, in.Timestamp.Format("2006-01-02 15:04"))
		if senderPrefix != "" {
			line += "\n    " + senderPrefix + title
		} else {
			line += ": " + title
		}

		if in.Snippet != "" && senderPrefix == "" {
			line += "\n    Content: " + truncate(in.Snippet, snippetLimit)
		}
		if in.Context != "" {
			line += "\n    Thread: " + truncate(in.Context, snippetLimit)
		}

		lines = append(lines, line)
	}

	return strings.Join(lines, "\n\n")
}

// formatInteractionsForSummary renders a condensed month-grouped view for the
// relationship summary prompt, capped per period and overall.
func formatInteractionsForSummary(interactions []model.Interaction) string {
	const (
		perPeriodLimit = 20
		totalLineLimit = 200
	)

	byPeriod := make(map[string][]model.Interaction)
	for _, in := range interactions {
		period := in.Timestamp.Format("2006-01")
		byPeriod[period] = append(byPeriod[period], in)
	}

	periods := make([]string, 0, len(byPeriod))
	for p := range byPeriod {
		periods = append(periods, p)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(periods)))

	var lines []string
	for _, period := range periods {
		group := byPeriod[period]
		lines = append(lines, fmt.Sprintf("--- %s (%d interactions) ---", period, len(group)))

		for i, in := range group {
			if i >= perPeriodLimit {
				break
			}
			lines = append(lines, fmt.Sprintf("[%s] %s", in.SourceType, in.Title))
			if in.Snippet != "" {
				lines = append(lines, "  "+truncate(in.Snippet, 200))
			}
		}
	}

	if len(lines) > totalLineLimit {
		lines = lines[:totalLineLimit]
	}
	return strings.Join(lines, "\n")
}

func summaryPrompt(personName, interactionText string) string {
	return fmt.Sprintf(`Analyze these interactions with %s and provide relationship insights.

Return ONLY valid JSON with this structure (no markdown, no explanation):
{
  "summaries": [
    {
      "key": "relationship_trajectory",
      "value": "Started as professional contact, evolved to close friend over 2 years",
      "evidence": "First interaction was a work meeting in 2022, recent interactions include personal topics"
    }
  ]
}

Summary keys to generate:
- relationship_trajectory: How the relationship has evolved over time
- key_themes: Recurring topics in conversations (3-5 themes)
- major_events: Important shared experiences or milestones
- communication_style: How you typically interact

Rules:
- Base summaries on patterns across multiple interactions
- Keep values concise but informative (10-30 words)
- The evidence field should describe what interactions support this summary
- Only include summaries you can support with evidence

Interactions:
%s`, personName, interactionText)
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
