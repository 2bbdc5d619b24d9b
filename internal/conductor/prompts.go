package conductor

import (
	"fmt"
	"strings"

	"github.com/8007342/ai-way/internal/agents"
)

// catalogRoleLimit clips role text in the routing catalog so a large
// catalog still fits comfortably in the routing prompt.
const catalogRoleLimit = 150

// catalogLine renders one routing-catalog entry.
func catalogLine(p agents.Profile) string {
	role := p.Role
	if runes := []rune(role); len(runes) > catalogRoleLimit {
		role = string(runes[:catalogRoleLimit]) + "..."
	}
	return fmt.Sprintf("- %s (%s): %s", p.Name, p.Category, role)
}

func buildCatalog(profiles []agents.Profile) string {
	lines := make([]string, 0, len(profiles))
	for _, p := range profiles {
		lines = append(lines, catalogLine(p))
	}
	return strings.Join(lines, "\n")
}

func routingPrompt(catalog, query, context string) string {
	return fmt.Sprintf(`You are the routing component of Yollayah.

Analyze this query and decide which specialist agent should handle it.
If no specialist is needed (general conversation, simple questions), respond with "conductor".

Available specialists:
%s

Query: %s

Context from conversation:
%s

Respond in this exact format:
AGENT: <agent-name>
CONFIDENCE: <0.0-1.0>
REASON: <brief explanation>
`, catalog, query, context)
}

func handoffPrompt(context, query, agentName string) string {
	return fmt.Sprintf(`Context from conversation:
%s

User query: %s

Please respond as the %s specialist.
Focus on your area of expertise. Be helpful and specific.
`, context, query, agentDisplayName(agentName))
}

func presentationPrompt(query, agentName, specialistText string) string {
	return fmt.Sprintf(`You are Yollayah presenting information from a specialist.

The %s just provided this response to the user's question:

SPECIALIST RESPONSE:
%s

USER'S ORIGINAL QUESTION:
%s

Present this information in your own voice (warm, real, playfully opinionated).
You can:
- Summarize if the response is very technical
- Add encouraging comments
- Ask if they need clarification
- Celebrate if they're making progress

Keep your personality but make sure the specialist's key information comes through.
Don't say "the specialist said" - just present it naturally as if you're explaining it.
`, agentDisplayName(agentName), specialistText, query)
}

// agentDisplayName turns a hyphenated identifier into prose for prompts.
func agentDisplayName(name string) string {
	return strings.ReplaceAll(name, "-", " ")
}
