package conductor

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/8007342/ai-way/internal/session"
)

var (
	agentRe      = regexp.MustCompile(`(?i)AGENT:\s*(\S+)`)
	confidenceRe = regexp.MustCompile(`(?i)CONFIDENCE:\s*([\d.]+)`)
	reasonRe     = regexp.MustCompile(`(?i)REASON:\s*(.+)`)
)

// parsedRouting is the raw three-line extraction, before catalog
// validation.
type parsedRouting struct {
	Agent      string
	Confidence float64
	Reasoning  string
}

// parseRoutingReply extracts the AGENT / CONFIDENCE / REASON protocol from
// free model text. Each field falls back independently when missing or
// malformed: handler "conductor", confidence 0.5, reasoning "Default
// routing". Confidence is clamped to [0, 1]; a non-numeric value keeps the
// default rather than spoiling the parse. This function never fails.
func parseRoutingReply(text string) parsedRouting {
	out := parsedRouting{
		Agent:      DirectAgent,
		Confidence: 0.5,
		Reasoning:  "Default routing",
	}

	if m := agentRe.FindStringSubmatch(text); m != nil {
		out.Agent = strings.ToLower(strings.TrimSpace(m[1]))
	}
	if m := confidenceRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out.Confidence = math.Max(0, math.Min(1, v))
		}
	}
	if m := reasonRe.FindStringSubmatch(text); m != nil {
		out.Reasoning = strings.TrimSpace(m[1])
	}
	return out
}

// resolveAgent validates a parsed handler against the catalog. The sentinel
// passes through, an exact name matches, and otherwise the first catalog
// entry related by substring containment (in either direction) wins, with
// catalog order breaking ties. With no match at all the decision falls back
// to answering directly, and the reasoning says which handler was asked for.
func (c *Conductor) resolveAgent(p parsedRouting) (session.RoutingDecision, string) {
	decision := session.RoutingDecision{
		Agent:      p.Agent,
		Confidence: p.Confidence,
		Reasoning:  p.Reasoning,
		Timestamp:  time.Now().UTC(),
	}

	if p.Agent == DirectAgent {
		return decision, "routed"
	}
	if _, ok := c.byName[p.Agent]; ok {
		return decision, "routed"
	}
	for _, prof := range c.profiles {
		if strings.Contains(prof.Name, p.Agent) || strings.Contains(p.Agent, prof.Name) {
			decision.Agent = prof.Name
			return decision, "routed"
		}
	}

	decision.Agent = DirectAgent
	decision.Reasoning = fmt.Sprintf("Agent '%s' not found, handling directly", p.Agent)
	return decision, "fallback"
}
