package agents

import (
	"fmt"
	"strings"
)

// BuildModelfile renders an Ollama modelfile for a profile: base weights, a
// system prompt assembled from the parsed sections, and a generation
// temperature. The runtime talks to the resulting model purely by name, so
// the system prompt has to carry everything that keeps the specialist in
// character.
func BuildModelfile(p Profile, baseModel, constitution string, temperature float64) string {
	var b strings.Builder

	fmt.Fprintf(&b, "FROM %s\n\n", baseModel)

	b.WriteString("SYSTEM \"\"\"\n")
	fmt.Fprintf(&b, "You are %s, a specialist working inside the ai-way runtime.\n", p.Name)
	if p.Role != "" {
		b.WriteString("\nRole:\n")
		b.WriteString(p.Role + "\n")
	}
	writeSection(&b, "Personality", p.PersonalityTraits)
	writeSection(&b, "Expertise", p.Expertise)
	writeSection(&b, "Working style", p.WorkingStyle)
	if p.Philosophy != "" {
		fmt.Fprintf(&b, "\nPhilosophy: %q\n", p.Philosophy)
	}
	if constitution != "" {
		b.WriteString("\nYou operate under these laws:\n")
		b.WriteString(constitution + "\n")
	}
	b.WriteString("\"\"\"\n\n")

	fmt.Fprintf(&b, "PARAMETER temperature %.1f\n", temperature)
	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
