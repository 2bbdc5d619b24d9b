package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Profile is the structured form of one agent markdown file. Name and
// Category come from the file's place on disk; the rest is parsed out of its
// sections.
type Profile struct {
	Name     string
	Category string
	Path     string

	Role               string
	Expertise          []string
	PersonalityTraits  []string
	Responsibilities   []string
	WorkingStyle       []string
	UseCases           []string
	CollaborationStyle []string
	RedFlags           []string
	Philosophy         string

	RawContent string
}

var (
	sectionRe    = regexp.MustCompile(`(?m)^##\s+(.+)$`)
	bulletRe     = regexp.MustCompile(`(?m)^[-*]\s+(.+)$`)
	boldRe       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	philosophyRe = regexp.MustCompile(`(?m)>\s*["']?([^"'\n]+)["']?\s*$`)
)

// ParseProfile reads one agent markdown file. The parser is tolerant:
// missing sections leave their fields empty rather than failing, so a thin
// profile still routes.
func ParseProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	content := string(data)

	p := Profile{
		Name:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Category:   filepath.Base(filepath.Dir(path)),
		Path:       path,
		RawContent: content,
	}

	sections := extractSections(content)
	p.Role = strings.TrimSpace(sections["Role"])
	p.Expertise = parseBullets(sections["Expertise"])
	p.PersonalityTraits = parseBullets(sections["Personality Traits"])
	p.Responsibilities = parseBullets(sections["Primary Responsibilities"])
	p.WorkingStyle = parseBullets(sections["Working Style"])
	p.UseCases = parseBullets(sections["Use Cases"])
	p.CollaborationStyle = parseBullets(sections["Collaboration Style"])
	p.RedFlags = parseBullets(sections["Red Flags"])

	// Profiles often close with a mantra in a blockquote.
	if m := philosophyRe.FindStringSubmatch(content); m != nil {
		p.Philosophy = strings.TrimSpace(m[1])
	}

	return p, nil
}

// extractSections splits markdown content on H2 headers and returns each
// section's body keyed by header text.
func extractSections(content string) map[string]string {
	sections := make(map[string]string)
	matches := sectionRe.FindAllStringSubmatchIndex(content, -1)
	for i, m := range matches {
		name := strings.TrimSpace(content[m[2]:m[3]])
		start := m[1]
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections[name] = strings.TrimSpace(content[start:end])
	}
	return sections
}

// parseBullets pulls `- item` and `* item` entries out of a section body,
// stripping bold markers but keeping their text.
func parseBullets(text string) []string {
	var items []string
	for _, m := range bulletRe.FindAllStringSubmatch(text, -1) {
		item := strings.TrimSpace(m[1])
		item = boldRe.ReplaceAllString(item, "$1")
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
