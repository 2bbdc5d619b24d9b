package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// categories are the agent repository directories scanned for profiles, in
// scan order. Together with os.ReadDir's sorted filenames this fixes the
// catalog enumeration order, which routing's fuzzy matching depends on.
var categories = []string{
	"developers",
	"architects",
	"design",
	"data-specialists",
	"domain-experts",
	"security",
	"legal",
	"qa",
	"research",
	"specialists",
}

// LoadAll parses every agent profile under root. Categories that do not
// exist are skipped. Files that fail to parse are skipped too and reported
// in errs so the caller can warn without losing the rest of the catalog.
func LoadAll(root string) (profiles []Profile, errs []error) {
	for _, category := range categories {
		dir := filepath.Join(root, category)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("read category %s: %w", category, err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			p, err := ParseProfile(filepath.Join(dir, entry.Name()))
			if err != nil {
				errs = append(errs, fmt.Errorf("parse %s/%s: %w", category, entry.Name(), err))
				continue
			}
			profiles = append(profiles, p)
		}
	}
	return profiles, errs
}

var (
	lawsRe      = regexp.MustCompile("(?s)## The Five Laws of Evolution.*?```(.*?)```")
	boxBorderRe = regexp.MustCompile(`^[┌├└│─┐┤┘]+$`)
	boxCharRe   = regexp.MustCompile(`[│┌┐└┘├┤─]`)
)

// LoadConstitution extracts the Five Laws block from CONSTITUTION.md with
// its ASCII box drawing stripped, abbreviated for embedding in modelfile
// system prompts. A missing file or absent block yields the empty string.
func LoadConstitution(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "CONSTITUTION.md"))
	if err != nil {
		return ""
	}

	m := lawsRe.FindStringSubmatch(string(data))
	if m == nil {
		return ""
	}

	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(m[1]), "\n") {
		if boxBorderRe.MatchString(strings.TrimSpace(line)) {
			continue
		}
		line = strings.TrimSpace(boxCharRe.ReplaceAllString(line, ""))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
