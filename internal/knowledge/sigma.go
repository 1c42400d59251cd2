package knowledge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"

	"alertrank/pkg/models"
)

// SigmaLoadStats tracks the number of loaded and skipped rules.
type SigmaLoadStats struct {
	TotalFiles         int
	Loaded             int
	Techniques         int
	SkippedInvalid     int
	SkippedLevel       int
	SkippedNoTechnique int
}

// LoadSigmaCatalog builds a technique catalog from a Sigma rule file or
// directory. Each rule contributes its level to every ATT&CK technique it is
// tagged with; the highest level wins.
func LoadSigmaCatalog(path string) (*Catalog, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve rule path: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, stats, fmt.Errorf("stat rule path: %w", err)
	}

	files := make([]string, 0, 256)
	if info.IsDir() {
		err = filepath.WalkDir(resolved, func(filePath string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if entry.IsDir() {
				return nil
			}
			if isYAMLFile(filePath) {
				files = append(files, filePath)
			}
			return nil
		})
		if err != nil {
			return nil, stats, fmt.Errorf("walk rule directory: %w", err)
		}
	} else {
		if !isYAMLFile(resolved) {
			return nil, stats, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		files = append(files, resolved)
	}

	stats.TotalFiles = len(files)
	catalog := NewCatalog()
	for _, ruleFile := range files {
		rule, err := parseSigmaRuleFile(ruleFile)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}

		sev, err := models.ParseSeverity(rule.Level)
		if err != nil {
			stats.SkippedLevel++
			continue
		}

		techniques := techniquesFromTags(rule.Tags)
		if len(techniques) == 0 {
			stats.SkippedNoTechnique++
			continue
		}

		for _, id := range techniques {
			catalog.Set(id, sev)
		}
		stats.Loaded++
	}
	stats.Techniques = catalog.Len()

	return catalog, stats, nil
}

func parseSigmaRuleFile(path string) (sigma.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("read sigma rule %s: %w", path, err)
	}
	rule, err := sigma.ParseRule(raw)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("parse sigma rule %s: %w", path, err)
	}
	return rule, nil
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func techniquesFromTags(tags []string) []string {
	var out []string
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if !strings.HasPrefix(tag, "attack.t") {
			continue
		}
		if id := NormalizeTechniqueID(tag); id != "" {
			out = append(out, id)
		}
	}
	return out
}
