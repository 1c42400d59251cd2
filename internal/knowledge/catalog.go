package knowledge

import (
	"regexp"
	"sort"
	"strings"

	"alertrank/pkg/models"
)

var techniqueIDRegex = regexp.MustCompile(`(?i)\bT\d{4}(?:[./]\d{3})?\b`)

// Catalog maps ATT&CK technique IDs to a known severity.
type Catalog struct {
	bySeverity map[string]models.Severity
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{bySeverity: make(map[string]models.Severity)}
}

// DefaultCatalog returns the built-in severities for common network-borne techniques.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for id, sev := range map[string]models.Severity{
		"T1003": models.SeverityCritical, // OS Credential Dumping
		"T1190": models.SeverityCritical, // Exploit Public-Facing Application
		"T1486": models.SeverityCritical, // Data Encrypted for Impact
		"T1041": models.SeverityHigh,     // Exfiltration Over C2 Channel
		"T1059": models.SeverityHigh,     // Command and Scripting Interpreter
		"T1078": models.SeverityHigh,     // Valid Accounts
		"T1110": models.SeverityHigh,     // Brute Force
		"T1498": models.SeverityHigh,     // Network Denial of Service
		"T1499": models.SeverityHigh,     // Endpoint Denial of Service
		"T1021": models.SeverityMedium,   // Remote Services
		"T1071": models.SeverityMedium,   // Application Layer Protocol
		"T1105": models.SeverityMedium,   // Ingress Tool Transfer
		"T1046": models.SeverityLow,      // Network Service Discovery
		"T1595": models.SeverityLow,      // Active Scanning
	} {
		c.Set(id, sev)
	}
	return c
}

// Set records sev for id, keeping the higher severity if id is already known.
func (c *Catalog) Set(id string, sev models.Severity) {
	key := NormalizeTechniqueID(id)
	if key == "" || !sev.Valid() {
		return
	}
	if prev, ok := c.bySeverity[key]; ok && rank(prev) >= rank(sev) {
		return
	}
	c.bySeverity[key] = sev
}

// Merge folds other into c.
func (c *Catalog) Merge(other *Catalog) {
	if other == nil {
		return
	}
	for id, sev := range other.bySeverity {
		c.Set(id, sev)
	}
}

// SeverityOf returns the severity for a technique. Unknown sub-techniques
// fall back to their parent technique.
func (c *Catalog) SeverityOf(id string) (models.Severity, bool) {
	if c == nil {
		return "", false
	}
	key := NormalizeTechniqueID(id)
	if sev, ok := c.bySeverity[key]; ok {
		return sev, true
	}
	if parent, _, found := strings.Cut(key, "."); found {
		sev, ok := c.bySeverity[parent]
		return sev, ok
	}
	return "", false
}

// Len returns the number of techniques in the catalog.
func (c *Catalog) Len() int {
	return len(c.bySeverity)
}

// IDs returns the known technique IDs in sorted order.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.bySeverity))
	for id := range c.bySeverity {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NormalizeTechniqueID canonicalizes "attack.t1110.001", "t1110/001" and
// "T1110.001" to "T1110.001". Strings without a technique ID yield "".
func NormalizeTechniqueID(raw string) string {
	v := strings.TrimSpace(raw)
	v = strings.TrimPrefix(strings.ToLower(v), "attack.")
	m := techniqueIDRegex.FindString(v)
	if m == "" {
		return ""
	}
	return strings.ToUpper(strings.ReplaceAll(m, "/", "."))
}

// ExtractTechniqueIDs returns every distinct technique ID mentioned in text,
// in order of first appearance.
func ExtractTechniqueIDs(text string) []string {
	found := techniqueIDRegex.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(found))
	out := make([]string, 0, len(found))
	for _, f := range found {
		id := strings.ToUpper(strings.ReplaceAll(f, "/", "."))
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func rank(sev models.Severity) int {
	for i, s := range models.Severities {
		if s == sev {
			return i
		}
	}
	return -1
}
