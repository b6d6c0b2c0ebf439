// Package risk classifies prospective side-effecting actions and gates them
// behind approval decisions. Analysis is pattern based and deliberately
// conservative: when a description matches rules at several severities, the
// highest severity always wins.
package risk

import (
	"regexp"
	"strings"
)

// Level is an ordered severity classification.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseLevel maps a configuration string to a Level. Unknown values map to
// LevelHigh so a typo tightens the gate instead of loosening it.
func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low":
		return LevelLow
	case "medium":
		return LevelMedium
	case "high":
		return LevelHigh
	case "critical":
		return LevelCritical
	default:
		return LevelHigh
	}
}

// Category names the kind of operation a rule matched.
type Category string

const (
	CategorySystemCommand Category = "system_command"
	CategoryFileDelete    Category = "file_delete"
	CategoryFileWrite     Category = "file_write"
	CategoryPackage       Category = "package_install"
	CategoryEnvironment   Category = "environment_modification"
	CategorySafe          Category = "safe"
	CategoryOther         Category = "other"
)

// Assessment is the immutable result of analyzing one task description.
type Assessment struct {
	Level            Level
	Category         Category
	Reason           string
	MatchedPatterns  []string
	RequiresApproval bool
}

type rule struct {
	level    Level
	category Category
	tag      string
	pattern  *regexp.Regexp
}

// The rule table is ordered most to least severe. Analysis walks the whole
// table and keeps the highest matching severity; ordering only breaks ties
// within the same severity band (first category match wins there).
var defaultRules = []rule{
	{LevelCritical, CategoryFileDelete, "recursive-force-delete", regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)[a-z]*\b`)},
	{LevelCritical, CategorySystemCommand, "privilege-escalation", regexp.MustCompile(`(?i)\bsudo\b|\bdoas\b`)},
	{LevelCritical, CategorySystemCommand, "destructive-database", regexp.MustCompile(`(?i)\b(drop\s+(table|database)|truncate\s+table|delete\s+from\s+\w+\s*;?\s*$)`)},
	{LevelCritical, CategorySystemCommand, "disk-overwrite", regexp.MustCompile(`(?i)\bmkfs\b|\bdd\s+if=|>\s*/dev/sd`)},
	{LevelCritical, CategoryEnvironment, "permission-blast", regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)?777\b`)},

	{LevelHigh, CategoryFileDelete, "file-delete", regexp.MustCompile(`(?i)\b(rm|rmdir|unlink)\b|\bdel\s+/`)},
	{LevelHigh, CategoryPackage, "global-package-install", regexp.MustCompile(`(?i)\bnpm\s+(install|i)\s+(-g|--global)\b|\bpip\s+install\s+.*--user\b|\bapt(-get)?\s+install\b|\bbrew\s+install\b`)},
	{LevelHigh, CategorySystemCommand, "force-push", regexp.MustCompile(`(?i)\bgit\s+push\s+.*(--force|-f)\b|\bgit\s+reset\s+--hard\b`)},

	{LevelMedium, CategoryFileWrite, "source-file-write", regexp.MustCompile(`(?i)\b(write|edit|create|overwrite)\b.*\.(go|ts|js|py|rs|java|c|cpp|h|rb|sh)\b|write file|edit file`)},
	{LevelMedium, CategoryPackage, "package-install", regexp.MustCompile(`(?i)\b(npm|pnpm|yarn)\s+(install|add)\b|\bpip3?\s+install\b|\bgo\s+get\b|\bcargo\s+add\b`)},
	{LevelMedium, CategoryEnvironment, "env-file-edit", regexp.MustCompile(`(?i)\.env\b|\benv(ironment)?\s+variable|\bexport\s+[A-Z_]+=`)},
	{LevelMedium, CategorySystemCommand, "redirect-write", regexp.MustCompile(`>{1,2}\s*\S`)},

	{LevelLow, CategorySafe, "read-only", regexp.MustCompile(`(?i)\b(ls|cat|head|tail|grep|find|pwd|echo|which|read|list|view|show)\b`)},
}

// Config tunes the analyzer.
type Config struct {
	// Enabled toggles analysis. Disabled analyzers still return an explicit
	// Assessment, never silently skip.
	Enabled bool
	// ApprovalThreshold is the minimum level requiring approval.
	ApprovalThreshold Level
	// AllowPatterns short-circuit matching descriptions to low/no-approval.
	AllowPatterns []string
	// BlockPatterns short-circuit matching descriptions to critical/approval.
	BlockPatterns []string
}

// DefaultConfig enables analysis with approval from high severity up.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		ApprovalThreshold: LevelHigh,
	}
}

// Analyzer classifies task descriptions into Assessments.
type Analyzer struct {
	config Config
	rules  []rule
}

// NewAnalyzer builds an analyzer with the default rule table.
func NewAnalyzer(config Config) *Analyzer {
	return &Analyzer{config: config, rules: defaultRules}
}

// Analyze runs the rule table over the description and returns the highest
// matching severity. Allow/block lists are checked first and override the
// rule-based result entirely.
func (a *Analyzer) Analyze(description string) Assessment {
	if !a.config.Enabled {
		return Assessment{
			Level:    LevelLow,
			Category: CategorySafe,
			Reason:   "risk analysis disabled by configuration",
		}
	}

	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return Assessment{
			Level:    LevelLow,
			Category: CategorySafe,
			Reason:   "empty task description",
		}
	}

	if tag, ok := matchList(trimmed, a.config.AllowPatterns); ok {
		return Assessment{
			Level:           LevelLow,
			Category:        CategorySafe,
			Reason:          "matched auto-approve pattern",
			MatchedPatterns: []string{"allow:" + tag},
		}
	}
	if tag, ok := matchList(trimmed, a.config.BlockPatterns); ok {
		return Assessment{
			Level:            LevelCritical,
			Category:         CategoryOther,
			Reason:           "matched block pattern",
			MatchedPatterns:  []string{"block:" + tag},
			RequiresApproval: true,
		}
	}

	best := Assessment{
		Level:    LevelLow,
		Category: CategoryOther,
		Reason:   "no risk patterns matched",
	}
	matchedAny := false

	for _, r := range a.rules {
		if !r.pattern.MatchString(trimmed) {
			continue
		}
		if !matchedAny || r.level > best.Level {
			best.Level = r.level
			best.Category = r.category
			best.Reason = "matched " + r.tag + " pattern"
		}
		best.MatchedPatterns = append(best.MatchedPatterns, r.tag)
		matchedAny = true
	}

	best.RequiresApproval = best.Level >= a.config.ApprovalThreshold
	return best
}

func matchList(description string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		rx, err := regexp.Compile(p)
		if err != nil {
			// Invalid user patterns are skipped rather than failing analysis.
			continue
		}
		if rx.MatchString(description) {
			return p, true
		}
	}
	return "", false
}
