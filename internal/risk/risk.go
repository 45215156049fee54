// Package risk classifies tool calls by risk level before execution so the
// hook pipeline can gate them appropriately: checkpoint before moderate
// writes, require approval for high-risk irreversible actions.
package risk

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/store"
)

// Level grades the severity of potential negative outcomes.
type Level int

const (
	Minimal  Level = 1 // reads, no side effects
	Low      Level = 2 // reversible local writes
	Moderate Level = 3 // significant but recoverable changes
	High     Level = 4 // hard to reverse
	Critical Level = 5 // destructive, irreversible
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case Minimal:
		return "MINIMAL"
	case Low:
		return "LOW"
	case Moderate:
		return "MODERATE"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel maps a stored level name back to its value.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "MINIMAL":
		return Minimal
	case "LOW":
		return Low
	case "MODERATE":
		return Moderate
	case "HIGH":
		return High
	case "CRITICAL":
		return Critical
	}
	return Moderate
}

// Pattern matches a known risky shape of tool input.
type Pattern struct {
	ID          string
	Description string
	Tool        string // empty matches any tool
	InputField  string
	InputRe     *regexp.Regexp
	Level       Level

	Irreversible  bool
	SourceOfTruth bool
	External      bool

	RequiresApproval   bool
	RequiresCheckpoint bool
	Mitigation         string
}

// Assessment is the classifier's verdict on one tool call.
type Assessment struct {
	Tool         string
	Action       string
	InputSummary string
	Level        Level

	Reversible    bool
	SourceOfTruth bool
	External      bool
	Concerns      []string

	RequiresApproval   bool
	RequiresCheckpoint bool
	RequiresReview     bool
	Mitigation         string
}

// defaultPatterns are the built-in classification rules.
func defaultPatterns() []Pattern {
	re := regexp.MustCompile
	return []Pattern{
		{
			ID: "state_database_write", Description: "Direct write to the project state database",
			Tool: "write_file", InputField: "path", InputRe: re(`(?i)\.arcadia/project\.db$`),
			Level: High, SourceOfTruth: true, RequiresCheckpoint: true,
			Mitigation: "Use the feature tools instead of touching the database directly",
		},
		{
			ID: "git_push", Description: "Git push to remote",
			Tool: "run_shell", InputField: "command", InputRe: re(`(?i)git\s+push`),
			Level: High, Irreversible: true, External: true, RequiresApproval: true,
		},
		{
			ID: "git_force_push", Description: "Git force push",
			Tool: "run_shell", InputField: "command", InputRe: re(`(?i)git\s+push\s+.*(-f|--force)`),
			Level: Critical, Irreversible: true, External: true, RequiresApproval: true,
			Mitigation: "Avoid force push unless absolutely necessary",
		},
		{
			ID: "git_reset_hard", Description: "Git hard reset",
			Tool: "run_shell", InputField: "command", InputRe: re(`(?i)git\s+reset\s+--hard`),
			Level: High, Irreversible: true, RequiresCheckpoint: true, RequiresApproval: true,
		},
		{
			ID: "rm_recursive", Description: "Recursive file deletion",
			Tool: "run_shell", InputField: "command", InputRe: re(`(?i)rm\s+.*-r`),
			Level: High, Irreversible: true, RequiresApproval: true, RequiresCheckpoint: true,
		},
		{
			ID: "rm_force", Description: "Force file deletion",
			Tool: "run_shell", InputField: "command", InputRe: re(`(?i)rm\s+.*-f`),
			Level: Moderate, Irreversible: true, RequiresCheckpoint: true,
		},
		{
			ID: "npm_install", Description: "NPM package installation",
			Tool: "run_shell", InputField: "command", InputRe: re(`(?i)npm\s+(install|i)\s`),
			Level: Moderate, External: true, RequiresCheckpoint: true,
		},
		{
			ID: "pip_install", Description: "Python package installation",
			Tool: "run_shell", InputField: "command", InputRe: re(`(?i)pip\s+install`),
			Level: Moderate, External: true, RequiresCheckpoint: true,
		},
		{
			ID: "db_drop", Description: "Database drop operation",
			Tool: "run_shell", InputField: "command", InputRe: re(`(?i)(DROP\s+(TABLE|DATABASE)|dropdb)`),
			Level: Critical, Irreversible: true, RequiresApproval: true, RequiresCheckpoint: true,
			Mitigation: "Create a backup before dropping",
		},
		{
			ID: "db_truncate", Description: "Database truncate operation",
			Tool: "run_shell", InputField: "command", InputRe: re(`(?i)TRUNCATE\s+TABLE`),
			Level: High, Irreversible: true, RequiresApproval: true,
		},
		{
			ID: "curl_post", Description: "HTTP POST request",
			Tool: "run_shell", InputField: "command", InputRe: re(`(?i)curl\s+.*(-X\s*POST|-d\s)`),
			Level: Moderate, External: true,
		},
		{
			ID: "env_file_write", Description: "Environment file modification",
			Tool: "write_file", InputField: "path", InputRe: re(`(?i)\.env`),
			Level: High, SourceOfTruth: true, RequiresApproval: true,
		},
		{
			ID: "config_file_write", Description: "Configuration file modification",
			Tool: "write_file", InputField: "path", InputRe: re(`(?i)(config|settings)\.(json|yaml|yml|toml)$`),
			Level: Moderate, RequiresCheckpoint: true,
		},
	}
}

// defaultToolLevels is the fallback by tool when no pattern matches.
var defaultToolLevels = map[string]Level{
	"read_file":          Minimal,
	"list_files":         Minimal,
	"search_files":       Minimal,
	"write_file":         Moderate,
	"edit_file":          Moderate,
	"run_shell":          Moderate,
	"feature_mark":       Moderate,
	"feature_skip":       Low,
	"feature_list":       Minimal,
	"feature_next":       Minimal,
	"browser_navigate":   Low,
	"browser_screenshot": Minimal,
	"browser_click":      Low,
	"browser_type":       Low,
}

var reversibleByDefault = map[string]bool{
	"read_file": true, "list_files": true, "search_files": true, "browser_screenshot": true,
}

var sourceOfTruthByDefault = map[string]bool{
	"write_file": true, "edit_file": true, "feature_mark": true,
}

var externalByDefault = map[string]bool{
	"run_shell": true, "browser_navigate": true,
}

// Classifier assesses tool calls against built-in and persisted patterns.
type Classifier struct {
	store     *store.Store
	patterns  []Pattern
	sessionID int64
}

// New builds a classifier, merging custom patterns persisted in the store
// (regexes over the run_shell command field) with the built-ins.
func New(st *store.Store) (*Classifier, error) {
	c := &Classifier{store: st, patterns: defaultPatterns()}
	if st == nil {
		return c, nil
	}

	rows, err := st.EnabledRiskPatterns()
	if err != nil {
		return nil, fmt.Errorf("load risk patterns: %w", err)
	}
	for _, row := range rows {
		compiled, err := regexp.Compile("(?i)" + row.Pattern)
		if err != nil {
			logging.Risk("skipping unparseable custom pattern %q: %v", row.Pattern, err)
			continue
		}
		level := ParseLevel(row.Level)
		c.patterns = append(c.patterns, Pattern{
			ID:                 fmt.Sprintf("custom_%d", row.ID),
			Description:        row.Reason,
			Tool:               "run_shell",
			InputField:         "command",
			InputRe:            compiled,
			Level:              level,
			RequiresCheckpoint: level >= Moderate,
			RequiresApproval:   level >= High,
		})
	}
	return c, nil
}

// SetSession attributes subsequent assessments to a session.
func (c *Classifier) SetSession(id int64) {
	c.sessionID = id
}

// Assess classifies one tool call. Matched patterns aggregate: the highest
// level wins, reversibility is the AND, side-effect flags the OR.
func (c *Classifier) Assess(tool string, input map[string]any) Assessment {
	matched := c.match(tool, input)

	var a Assessment
	if len(matched) > 0 {
		a = buildFromPatterns(tool, input, matched)
	} else {
		a = buildDefault(tool, input)
	}

	logging.Risk("%s -> %s (approval=%v checkpoint=%v)", a.Action, a.Level, a.RequiresApproval, a.RequiresCheckpoint)
	if c.store != nil {
		matchedID := ""
		if len(matched) > 0 {
			matchedID = matched[0].ID
		}
		_ = c.store.LogRiskAssessment(&store.RiskAssessmentRow{
			SessionID:      c.sessionID,
			Tool:           tool,
			Summary:        a.InputSummary,
			Level:          a.Level.String(),
			MatchedPattern: matchedID,
		})
	}
	return a
}

func (c *Classifier) match(tool string, input map[string]any) []Pattern {
	var matches []Pattern
	for _, p := range c.patterns {
		if p.Tool != "" && p.Tool != tool {
			continue
		}
		if p.InputRe != nil && p.InputField != "" {
			value := fmt.Sprintf("%v", input[p.InputField])
			if !p.InputRe.MatchString(value) {
				continue
			}
		}
		matches = append(matches, p)
	}
	return matches
}

func buildFromPatterns(tool string, input map[string]any, patterns []Pattern) Assessment {
	a := Assessment{
		Tool:         tool,
		Action:       summarizeAction(tool, input),
		InputSummary: summarizeInput(input),
		Reversible:   true,
	}
	for _, p := range patterns {
		if p.Level > a.Level {
			a.Level = p.Level
		}
		a.Concerns = append(a.Concerns, p.Description)
		if p.Irreversible {
			a.Reversible = false
		}
		a.SourceOfTruth = a.SourceOfTruth || p.SourceOfTruth
		a.External = a.External || p.External
		a.RequiresApproval = a.RequiresApproval || p.RequiresApproval
		a.RequiresCheckpoint = a.RequiresCheckpoint || p.RequiresCheckpoint
		if a.Mitigation == "" {
			a.Mitigation = p.Mitigation
		}
	}
	// The checkpoint rule holds regardless of what the individual
	// patterns asked for: high risk or a source-of-truth target always
	// gets a snapshot first.
	a.RequiresCheckpoint = a.RequiresCheckpoint || a.Level >= High || a.SourceOfTruth
	a.RequiresReview = a.Level >= High
	return a
}

func buildDefault(tool string, input map[string]any) Assessment {
	level, ok := defaultToolLevels[tool]
	if !ok {
		level = Moderate
	}
	return Assessment{
		Tool:               tool,
		Action:             summarizeAction(tool, input),
		InputSummary:       summarizeInput(input),
		Level:              level,
		Reversible:         reversibleByDefault[tool],
		SourceOfTruth:      sourceOfTruthByDefault[tool],
		External:           externalByDefault[tool],
		RequiresCheckpoint: level >= Moderate,
		RequiresApproval:   level >= High,
		RequiresReview:     level >= High,
	}
}

func summarizeAction(tool string, input map[string]any) string {
	switch tool {
	case "write_file", "edit_file", "read_file":
		if path, ok := input["path"].(string); ok {
			return fmt.Sprintf("%s %s", tool, path)
		}
	case "run_shell":
		if cmd, ok := input["command"].(string); ok {
			return "run: " + truncate(cmd, 50)
		}
	}
	return tool + " operation"
}

func summarizeInput(input map[string]any) string {
	if len(input) == 0 {
		return "(no input)"
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 3 {
		keys = keys[:3]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, truncate(fmt.Sprintf("%v", input[k]), 50)))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
