package human

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

// ConditionKind selects how a rule condition is evaluated.
type ConditionKind string

const (
	CondBelow      ConditionKind = "threshold_below"
	CondAtLeast    ConditionKind = "threshold_above"
	CondEquals     ConditionKind = "equals"
	CondContains   ConditionKind = "contains"
	CondRegression ConditionKind = "regression"
)

// Condition is a declarative predicate over the escalation context.
type Condition struct {
	Kind      ConditionKind `json:"kind"`
	Field     string        `json:"field,omitempty"`
	Threshold float64       `json:"threshold,omitempty"`
	Value     any           `json:"value,omitempty"`
	Substring string        `json:"substring,omitempty"`
}

// Rule decides when a situation needs a human.
type Rule struct {
	Name             string
	Condition        Condition
	Severity         int // 1..5
	InjectionType    types.InjectionType
	MessageTemplate  string
	SuggestedActions []string
	AutoPause        bool
	TimeoutSeconds   int
	DefaultAction    string // empty means wait for a human
}

// EscalationContext is what rules see after a tool result or at a decision
// point. Zero values mean "not applicable"; callers with no confidence
// signal should set Confidence to 1 so the confidence rules stay quiet.
type EscalationContext struct {
	Tool                 string
	Action               string
	Confidence           float64
	FeatureIndex         int
	ConsecutiveFailures  int
	ErrorCount           int
	ErrorMessage         string
	IsIrreversible       bool
	AffectsSourceOfTruth bool
	PreviouslyPassing    bool
	CurrentlyPassing     bool
	DecisionType         string
}

// Escalation is a matched rule rendered against the context.
type Escalation struct {
	Rule      *Rule
	Message   string
	Severity  int
	AutoPause bool
}

// defaultRules are the built-in escalations, from routine approval nudges
// up to hard stops.
func defaultRules() []Rule {
	return []Rule{
		{
			Name:             "low_confidence",
			Condition:        Condition{Kind: CondBelow, Field: "confidence", Threshold: 0.5},
			Severity:         3,
			InjectionType:    types.InjectionDecision,
			MessageTemplate:  "Agent confidence is %.0f%% for: %s",
			SuggestedActions: []string{"Approve agent choice", "Select alternative", "Provide guidance"},
			TimeoutSeconds:   300,
			DefaultAction:    "Approve agent choice",
		},
		{
			Name:             "very_low_confidence",
			Condition:        Condition{Kind: CondBelow, Field: "confidence", Threshold: 0.3},
			Severity:         4,
			InjectionType:    types.InjectionGuidance,
			MessageTemplate:  "Agent confidence is very low (%.0f%%). Context: %s",
			SuggestedActions: []string{"Provide guidance", "Take over manually", "Skip this task"},
			AutoPause:        true,
			TimeoutSeconds:   600,
		},
		{
			Name:             "feature_regression",
			Condition:        Condition{Kind: CondRegression},
			Severity:         4,
			InjectionType:    types.InjectionReview,
			MessageTemplate:  "Feature #%d regressed from passing to failing",
			SuggestedActions: []string{"Investigate", "Rollback to checkpoint", "Accept regression"},
			AutoPause:        true,
			TimeoutSeconds:   600,
			DefaultAction:    "Investigate",
		},
		{
			Name:             "multiple_failures",
			Condition:        Condition{Kind: CondAtLeast, Field: "consecutive_failures", Threshold: 3},
			Severity:         4,
			InjectionType:    types.InjectionGuidance,
			MessageTemplate:  "Agent has failed %d times on feature #%d",
			SuggestedActions: []string{"Skip feature", "Provide hints", "Take over manually"},
			AutoPause:        true,
			TimeoutSeconds:   600,
			DefaultAction:    "Skip feature",
		},
		{
			Name:             "many_failures",
			Condition:        Condition{Kind: CondAtLeast, Field: "consecutive_failures", Threshold: 5},
			Severity:         5,
			InjectionType:    types.InjectionRedirect,
			MessageTemplate:  "Agent stuck: %d failures on feature #%d",
			SuggestedActions: []string{"Skip feature", "Change approach", "Abort session"},
			AutoPause:        true,
			TimeoutSeconds:   900,
		},
		{
			Name:             "irreversible_action",
			Condition:        Condition{Kind: CondEquals, Field: "is_irreversible", Value: true},
			Severity:         5,
			InjectionType:    types.InjectionApproval,
			MessageTemplate:  "Agent wants to perform irreversible action: %s",
			SuggestedActions: []string{"Approve", "Deny", "Request checkpoint first"},
			AutoPause:        true,
			TimeoutSeconds:   600,
			DefaultAction:    "Deny",
		},
		{
			Name:             "source_of_truth_change",
			Condition:        Condition{Kind: CondEquals, Field: "affects_source_of_truth", Value: true},
			Severity:         3,
			InjectionType:    types.InjectionApproval,
			MessageTemplate:  "Agent wants to modify source of truth: %s",
			SuggestedActions: []string{"Approve", "Deny", "Review first"},
			TimeoutSeconds:   300,
			DefaultAction:    "Approve",
		},
		{
			Name:             "repeated_errors",
			Condition:        Condition{Kind: CondAtLeast, Field: "error_count", Threshold: 3},
			Severity:         3,
			InjectionType:    types.InjectionReview,
			MessageTemplate:  "Error occurring repeatedly (%d times): %s",
			SuggestedActions: []string{"Investigate error", "Skip task", "Change approach"},
			TimeoutSeconds:   300,
			DefaultAction:    "Investigate error",
		},
	}
}

// Engine evaluates escalation rules, built-in plus persisted custom ones.
type Engine struct {
	rules []Rule
}

// NewEngine loads the rule set, merging enabled custom rules from the store
// with the built-ins. Custom rules with unparseable conditions are skipped.
func NewEngine(st *store.Store) (*Engine, error) {
	e := &Engine{rules: defaultRules()}
	if st != nil {
		rows, err := st.EnabledEscalationRules()
		if err != nil {
			return nil, fmt.Errorf("load escalation rules: %w", err)
		}
		for _, row := range rows {
			var cond Condition
			if err := json.Unmarshal([]byte(row.ConditionJSON), &cond); err != nil {
				logging.Human("skipping custom escalation rule %q: %v", row.Name, err)
				continue
			}
			e.rules = append(e.rules, Rule{
				Name:            row.Name,
				Condition:       cond,
				Severity:        row.Severity,
				InjectionType:   types.InjectionReview,
				MessageTemplate: row.Name + ": %s",
				AutoPause:       row.AutoPause,
				TimeoutSeconds:  300,
			})
		}
	}

	// Evaluate relies on this ordering; the built-ins alone still need it.
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Severity > e.rules[j].Severity
	})
	return e, nil
}

// Evaluate returns the highest-severity matching rule, or nil when nothing
// fires. Rules are pre-sorted by severity so the first match wins.
func (e *Engine) Evaluate(ctx *EscalationContext) *Escalation {
	for i := range e.rules {
		rule := &e.rules[i]
		if !matches(&rule.Condition, ctx) {
			continue
		}
		esc := &Escalation{
			Rule:      rule,
			Message:   renderMessage(rule, ctx),
			Severity:  rule.Severity,
			AutoPause: rule.AutoPause,
		}
		logging.Human("escalation %q fired (severity %d): %s", rule.Name, rule.Severity, esc.Message)
		return esc
	}
	return nil
}

// EvaluateAll returns every matching rule, highest severity first.
func (e *Engine) EvaluateAll(ctx *EscalationContext) []Escalation {
	var out []Escalation
	for i := range e.rules {
		rule := &e.rules[i]
		if matches(&rule.Condition, ctx) {
			out = append(out, Escalation{
				Rule:      rule,
				Message:   renderMessage(rule, ctx),
				Severity:  rule.Severity,
				AutoPause: rule.AutoPause,
			})
		}
	}
	return out
}

// InjectionFor turns an escalation into the injection point to open.
func (esc *Escalation) InjectionFor(sessionID int64) *types.InjectionPoint {
	return &types.InjectionPoint{
		SessionID:        sessionID,
		Type:             esc.Rule.InjectionType,
		Context:          esc.Message,
		Options:          esc.Rule.SuggestedActions,
		Recommendation:   esc.Rule.DefaultAction,
		TimeoutSeconds:   esc.Rule.TimeoutSeconds,
		DefaultOnTimeout: esc.Rule.DefaultAction,
	}
}

func matches(c *Condition, ctx *EscalationContext) bool {
	switch c.Kind {
	case CondBelow:
		return fieldValue(c.Field, ctx) < c.Threshold
	case CondAtLeast:
		return fieldValue(c.Field, ctx) >= c.Threshold
	case CondEquals:
		switch c.Field {
		case "is_irreversible":
			return ctx.IsIrreversible == (c.Value == true)
		case "affects_source_of_truth":
			return ctx.AffectsSourceOfTruth == (c.Value == true)
		}
		return false
	case CondContains:
		var haystack string
		switch c.Field {
		case "error_message":
			haystack = ctx.ErrorMessage
		case "action":
			haystack = ctx.Action
		case "tool":
			haystack = ctx.Tool
		}
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(c.Substring))
	case CondRegression:
		return ctx.PreviouslyPassing && !ctx.CurrentlyPassing
	}
	return false
}

func fieldValue(field string, ctx *EscalationContext) float64 {
	switch field {
	case "confidence":
		return ctx.Confidence
	case "consecutive_failures":
		return float64(ctx.ConsecutiveFailures)
	case "error_count":
		return float64(ctx.ErrorCount)
	}
	return 0
}

func renderMessage(rule *Rule, ctx *EscalationContext) string {
	switch rule.Name {
	case "low_confidence":
		return fmt.Sprintf(rule.MessageTemplate, ctx.Confidence*100, ctx.DecisionType)
	case "very_low_confidence":
		return fmt.Sprintf(rule.MessageTemplate, ctx.Confidence*100, ctx.Action)
	case "feature_regression":
		return fmt.Sprintf(rule.MessageTemplate, ctx.FeatureIndex)
	case "multiple_failures", "many_failures":
		return fmt.Sprintf(rule.MessageTemplate, ctx.ConsecutiveFailures, ctx.FeatureIndex)
	case "irreversible_action", "source_of_truth_change":
		return fmt.Sprintf(rule.MessageTemplate, ctx.Action)
	case "repeated_errors":
		return fmt.Sprintf(rule.MessageTemplate, ctx.ErrorCount, ctx.ErrorMessage)
	}
	return fmt.Sprintf(rule.MessageTemplate, ctx.Action)
}
