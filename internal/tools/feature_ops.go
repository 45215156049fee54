package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"arcadiaforge/internal/features"
	"arcadiaforge/internal/store"
)

// FeatureNextTool surfaces the most salient workable feature.
func FeatureNextTool(reg *features.Registry) *Tool {
	return &Tool{
		Name:        "feature_next",
		Description: "Get the next feature to work on, ranked by salience",
		Schema: Schema{
			Properties: map[string]Property{
				"related": {
					Type:        "array",
					Description: "Feature indexes related to current work, boosting their rank",
					Items:       &Items{Type: "integer"},
				},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			ctx := features.Context{RelatedFeatures: intSliceArg(args, "related")}
			scored, err := reg.NextBySalience(ctx)
			if err == store.ErrNotFound {
				return &Output{Text: "no features left to work on"}, nil
			}
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%s (salience %.2f)\n", features.Describe(&scored.Feature), scored.Salience)
			for i, step := range scored.Feature.Steps {
				fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
			}
			if scored.Blocked {
				fmt.Fprintf(&b, "  blocked by %v: %s\n", scored.Feature.BlockedBy, scored.Feature.BlockedReason)
			}
			return &Output{Text: b.String()}, nil
		},
	}
}

// FeatureShowTool shows one feature in full.
func FeatureShowTool(reg *features.Registry) *Tool {
	return &Tool{
		Name:        "feature_show",
		Description: "Show a feature's full description, steps, and status",
		Schema: Schema{
			Required: []string{"index"},
			Properties: map[string]Property{
				"index": {Type: "integer", Description: "Feature index"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			f, err := reg.Get(intArg(args, "index", -1))
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			b.WriteString(features.Describe(f) + "\n")
			for i, step := range f.Steps {
				fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
			}
			if len(f.BlockedBy) > 0 {
				fmt.Fprintf(&b, "  blocked by: %v\n", f.BlockedBy)
			}
			if f.FailureCount > 0 {
				fmt.Fprintf(&b, "  failed attempts: %d\n", f.FailureCount)
			}
			if len(f.VerificationArtifacts) > 0 {
				fmt.Fprintf(&b, "  evidence: %s\n", strings.Join(f.VerificationArtifacts, ", "))
			}
			return &Output{Text: b.String()}, nil
		},
	}
}

// FeatureListTool lists all features with pass state.
func FeatureListTool(reg *features.Registry) *Tool {
	return &Tool{
		Name:        "feature_list",
		Description: "List all features and their status",
		Schema: Schema{
			Properties: map[string]Property{
				"only_failing": {Type: "boolean", Description: "Show only features not yet passing", Default: false},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			list, err := reg.List()
			if err != nil {
				return nil, err
			}
			onlyFailing := boolArg(args, "only_failing", false)
			var b strings.Builder
			for i := range list {
				if onlyFailing && list[i].Passes {
					continue
				}
				b.WriteString(features.Describe(&list[i]) + "\n")
			}
			if b.Len() == 0 {
				return &Output{Text: "no features match"}, nil
			}
			return &Output{Text: b.String()}, nil
		},
	}
}

// FeatureSearchTool finds features whose description matches a substring.
func FeatureSearchTool(reg *features.Registry) *Tool {
	return &Tool{
		Name:        "feature_search",
		Description: "Search feature descriptions for a case-insensitive substring",
		Schema: Schema{
			Required: []string{"query"},
			Properties: map[string]Property{
				"query": {Type: "string", Description: "Text to search for"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			query := strings.ToLower(stringArg(args, "query"))
			list, err := reg.List()
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			for i := range list {
				if strings.Contains(strings.ToLower(list[i].Description), query) {
					b.WriteString(features.Describe(&list[i]) + "\n")
				}
			}
			if b.Len() == 0 {
				return &Output{Text: "no features match"}, nil
			}
			return &Output{Text: b.String()}, nil
		},
	}
}

// FeatureMarkTool transitions a feature to passing (with evidence) or
// failing. Marking passing without evidence fails unless the feature is
// exempt from verification.
func FeatureMarkTool(reg *features.Registry) *Tool {
	return &Tool{
		Name:        "feature_mark",
		Description: "Mark a feature passing (requires evidence artifacts) or failing",
		Schema: Schema{
			Required: []string{"index", "status"},
			Properties: map[string]Property{
				"index":  {Type: "integer", Description: "Feature index"},
				"status": {Type: "string", Description: "New status", Enum: []any{"passing", "failing"}},
				"artifacts": {
					Type:        "array",
					Description: "Evidence artifact ids backing a passing mark",
					Items:       &Items{Type: "string"},
				},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			index := intArg(args, "index", -1)
			switch status := stringArg(args, "status"); status {
			case "passing":
				if err := reg.MarkPassing(index, stringSliceArg(args, "artifacts")); err != nil {
					if errors.Is(err, features.ErrAlreadyPassing) {
						return &Output{Text: fmt.Sprintf("feature %d already passing; nothing to do", index)}, nil
					}
					return nil, err
				}
				return &Output{Text: fmt.Sprintf("feature %d marked passing", index)}, nil
			case "failing":
				if err := reg.MarkFailing(index); err != nil {
					return nil, err
				}
				return &Output{Text: fmt.Sprintf("feature %d marked failing", index)}, nil
			default:
				return nil, fmt.Errorf("status must be passing or failing, got %q", status)
			}
		},
	}
}

// FeatureSkipTool parks a feature at lowest priority with a reason.
func FeatureSkipTool(reg *features.Registry) *Tool {
	return &Tool{
		Name:        "feature_skip",
		Description: "Skip a feature: drop it to lowest priority and record why",
		Schema: Schema{
			Required: []string{"index", "reason"},
			Properties: map[string]Property{
				"index":  {Type: "integer", Description: "Feature index"},
				"reason": {Type: "string", Description: "Why the feature is being skipped"},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			index := intArg(args, "index", -1)
			if err := reg.Skip(index, stringArg(args, "reason")); err != nil {
				return nil, err
			}
			return &Output{Text: fmt.Sprintf("feature %d skipped", index)}, nil
		},
	}
}

// FeatureBlockTool replaces a feature's blocker list; an empty list
// unblocks it.
func FeatureBlockTool(st *store.Store) *Tool {
	return &Tool{
		Name:        "feature_block",
		Description: "Set which features block a feature; pass an empty list to unblock",
		Schema: Schema{
			Required: []string{"index"},
			Properties: map[string]Property{
				"index": {Type: "integer", Description: "Feature index"},
				"blocked_by": {
					Type:        "array",
					Description: "Indexes of features that must pass first",
					Items:       &Items{Type: "integer"},
				},
			},
		},
		Execute: func(_ context.Context, args map[string]any) (*Output, error) {
			index := intArg(args, "index", -1)
			blockedBy := intSliceArg(args, "blocked_by")
			if err := st.SetBlockedBy(index, blockedBy); err != nil {
				return nil, err
			}
			if len(blockedBy) == 0 {
				_ = st.SetBlockedReason(index, "")
				return &Output{Text: fmt.Sprintf("feature %d unblocked", index)}, nil
			}
			return &Output{Text: fmt.Sprintf("feature %d now blocked by %v", index, blockedBy)}, nil
		},
	}
}

// ProgressTool summarizes overall completion.
func ProgressTool(reg *features.Registry) *Tool {
	return &Tool{
		Name:        "progress_status",
		Description: "Report how many features pass out of the total",
		Schema:      Schema{},
		Execute: func(_ context.Context, _ map[string]any) (*Output, error) {
			passing, total, err := reg.Progress()
			if err != nil {
				return nil, err
			}
			pct := 0.0
			if total > 0 {
				pct = 100 * float64(passing) / float64(total)
			}
			return &Output{Text: fmt.Sprintf("%d/%d features passing (%.0f%%)", passing, total, pct)}, nil
		},
	}
}

func intSliceArg(args map[string]any, key string) []int {
	switch v := args[key].(type) {
	case []int:
		return v
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case int:
				out = append(out, n)
			case float64:
				out = append(out, int(n))
			}
		}
		return out
	}
	return nil
}
