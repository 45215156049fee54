package supervisor

import (
	"fmt"
	"strings"

	"arcadiaforge/internal/features"
	"arcadiaforge/internal/memory"
)

// systemPrompt is the fixed role prompt every session starts from. The
// per-session situation arrives in the user prompt.
const systemPrompt = `You are an autonomous coding agent building an application to a fixed
specification, one bounded session at a time. You work through a catalogue
of features; each feature is done only when it demonstrably passes and you
have marked it with evidence.

Rules:
- Work on one feature at a time. Call feature_next when unsure what to do.
- Verify before claiming: capture a screenshot or test output, then call
  feature_mark with the artifact. Marking without evidence is rejected.
- Shell commands run through a security gate; a blocked command will not
  be retried for you. Choose another approach.
- Record significant choices with decision_log and working theories with
  hypothesis_log. Future sessions only know what you persist.
- Sessions are bounded. Leave the project in a resumable state rather than
  rushing a feature to a false "passing".`

// candidateFeatures is how many top-salience features the prompt surfaces.
const candidateFeatures = 5

// composePrompt assembles the session prompt: continuity from Warm/Cold
// memory, the salience-ranked candidates, working context, and the tool
// catalog names.
func (s *Supervisor) composePrompt(hot *memory.Hot, resumePrompt string) (system, user string, err error) {
	var b strings.Builder

	if resumePrompt != "" {
		b.WriteString(resumePrompt)
		b.WriteString("\n\n")
	}

	passing, total, err := s.features.Progress()
	if err != nil {
		return "", "", fmt.Errorf("feature progress: %w", err)
	}
	fmt.Fprintf(&b, "## Project Status\n%d of %d features passing.\n\n", passing, total)

	continuity, err := s.memory.ContinuityContext()
	if err != nil {
		return "", "", fmt.Errorf("continuity context: %w", err)
	}
	if continuity != "" {
		b.WriteString(continuity)
		b.WriteString("\n")
	}

	ranked, err := s.features.Rank(features.Context{
		RelatedFeatures: nil,
		SkipBlocked:     false,
	})
	if err != nil {
		return "", "", fmt.Errorf("rank features: %w", err)
	}
	if len(ranked) > 0 {
		b.WriteString("## Candidate Features (by salience)\n")
		for i, sc := range ranked {
			if i >= candidateFeatures {
				break
			}
			marker := ""
			if sc.Blocked {
				marker = " [blocked]"
			}
			fmt.Fprintf(&b, "%.2f %s%s\n", sc.Salience, features.Describe(&sc.Feature), marker)
		}
		b.WriteString("\n")
	}

	if wc := hot.PromptContext(); strings.Count(wc, "\n") > 1 {
		b.WriteString(wc)
		b.WriteString("\n")
	}

	b.WriteString("## Capabilities\nAvailable tools: ")
	b.WriteString(strings.Join(s.registry.Names(), ", "))
	b.WriteString("\n\nContinue working toward the specification.")

	return systemPrompt, b.String(), nil
}
