package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/types"
)

// SpecFileName is the input specification expected at the project root.
const SpecFileName = "app_spec.txt"

// bootstrapFeatures creates the initial catalogue from app_spec.txt when
// the project has no features yet. Features are never created during
// normal operation, only here and in explicit add-requirements flows.
func (s *Supervisor) bootstrapFeatures() error {
	total, _, err := s.st.CountFeatures()
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(s.projectDir, SpecFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNoSpec, SpecFileName)
		}
		return fmt.Errorf("read %s: %w", SpecFileName, err)
	}

	feats := ParseSpec(string(data))
	if len(feats) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrNoSpec, SpecFileName)
	}
	if err := s.features.Create(feats); err != nil {
		return err
	}
	logging.Supervisor("bootstrapped %d features from %s", len(feats), SpecFileName)
	return nil
}

// ParseSpec turns an app_spec.txt into the initial feature catalogue.
//
// Format: blank-line-separated blocks. The first line of a block is the
// feature description; following lines starting with "-" or "N." are its
// steps. A "style:" prefix on the description selects the style category,
// and a trailing "[p1]".."[p4]" tag sets priority (default 2). Lines
// starting with "#" are comments.
func ParseSpec(text string) []types.Feature {
	var feats []types.Feature
	index := 1

	for _, block := range strings.Split(text, "\n\n") {
		var desc string
		var steps []string
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if desc == "" {
				desc = line
				continue
			}
			steps = append(steps, strings.TrimSpace(strings.TrimLeft(line, "-0123456789. ")))
		}
		if desc == "" {
			continue
		}

		category := types.CategoryFunctional
		if rest, ok := strings.CutPrefix(desc, "style:"); ok {
			category = types.CategoryStyle
			desc = strings.TrimSpace(rest)
		}

		priority := 2
		if n := len(desc); n >= 4 && desc[n-4] == '[' && desc[n-3] == 'p' && desc[n-1] == ']' {
			if p, err := strconv.Atoi(string(desc[n-2])); err == nil && p >= 1 && p <= 4 {
				priority = p
				desc = strings.TrimSpace(desc[:n-4])
			}
		}
		if desc == "" {
			continue
		}

		feats = append(feats, types.Feature{
			Index:       index,
			Category:    category,
			Description: desc,
			Steps:       steps,
			Priority:    priority,
		})
		index++
	}
	return feats
}
