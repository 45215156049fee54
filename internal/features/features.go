// Package features is the feature registry: the durable to-do list the
// agent works through. Selection is salience-based rather than strictly
// ordered, so priority, past failures, dependency fan-out, staleness, and
// the current working context all pull on what gets worked next.
package features

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

// ErrAlreadyPassing means a passing mark was a no-op: the feature already
// passes and its verification record stays as it was.
var ErrAlreadyPassing = errors.New("feature already passing")

// ErrBlocked means a feature cannot be marked passing while a feature it
// depends on is still failing.
var ErrBlocked = errors.New("feature is blocked by a failing dependency")

// priorityWeights is the base salience per priority (1 critical .. 4 low).
var priorityWeights = map[int]float64{
	1: 0.4,
	2: 0.3,
	3: 0.2,
	4: 0.1,
}

// Context carries what the session is currently focused on into scoring.
type Context struct {
	// RelatedFeatures get a salience boost, e.g. features sharing files
	// with the one just finished.
	RelatedFeatures []int

	// SkipBlocked excludes features whose blockers are still failing.
	// When false, blocked features may be returned so the caller can
	// surface why nothing is workable.
	SkipBlocked bool

	// Now overrides the clock for staleness scoring. Zero means now.
	Now time.Time
}

// Registry selects and mutates features through the store.
type Registry struct {
	st *store.Store
}

// New builds a registry over the project store.
func New(st *store.Store) *Registry {
	return &Registry{st: st}
}

// Create registers a batch of features, validating the dependency graph.
func (r *Registry) Create(features []types.Feature) error {
	return r.st.CreateFeatures(features)
}

// Get returns one feature by index.
func (r *Registry) Get(index int) (*types.Feature, error) {
	return r.st.GetFeature(index)
}

// List returns all features.
func (r *Registry) List() ([]types.Feature, error) {
	return r.st.ListFeatures()
}

// Salience scores a feature for the given context. Scores live in [0, 1];
// higher means work on it sooner.
func Salience(f *types.Feature, ctx Context) float64 {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s := priorityWeights[f.Priority]

	failures := f.FailureCount
	if failures > 3 {
		failures = 3
	}
	s -= 0.10 * float64(failures)

	s += 0.05 * float64(len(f.Blocks))

	if f.LastWorked != nil {
		days := now.Sub(*f.LastWorked).Hours() / 24
		if days < 0 {
			days = 0
		}
		if days > 5 {
			days = 5
		}
		s -= 0.02 * days
	}

	for _, related := range ctx.RelatedFeatures {
		if related == f.Index {
			s += 0.20
			break
		}
	}

	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Scored pairs a feature with its salience for inspection output.
type Scored struct {
	Feature  types.Feature
	Salience float64
	Blocked  bool
}

// Rank returns all non-passing features scored and sorted, highest salience
// first, ties broken by lower index.
func (r *Registry) Rank(ctx Context) ([]Scored, error) {
	all, err := r.st.ListFeatures()
	if err != nil {
		return nil, err
	}
	status, err := r.st.PassingStatus()
	if err != nil {
		return nil, err
	}

	var out []Scored
	for _, f := range all {
		if f.Passes {
			continue
		}
		blocked := f.IsBlocked(status)
		if blocked && ctx.SkipBlocked {
			continue
		}
		out = append(out, Scored{Feature: f, Salience: Salience(&f, ctx), Blocked: blocked})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Salience != out[j].Salience {
			return out[i].Salience > out[j].Salience
		}
		return out[i].Feature.Index < out[j].Feature.Index
	})
	return out, nil
}

// NextBySalience returns the most salient workable feature. Blocked
// features are never returned as workable; with SkipBlocked=false a
// blocked feature may be returned, flagged, so the caller can report it.
func (r *Registry) NextBySalience(ctx Context) (*Scored, error) {
	skipCtx := ctx
	skipCtx.SkipBlocked = true
	ranked, err := r.Rank(skipCtx)
	if err != nil {
		return nil, err
	}
	if len(ranked) > 0 {
		logging.Features("next by salience: feature %d (%.2f)", ranked[0].Feature.Index, ranked[0].Salience)
		return &ranked[0], nil
	}

	if !ctx.SkipBlocked {
		blockedOnly, err := r.Rank(ctx)
		if err != nil {
			return nil, err
		}
		if len(blockedOnly) > 0 {
			return &blockedOnly[0], nil
		}
	}
	return nil, store.ErrNotFound
}

// MarkPassing flips a feature to passing. Evidence artifacts are required
// unless the feature opts out of verification.
func (r *Registry) MarkPassing(index int, artifactIDs []string) error {
	f, err := r.st.GetFeature(index)
	if err != nil {
		return err
	}
	if f.Passes {
		return ErrAlreadyPassing
	}
	if len(f.BlockedBy) > 0 {
		status, err := r.st.PassingStatus()
		if err != nil {
			return err
		}
		if f.IsBlocked(status) {
			return fmt.Errorf("%w: feature %d blocked by %v", ErrBlocked, index, f.BlockedBy)
		}
	}
	if f.SkipVerification && len(artifactIDs) == 0 {
		if err := r.st.MarkFeaturePassingUnverified(index); err != nil {
			return err
		}
		return r.st.RecordFeatureAttempt(index, true)
	}
	if err := r.st.MarkFeaturePassing(index, artifactIDs); err != nil {
		return err
	}
	return r.st.RecordFeatureAttempt(index, true)
}

// MarkFailing reverts a feature to failing, e.g. when a regression check
// catches it, and counts the failed attempt.
func (r *Registry) MarkFailing(index int) error {
	if err := r.st.MarkFeatureFailing(index); err != nil {
		return err
	}
	return r.st.RecordFeatureAttempt(index, false)
}

// RecordAttempt stamps work on a feature without changing its status.
func (r *Registry) RecordAttempt(index int, success bool) error {
	return r.st.RecordFeatureAttempt(index, success)
}

// Skip deprioritizes a feature and records why it was set aside.
func (r *Registry) Skip(index int, reason string) error {
	if err := r.st.SetFeaturePriority(index, 4); err != nil {
		return err
	}
	if err := r.st.SetBlockedReason(index, reason); err != nil {
		return err
	}
	logging.Features("feature %d skipped: %s", index, reason)
	return nil
}

// Progress reports passing and total counts.
func (r *Registry) Progress() (passing, total int, err error) {
	total, passing, err = r.st.CountFeatures()
	return passing, total, err
}

// Regressions compares a previous passing snapshot with the current one and
// returns features that went passing -> failing.
func (r *Registry) Regressions(previous map[int]bool) ([]int, error) {
	current, err := r.st.PassingStatus()
	if err != nil {
		return nil, err
	}
	var regressed []int
	for index, wasPassing := range previous {
		if wasPassing && !current[index] {
			regressed = append(regressed, index)
		}
	}
	sort.Ints(regressed)
	if len(regressed) > 0 {
		logging.Features("regression detected: features %v went passing -> failing", regressed)
	}
	return regressed, nil
}

// Describe renders a one-line summary for logs and prompts.
func Describe(f *types.Feature) string {
	state := "failing"
	if f.Passes {
		state = "passing"
	}
	return fmt.Sprintf("#%d [%s, p%d, %s] %s", f.Index, f.Category, f.Priority, state, f.Description)
}
