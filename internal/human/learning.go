package human

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"arcadiaforge/internal/logging"
	"arcadiaforge/internal/store"
	"arcadiaforge/internal/types"
)

// Auto-apply thresholds: a pattern answers on its own only after it has
// been applied at least this often with at least this success rate.
const (
	autoApplyMinApplies     = 3
	autoApplyMinSuccessRate = 0.8
)

// Learner generalizes human interventions into reusable patterns.
type Learner struct {
	st *store.Store
}

// NewLearner builds a learner over the project store.
func NewLearner(st *store.Store) *Learner {
	return &Learner{st: st}
}

// Signature fingerprints the context an intervention applied to, so the
// same situation can be recognized later regardless of wording.
func Signature(tool string, featureIndex int, errorClass string, autonomyLevel int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%d", tool, featureIndex, errorClass, autonomyLevel)))
	return hex.EncodeToString(sum[:])[:16]
}

// AutoResponse returns the learned answer for a signature when its pattern
// has earned auto-apply.
func (l *Learner) AutoResponse(signature string) (string, bool) {
	p, err := l.st.PatternBySignature(signature)
	if err != nil || p == nil {
		return "", false
	}
	if p.AutoApply {
		return p.Response, true
	}
	return "", false
}

// RecordIntervention stores a non-default human response. The pattern's
// counters are not touched here; they move when the outcome is known.
func (l *Learner) RecordIntervention(iv *types.Intervention) {
	if _, err := l.st.SaveIntervention(iv); err != nil {
		logging.Human("record intervention failed: %v", err)
	}
}

// RecordOutcome feeds back whether applying a response for this signature
// worked, updating the pattern's confidence and auto-apply flag.
func (l *Learner) RecordOutcome(signature, response string, succeeded bool) (*types.InterventionPattern, error) {
	p, err := l.st.UpsertInterventionPattern(signature, response, succeeded, autoApplyMinApplies, autoApplyMinSuccessRate)
	if err != nil {
		return nil, err
	}
	logging.Human("pattern %s: %d/%d succeeded, auto_apply=%v",
		signature, p.TimesSucceeded, p.TimesApplied, p.AutoApply)
	return p, nil
}

// History returns past interventions matching a signature.
func (l *Learner) History(signature string) ([]types.Intervention, error) {
	return l.st.InterventionsBySignature(signature)
}
