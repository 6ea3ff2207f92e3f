package linkage

import (
	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

// Rule proposes a stay for an event, or reports no match.
type Rule interface {
	Name() string
	Resolve(event models.Event, idx *Index) (int64, bool)
}

type RuleFunc struct {
	RuleName string
	Fn       func(event models.Event, idx *Index) (int64, bool)
}

func (r RuleFunc) Name() string { return r.RuleName }

func (r RuleFunc) Resolve(event models.Event, idx *Index) (int64, bool) {
	return r.Fn(event, idx)
}

const (
	RuleDirectPair      = "direct_pair"
	RuleAdmissionLookup = "admission_lookup"
	RuleAdmissionWindow = "admission_window"
)

// DirectPairRule accepts events whose own (admission, stay) pair is in the
// cohort.
func DirectPairRule() Rule {
	return RuleFunc{RuleName: RuleDirectPair, Fn: func(e models.Event, idx *Index) (int64, bool) {
		if !e.HadmID.Valid || !e.ICUStayID.Valid {
			return 0, false
		}
		if idx.HasPair(e.HadmID.Int64, e.ICUStayID.Int64) {
			return e.ICUStayID.Int64, true
		}
		return 0, false
	}}
}

// AdmissionLookupRule fills a missing stay id from the admission's only stay.
// An event that carries its own stay id is never overridden here.
func AdmissionLookupRule() Rule {
	return RuleFunc{RuleName: RuleAdmissionLookup, Fn: func(e models.Event, idx *Index) (int64, bool) {
		if !e.HadmID.Valid || e.ICUStayID.Valid {
			return 0, false
		}
		return idx.StayForAdmission(e.HadmID.Int64)
	}}
}

// AdmissionWindowRule fills a missing stay id when the admission has several
// stays but exactly one ICU window contains the event time. It only matters
// when the cohort allows more than one stay per admission.
func AdmissionWindowRule() Rule {
	return RuleFunc{RuleName: RuleAdmissionWindow, Fn: func(e models.Event, idx *Index) (int64, bool) {
		if !e.HadmID.Valid || e.ICUStayID.Valid {
			return 0, false
		}
		return idx.StayCovering(e.HadmID.Int64, e.CharTime)
	}}
}

func DefaultRules() []Rule {
	return []Rule{DirectPairRule(), AdmissionLookupRule(), AdmissionWindowRule()}
}
