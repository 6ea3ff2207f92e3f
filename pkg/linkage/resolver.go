package linkage

import (
	"github.com/synaptica-ai/decompensation/pkg/common/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"
)

type DropReason string

const (
	DropNone        DropReason = ""
	DropNoAdmission DropReason = "no_admission"
	DropUnmatched   DropReason = "unmatched"
	DropMismatch    DropReason = "stay_mismatch"
)

// Decision records how one event was resolved.
type Decision struct {
	Rule   string
	Reason DropReason
}

func (d Decision) Resolved() bool {
	return d.Reason == DropNone
}

type Stats struct {
	Total    int            `json:"total"`
	Resolved int            `json:"resolved"`
	ByRule   map[string]int `json:"by_rule"`
	Dropped  map[string]int `json:"dropped"`
}

func (s Stats) DroppedTotal() int {
	n := 0
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

func (s Stats) Fields() logrus.Fields {
	fields := logrus.Fields{"events": s.Total, "resolved": s.Resolved, "dropped": s.DroppedTotal()}
	for rule, n := range s.ByRule {
		fields["rule_"+rule] = n
	}
	for reason, n := range s.Dropped {
		fields["drop_"+reason] = n
	}
	return fields
}

// Resolver assigns events to cohort stays by evaluating rules in order and
// stopping at the first match. The admission id anchors every rule; events
// without one are dropped. It never invents identifiers.
type Resolver struct {
	idx   *Index
	rules []Rule
}

func NewResolver(stays []models.Stay, rules ...Rule) *Resolver {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Resolver{idx: NewIndex(stays), rules: rules}
}

func (r *Resolver) Index() *Index {
	return r.idx
}

func (r *Resolver) Resolve(event models.Event) (models.Event, Decision) {
	if !event.HadmID.Valid {
		return event, Decision{Reason: DropNoAdmission}
	}

	for _, rule := range r.rules {
		stayID, ok := rule.Resolve(event, r.idx)
		if !ok {
			continue
		}
		// The substituted pair must still exist for this admission.
		if !r.idx.HasPair(event.HadmID.Int64, stayID) {
			return event, Decision{Rule: rule.Name(), Reason: DropMismatch}
		}
		event.ICUStayID = null.IntFrom(stayID)
		return event, Decision{Rule: rule.Name()}
	}

	if event.ICUStayID.Valid {
		if _, known := r.idx.byAdmission[event.HadmID.Int64]; known {
			return event, Decision{Reason: DropMismatch}
		}
	}
	return event, Decision{Reason: DropUnmatched}
}

// ResolveAll filters events down to the resolved ones, preserving order.
func (r *Resolver) ResolveAll(events []models.Event) ([]models.Event, Stats) {
	stats := Stats{ByRule: make(map[string]int), Dropped: make(map[string]int)}
	out := make([]models.Event, 0, len(events))
	for _, e := range events {
		stats.Total++
		resolved, decision := r.Resolve(e)
		if !decision.Resolved() {
			stats.Dropped[string(decision.Reason)]++
			continue
		}
		stats.Resolved++
		stats.ByRule[decision.Rule]++
		out = append(out, resolved)
	}
	return out, stats
}
