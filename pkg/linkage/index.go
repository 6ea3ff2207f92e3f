package linkage

import (
	"time"

	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

type stayPair struct {
	hadmID    int64
	icuStayID int64
}

type window struct {
	icuStayID int64
	in, out   time.Time
}

// Index is the read-only view of the cohort used to resolve events.
type Index struct {
	pairs       map[stayPair]struct{}
	byAdmission map[int64][]window
}

func NewIndex(stays []models.Stay) *Index {
	idx := &Index{
		pairs:       make(map[stayPair]struct{}, len(stays)),
		byAdmission: make(map[int64][]window, len(stays)),
	}
	for _, s := range stays {
		pair := stayPair{s.HadmID, s.ICUStayID}
		if _, dup := idx.pairs[pair]; dup {
			continue
		}
		idx.pairs[pair] = struct{}{}
		idx.byAdmission[s.HadmID] = append(idx.byAdmission[s.HadmID], window{icuStayID: s.ICUStayID, in: s.InTime, out: s.OutTime})
	}
	return idx
}

func (idx *Index) HasPair(hadmID, icuStayID int64) bool {
	_, ok := idx.pairs[stayPair{hadmID, icuStayID}]
	return ok
}

// StayForAdmission returns the admission's stay when exactly one exists.
func (idx *Index) StayForAdmission(hadmID int64) (int64, bool) {
	windows := idx.byAdmission[hadmID]
	if len(windows) != 1 {
		return 0, false
	}
	return windows[0].icuStayID, true
}

// StayCovering returns the single stay of the admission whose ICU window
// contains at. Open stays (zero out time) cover everything after their start.
func (idx *Index) StayCovering(hadmID int64, at time.Time) (int64, bool) {
	var (
		found int64
		n     int
	)
	for _, w := range idx.byAdmission[hadmID] {
		if at.Before(w.in) {
			continue
		}
		if !w.out.IsZero() && at.After(w.out) {
			continue
		}
		found = w.icuStayID
		n++
	}
	return found, n == 1
}

func (idx *Index) Admissions() int {
	return len(idx.byAdmission)
}
