package cohort

import (
	"sort"
	"time"

	"github.com/synaptica-ai/decompensation/pkg/common/config"
	"github.com/synaptica-ai/decompensation/pkg/common/logger"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
	"github.com/sirupsen/logrus"
)

// Options bound the cohort. SentinelAge replaces ages that are negative or
// above ImplausibleAgeOver, which is how the export encodes very old patients
// after de-identification.
type Options struct {
	MinStays           int
	MaxStays           int
	MinAge             float64
	MaxAge             float64 // 0 disables the upper bound
	SentinelAge        float64
	ImplausibleAgeOver float64 // 0 disables the upper sanity check
}

func DefaultOptions() Options {
	return Options{
		MinStays:           1,
		MaxStays:           1,
		MinAge:             18,
		SentinelAge:        91.4,
		ImplausibleAgeOver: 300,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinStays:           cfg.CohortMinStays,
		MaxStays:           cfg.CohortMaxStays,
		MinAge:             cfg.CohortMinAge,
		MaxAge:             cfg.CohortMaxAge,
		SentinelAge:        cfg.CohortSentinelAge,
		ImplausibleAgeOver: cfg.CohortImplausibleAge,
	}
}

// Summary counts rows surviving each step.
type Summary struct {
	ICUStays          int `json:"icu_stays"`
	AfterTransfers    int `json:"after_transfers"`
	AfterAdmissions   int `json:"after_admissions"`
	AfterPatients     int `json:"after_patients"`
	AfterStayCount    int `json:"after_stay_count"`
	AfterAge          int `json:"after_age"`
	Subjects          int `json:"subjects"`
	SentinelAgesFixed int `json:"sentinel_ages"`
}

func (s Summary) Fields() logrus.Fields {
	return logrus.Fields{
		"icu_stays":        s.ICUStays,
		"after_transfers":  s.AfterTransfers,
		"after_admissions": s.AfterAdmissions,
		"after_patients":   s.AfterPatients,
		"after_stay_count": s.AfterStayCount,
		"after_age":        s.AfterAge,
		"subjects":         s.Subjects,
		"sentinel_ages":    s.SentinelAgesFixed,
	}
}

type admissionKey struct {
	subjectID int64
	hadmID    int64
}

// Build runs the filter cascade and returns one Stay per retained ICU stay,
// sorted by subject and ICU admission time. An empty result is not an error.
func Build(patients []models.Patient, admissions []models.Admission, icuStays []models.ICUStay, opts Options) ([]models.Stay, Summary) {
	summary := Summary{ICUStays: len(icuStays)}

	kept := make([]models.ICUStay, 0, len(icuStays))
	for _, s := range icuStays {
		if !s.Transferred() {
			kept = append(kept, s)
		}
	}
	summary.AfterTransfers = len(kept)

	admissionsByKey := make(map[admissionKey]models.Admission, len(admissions))
	for _, a := range admissions {
		admissionsByKey[admissionKey{a.SubjectID, a.HadmID}] = a
	}
	patientsByID := make(map[int64]models.Patient, len(patients))
	for _, p := range patients {
		patientsByID[p.SubjectID] = p
	}

	stays := make([]models.Stay, 0, len(kept))
	for _, s := range kept {
		a, ok := admissionsByKey[admissionKey{s.SubjectID, s.HadmID}]
		if !ok {
			continue
		}
		summary.AfterAdmissions++
		p, ok := patientsByID[s.SubjectID]
		if !ok {
			continue
		}
		stays = append(stays, join(s, a, p))
	}
	summary.AfterPatients = len(stays)

	stays = filterOnStayCount(stays, opts)
	summary.AfterStayCount = len(stays)

	filtered := stays[:0]
	subjects := make(map[int64]struct{})
	for _, s := range stays {
		var fixed bool
		s.Age, fixed = age(s.DOB, s.AdmitTime, opts)
		if fixed {
			summary.SentinelAgesFixed++
		}
		s.MortalityInUnit = diedWithin(s, s.InTime, s.OutTime)
		s.MortalityInHospital = diedWithin(s, s.AdmitTime, s.DischTime)
		s.Mortality = s.DOD.Valid

		if s.Age < opts.MinAge {
			continue
		}
		if opts.MaxAge > 0 && s.Age > opts.MaxAge {
			continue
		}
		filtered = append(filtered, s)
		subjects[s.SubjectID] = struct{}{}
	}
	summary.AfterAge = len(filtered)
	summary.Subjects = len(subjects)

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].SubjectID != filtered[j].SubjectID {
			return filtered[i].SubjectID < filtered[j].SubjectID
		}
		return filtered[i].InTime.Before(filtered[j].InTime)
	})

	logger.WithFields(summary.Fields()).Info("Cohort built")
	return filtered, summary
}

func join(s models.ICUStay, a models.Admission, p models.Patient) models.Stay {
	return models.Stay{
		SubjectID:    s.SubjectID,
		HadmID:       s.HadmID,
		ICUStayID:    s.ICUStayID,
		LastCareUnit: s.LastCareUnit,
		DBSource:     s.DBSource,
		InTime:       s.InTime,
		OutTime:      s.OutTime,
		LOS:          s.LOS,
		AdmitTime:    a.AdmitTime,
		DischTime:    a.DischTime,
		DeathTime:    a.DeathTime,
		Ethnicity:    a.Ethnicity,
		Diagnosis:    a.Diagnosis,
		Gender:       p.Gender,
		DOB:          p.DOB,
		DOD:          p.DOD,
	}
}

func filterOnStayCount(stays []models.Stay, opts Options) []models.Stay {
	counts := make(map[admissionKey]int)
	for _, s := range stays {
		counts[admissionKey{s.SubjectID, s.HadmID}]++
	}
	minStays := opts.MinStays
	if minStays < 1 {
		minStays = 1
	}
	maxStays := opts.MaxStays
	if maxStays < minStays {
		maxStays = minStays
	}
	out := make([]models.Stay, 0, len(stays))
	for _, s := range stays {
		n := counts[admissionKey{s.SubjectID, s.HadmID}]
		if n >= minStays && n <= maxStays {
			out = append(out, s)
		}
	}
	return out
}

// age returns the calendar age in fractional years and whether the sentinel
// was substituted.
func age(dob, at time.Time, opts Options) (float64, bool) {
	years := CalendarAge(dob, at)
	if years < 0 || (opts.ImplausibleAgeOver > 0 && years > opts.ImplausibleAgeOver) {
		return opts.SentinelAge, true
	}
	return years, false
}

// CalendarAge counts whole birthdays between dob and at, plus the elapsed
// fraction of the current year of life. It never overflows time.Duration for
// dates centuries apart. The result is negative when dob is after at.
func CalendarAge(dob, at time.Time) float64 {
	if at.Before(dob) {
		return -CalendarAge(at, dob)
	}
	years := at.Year() - dob.Year()
	anniversary := dob.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
		anniversary = dob.AddDate(years, 0, 0)
	}
	next := dob.AddDate(years+1, 0, 0)
	return float64(years) + float64(at.Sub(anniversary))/float64(next.Sub(anniversary))
}

// diedWithin reports whether the date of death or the admission's recorded
// death time falls inside [from, to].
func diedWithin(s models.Stay, from, to time.Time) bool {
	if s.DOD.Valid && within(s.DOD.Time, from, to) {
		return true
	}
	return s.DeathTime.Valid && within(s.DeathTime.Time, from, to)
}

func within(t, from, to time.Time) bool {
	if t.Before(from) {
		return false
	}
	return to.IsZero() || !t.After(to)
}
