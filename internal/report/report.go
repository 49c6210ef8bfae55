package report

import (
	"slices"
	"time"

	"preconsult/internal/facts"
	"preconsult/internal/script"
)

// MedicationSource tells where a medication fact came from.
type MedicationSource string

const (
	SourceRecord    MedicationSource = "record"
	SourceInterview MedicationSource = "interview"
)

type Medication struct {
	Text   string           `json:"text"`
	Source MedicationSource `json:"source"`
}

type Header struct {
	PatientName    string    `json:"patient_name"`
	PatientSummary string    `json:"patient_summary,omitempty"`
	ConditionTitle string    `json:"condition_title"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Report is the rendered clinical summary for one watermark.
type Report struct {
	Header         Header       `json:"header"`
	ChiefComplaint string       `json:"chief_complaint"`
	HPI            []string     `json:"hpi"`
	RecordHistory  []string     `json:"record_history"`
	Medications    []Medication `json:"medications"`
	Useful         []string     `json:"useful,omitempty"`
	Missing        []string     `json:"missing,omitempty"`
	Complete       bool         `json:"complete"`
}

// Build assembles the report from fs. The missing checklist of sc is only
// included when complete is set.
func Build(h Header, fs facts.FactSet, sc script.ConditionScript, complete bool) Report {
	r := Report{
		Header:        h,
		HPI:           slices.Clone(fs.Get(facts.HistoryOfPresentIllness)),
		RecordHistory: slices.Clone(fs.Get(facts.RelevantHistoryFromRecord)),
		Useful:        facts.Useful(fs, sc.UsefulExclusions),
		Complete:      complete,
	}
	if cc := fs.Get(facts.ChiefComplaint); len(cc) > 0 {
		r.ChiefComplaint = cc[0]
	}
	for _, m := range fs.Get(facts.MedicationsFromRecord) {
		r.Medications = append(r.Medications, Medication{Text: m, Source: SourceRecord})
	}
	for _, m := range fs.Get(facts.MedicationsFromInterview) {
		r.Medications = append(r.Medications, Medication{Text: m, Source: SourceInterview})
	}
	if complete {
		r.Missing = slices.Clone(sc.Missing)
	}
	return r
}
