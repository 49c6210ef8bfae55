package facts

// SectionKey identifies a report section. The vocabulary is closed.
type SectionKey string

const (
	ChiefComplaint            SectionKey = "chief_complaint"
	HistoryOfPresentIllness   SectionKey = "hpi"
	RelevantHistoryFromRecord SectionKey = "relevant_history_from_record"
	MedicationsFromRecord     SectionKey = "medications_from_record"
	MedicationsFromInterview  SectionKey = "medications_from_interview"
	AutonomicSigns            SectionKey = "autonomic_signs"
	OcularSigns               SectionKey = "ocular_signs"
	DirectedHistory           SectionKey = "directed_history"
	FamilyHistory             SectionKey = "family_history"
)

// sections is the declaration order used for every ordered traversal.
var sections = []SectionKey{
	ChiefComplaint,
	HistoryOfPresentIllness,
	RelevantHistoryFromRecord,
	MedicationsFromRecord,
	MedicationsFromInterview,
	AutonomicSigns,
	OcularSigns,
	DirectedHistory,
	FamilyHistory,
}

var titles = map[SectionKey]string{
	ChiefComplaint:            "Chief complaint",
	HistoryOfPresentIllness:   "History of present illness (HPI)",
	RelevantHistoryFromRecord: "Relevant history (record)",
	MedicationsFromRecord:     "Medications (record)",
	MedicationsFromInterview:  "Medications (interview)",
	AutonomicSigns:            "Autonomic signs",
	OcularSigns:               "Ocular signs",
	DirectedHistory:           "Directed history",
	FamilyHistory:             "Family history",
}

// Sections returns the vocabulary in declaration order.
func Sections() []SectionKey {
	out := make([]SectionKey, len(sections))
	copy(out, sections)
	return out
}

func (k SectionKey) IsValid() bool {
	_, ok := titles[k]
	return ok
}

// Title returns the human heading for k. Unknown keys are returned as-is.
func (k SectionKey) Title() string {
	if t, ok := titles[k]; ok {
		return t
	}
	return string(k)
}

// DefaultUsefulExclusions are the sections left out of the useful-facts block
// unless a script overrides them.
var DefaultUsefulExclusions = []SectionKey{
	ChiefComplaint,
	HistoryOfPresentIllness,
	RelevantHistoryFromRecord,
	MedicationsFromRecord,
	MedicationsFromInterview,
}
