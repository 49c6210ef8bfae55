package consultation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"preconsult/internal/interview"
	"preconsult/internal/report"
	"preconsult/internal/roster"
	"preconsult/internal/script"
)

// Step is the walkthrough screen a consultation is on.
type Step string

const (
	StepSelect    Step = "select"
	StepIntro     Step = "intro"
	StepInterview Step = "interview"
)

const CompletionBanner = "Interview complete. The report has been consolidated."

// Consultation is the aggregate root: a patient and condition selection plus
// the interview session played for them.
type Consultation struct {
	ID          uuid.UUID
	PatientID   string
	ConditionID string
	Step        Step

	Session *interview.Session

	// SettledAt[i] is when turn i settled.
	SettledAt []time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	mu sync.Mutex
}

// TurnView is one settled line of the transcript.
type TurnView struct {
	Index     int            `json:"index"`
	Speaker   script.Speaker `json:"speaker"`
	Label     string         `json:"label"`
	Text      string         `json:"text"`
	SettledAt *time.Time     `json:"settled_at,omitempty"`
}

// View is the client-facing snapshot of a consultation.
type View struct {
	ID         uuid.UUID         `json:"id"`
	Step       Step              `json:"step"`
	Patient    *roster.Patient   `json:"patient,omitempty"`
	Condition  *script.Condition `json:"condition,omitempty"`
	State      interview.State   `json:"state"`
	Watermark  int               `json:"watermark"`
	TotalTurns int               `json:"total_turns"`
	Transcript []TurnView        `json:"transcript"`
	Report     *report.Report    `json:"report,omitempty"`
	Banner     string            `json:"banner,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Cursor describes the next turn awaiting reveal.
type Cursor struct {
	Watermark  int
	State      interview.State
	Pending    script.Turn
	HasPending bool
}
