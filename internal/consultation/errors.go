package consultation

import "errors"

var (
	ErrConsultationNotFound = errors.New("consultation not found")
	ErrSelectionIncomplete  = errors.New("select a patient and a condition first")
	ErrWrongStep            = errors.New("action not available on this step")
)
