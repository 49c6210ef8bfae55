package script

import "fmt"

// Speaker is the owner of a turn.
type Speaker uint8

const (
	SpeakerAssistant Speaker = iota + 1
	SpeakerPatient
)

func (s Speaker) IsValid() bool {
	switch s {
	case SpeakerAssistant, SpeakerPatient:
		return true
	}
	return false
}

func (s Speaker) String() string {
	switch s {
	case SpeakerAssistant:
		return "assistant"
	case SpeakerPatient:
		return "patient"
	}
	return fmt.Sprintf("speaker(%d)", uint8(s))
}

// Label is the display name used next to a turn.
func (s Speaker) Label() string {
	switch s {
	case SpeakerAssistant:
		return "Assistant"
	case SpeakerPatient:
		return "Patient"
	}
	return s.String()
}

func (s Speaker) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSpeaker, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Speaker) UnmarshalText(b []byte) error {
	switch string(b) {
	case "assistant":
		*s = SpeakerAssistant
	case "patient":
		*s = SpeakerPatient
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSpeaker, string(b))
	}
	return nil
}

// Turn is one utterance of the scripted dialogue.
type Turn struct {
	Speaker Speaker `json:"speaker" yaml:"speaker"`
	Text    string  `json:"text" yaml:"text"`
}
