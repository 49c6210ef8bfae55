package interview

import (
	"iter"
	"time"

	"github.com/rivo/uniseg"

	"preconsult/internal/script"
)

// Pacing is the presentation timing policy for revealing turns. The session
// itself never waits; render loops read these values.
type Pacing struct {
	AssistantCharDelay time.Duration
	PatientCharDelay   time.Duration
	// PatientThinkDelay is waited before a patient turn starts typing.
	PatientThinkDelay time.Duration
	// SettlePause is waited after a turn finished typing.
	SettlePause time.Duration
	Animate     bool
}

// DefaultPacing mirrors the typing speed of the demo.
var DefaultPacing = Pacing{
	AssistantCharDelay: 12 * time.Millisecond,
	PatientCharDelay:   12 * time.Millisecond,
	PatientThinkDelay:  600 * time.Millisecond,
	SettlePause:        200 * time.Millisecond,
	Animate:            true,
}

func (p Pacing) ThinkDelay(sp script.Speaker) time.Duration {
	switch sp {
	case script.SpeakerPatient:
		return p.PatientThinkDelay
	default:
		return 0
	}
}

func (p Pacing) CharDelay(sp script.Speaker) time.Duration {
	switch sp {
	case script.SpeakerPatient:
		return p.PatientCharDelay
	default:
		return p.AssistantCharDelay
	}
}

// RevealDuration estimates how long revealing t takes, think delay included.
func (p Pacing) RevealDuration(t script.Turn) time.Duration {
	if !p.Animate {
		return 0
	}
	n := uniseg.GraphemeClusterCount(t.Text)
	return p.ThinkDelay(t.Speaker) + time.Duration(n)*p.CharDelay(t.Speaker)
}

// Frames yields progressively longer prefixes of text, one grapheme cluster
// at a time. The last frame is text itself.
func Frames(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		state := -1
		remaining := text
		end := 0
		for len(remaining) > 0 {
			var cluster string
			cluster, remaining, _, state = uniseg.FirstGraphemeClusterInString(remaining, state)
			end += len(cluster)
			if !yield(text[:end]) {
				return
			}
		}
	}
}
