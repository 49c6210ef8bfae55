// Package interview drives a scripted dialogue one settled turn at a time and
// binds the report facts to the current position.
package interview

import (
	"errors"
	"slices"

	"preconsult/internal/facts"
	"preconsult/internal/script"
)

var ErrSessionNotStarted = errors.New("interview session not started")

// State is the observable phase of a Session.
type State string

const (
	StateNotStarted State = "not_started"
	StateRevealing  State = "revealing"
	StatePaused     State = "paused"
	StateComplete   State = "complete"
)

// Catalog supplies condition scripts.
type Catalog interface {
	Get(conditionID string) (script.ConditionScript, error)
}

// Session is the mutable position within one condition script. It is not safe
// for concurrent use; callers serialise access.
type Session struct {
	catalog   Catalog
	script    *script.ConditionScript
	watermark int
	paused    bool
}

func New(catalog Catalog) *Session {
	return &Session{catalog: catalog, watermark: -1}
}

// Start loads the script of conditionID and rewinds to the first turn. On
// error the previous state is kept.
func (s *Session) Start(conditionID string) error {
	sc, err := s.catalog.Get(conditionID)
	if err != nil {
		return err
	}
	s.script = &sc
	s.watermark = -1
	s.paused = false
	return nil
}

// Started reports whether a script is loaded.
func (s *Session) Started() bool {
	return s.script != nil
}

// ConditionID of the loaded script, or "".
func (s *Session) ConditionID() string {
	if s.script == nil {
		return ""
	}
	return s.script.Condition.ID
}

// Script returns the loaded script.
func (s *Session) Script() (script.ConditionScript, error) {
	if s.script == nil {
		return script.ConditionScript{}, ErrSessionNotStarted
	}
	return *s.script, nil
}

// Watermark is the index of the last settled turn; -1 when none.
func (s *Session) Watermark() int {
	return s.watermark
}

func (s *Session) Paused() bool {
	return s.paused
}

func (s *Session) State() State {
	switch {
	case s.script != nil && s.watermark == s.script.LastIndex():
		return StateComplete
	case s.paused:
		return StatePaused
	case s.watermark < 0:
		return StateNotStarted
	}
	return StateRevealing
}

// Complete reports whether every turn has settled.
func (s *Session) Complete() bool {
	return s.State() == StateComplete
}

// Advance settles the pending turn. It returns false without error when the
// session is complete or paused.
func (s *Session) Advance() (bool, error) {
	if s.script == nil {
		return false, ErrSessionNotStarted
	}
	if s.paused || s.watermark >= s.script.LastIndex() {
		return false, nil
	}
	s.watermark++
	return true, nil
}

// FinishReveal settles the pending turn once its reveal has run to the end.
// Unlike Advance it ignores pause: pausing holds back turns that have not
// started, not the one already on screen.
func (s *Session) FinishReveal() (bool, error) {
	if s.script == nil {
		return false, ErrSessionNotStarted
	}
	if s.watermark >= s.script.LastIndex() {
		return false, nil
	}
	s.watermark++
	if s.Complete() {
		s.paused = false
	}
	return true, nil
}

// Pause stops further advancement. No-op once complete.
func (s *Session) Pause() error {
	if s.script == nil {
		return ErrSessionNotStarted
	}
	if !s.Complete() {
		s.paused = true
	}
	return nil
}

func (s *Session) Resume() error {
	if s.script == nil {
		return ErrSessionNotStarted
	}
	if !s.Complete() {
		s.paused = false
	}
	return nil
}

// Reset rewinds to before the first turn, keeping the loaded condition.
func (s *Session) Reset() {
	s.watermark = -1
	s.paused = false
}

// JumpToEnd settles every remaining turn at once.
func (s *Session) JumpToEnd() error {
	if s.script == nil {
		return ErrSessionNotStarted
	}
	s.watermark = s.script.LastIndex()
	s.paused = false
	return nil
}

// JumpTo settles every turn up to index. It never moves backwards and clamps
// to the last turn. A jump that moves clears pause, as JumpToEnd does.
func (s *Session) JumpTo(index int) error {
	if s.script == nil {
		return ErrSessionNotStarted
	}
	if index <= s.watermark {
		return nil
	}
	s.watermark = min(index, s.script.LastIndex())
	s.paused = false
	return nil
}

// Settled returns turns[0..watermark].
func (s *Session) Settled() []script.Turn {
	if s.script == nil || s.watermark < 0 {
		return nil
	}
	return slices.Clone(s.script.Turns[:s.watermark+1])
}

// Pending returns the next turn to reveal, if any.
func (s *Session) Pending() (script.Turn, bool) {
	if s.script == nil || s.watermark >= s.script.LastIndex() {
		return script.Turn{}, false
	}
	return s.script.Turns[s.watermark+1], true
}

// Facts recomputes the report facts for the current watermark.
func (s *Session) Facts() (facts.FactSet, error) {
	if s.script == nil {
		return nil, ErrSessionNotStarted
	}
	return facts.Extract(s.watermark, s.script.Rules, s.script.Seeds), nil
}

// Missing returns the not-covered checklist once the script is exhausted,
// nil before that.
func (s *Session) Missing() []string {
	if !s.Complete() {
		return nil
	}
	return slices.Clone(s.script.Missing)
}
