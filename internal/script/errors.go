package script

import "errors"

var (
	ErrUnknownCondition = errors.New("unknown condition")
	ErrInvalidScript    = errors.New("invalid condition script")
	ErrInvalidSpeaker   = errors.New("invalid speaker")
)

// UnknownConditionError is returned when a condition id is not registered.
type UnknownConditionError struct {
	ConditionID string
}

func (e *UnknownConditionError) Error() string {
	return "unknown condition: " + e.ConditionID
}

func (e *UnknownConditionError) Is(target error) bool {
	return target == ErrUnknownCondition
}
