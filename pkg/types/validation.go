package types

import (
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Validate checks an UpdateRequest in isolation, before any store access.
// At least one of Step, Section or Action must be present; Step and Action
// are mutually exclusive.
func (r *UpdateRequest) Validate() error {
	if r.Step == nil && r.Section == nil && r.Action == nil {
		return ErrNoUpdates
	}
	if r.Step != nil && r.Action != nil {
		return ErrAmbiguousUpdate
	}
	if r.Step != nil && *r.Step < FirstStep {
		return ErrInvalidStep
	}
	if r.Section != nil && !IsValidSection(*r.Section) {
		return ErrInvalidSection
	}
	if r.Action != nil && !IsValidAction(*r.Action) {
		return ErrInvalidAction
	}
	return nil
}

// StepDelta converts a directional action into a relative step change.
func (r *UpdateRequest) StepDelta() int {
	if r.Action == nil {
		return 0
	}
	switch *r.Action {
	case ActionNextStep:
		return 1
	case ActionPrevStep:
		return -1
	default:
		return 0
	}
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidSection reports whether section is one of the enumerated sections.
func IsValidSection(section string) bool {
	for _, s := range Sections {
		if s == section {
			return true
		}
	}
	return false
}

// IsValidAction reports whether action is a known directional action.
func IsValidAction(action string) bool {
	switch action {
	case ActionNextStep, ActionPrevStep:
		return true
	default:
		return false
	}
}
