package skills

import "errors"

// Sentinel errors for registry operations. Callers match with errors.Is;
// wrapped messages carry the skill name.
var (
	// ErrDuplicateName is returned by Register when the name is taken.
	ErrDuplicateName = errors.New("skill name already registered")

	// ErrInvalidDefinition is returned when a skill fails shape or
	// source validation.
	ErrInvalidDefinition = errors.New("invalid skill definition")

	// ErrProtected is returned by Update and Remove on verified skills.
	ErrProtected = errors.New("skill is protected")

	// ErrNotFound is returned when no skill has the given name.
	ErrNotFound = errors.New("skill not found")
)
