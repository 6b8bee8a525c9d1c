package workflow

import "errors"

var (
	// ErrInvalidOperation is returned when an operation type is not known
	ErrInvalidOperation = errors.New("invalid operation type")

	// ErrEmptyTemplate is returned when a template has no steps
	ErrEmptyTemplate = errors.New("template has no steps")

	// ErrDuplicateStep is returned when an operation type appears twice in a template
	ErrDuplicateStep = errors.New("duplicate operation in template")

	// ErrInvalidPosition is returned when step positions are not contiguous from zero
	ErrInvalidPosition = errors.New("template positions are not contiguous")

	// ErrStepNotInTemplate is returned when an operation is not part of the template
	ErrStepNotInTemplate = errors.New("operation not in template")

	// ErrTemplateInUse is returned when changing the steps of a template that instances follow
	ErrTemplateInUse = errors.New("template in use")
)
