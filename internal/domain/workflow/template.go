package workflow

import (
	"fmt"
	"sort"
)

// Step is one position in a workflow template
type Step struct {
	OperationType OperationType
	Position      int
}

// Template is the validated, immutable topology of a workflow.
// Position 0 is the first operation; each operation appears once.
type Template struct {
	steps      []Step
	positionOf map[OperationType]int
}

// NewTemplate validates the steps and returns the topology they describe.
// Steps may be supplied in any order; they are sorted by position.
func NewTemplate(steps []Step) (*Template, error) {
	if len(steps) == 0 {
		return nil, ErrEmptyTemplate
	}

	sorted := append([]Step(nil), steps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	positionOf := make(map[OperationType]int, len(sorted))
	for i, s := range sorted {
		if !s.OperationType.IsValid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidOperation, s.OperationType)
		}
		if s.Position != i {
			return nil, fmt.Errorf("%w: expected position %d, got %d", ErrInvalidPosition, i, s.Position)
		}
		if _, dup := positionOf[s.OperationType]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, s.OperationType)
		}
		positionOf[s.OperationType] = i
	}

	return &Template{steps: sorted, positionOf: positionOf}, nil
}

// Steps returns a copy of the ordered steps
func (t *Template) Steps() []Step {
	return append([]Step(nil), t.steps...)
}

// Len returns the number of steps
func (t *Template) Len() int {
	return len(t.steps)
}

// FirstStep returns the operation at position 0
func (t *Template) FirstStep() OperationType {
	return t.steps[0].OperationType
}

// IsFirst reports whether op is the first operation of the template
func (t *Template) IsFirst(op OperationType) bool {
	return t.steps[0].OperationType == op
}

// Contains reports whether op is part of the template
func (t *Template) Contains(op OperationType) bool {
	_, ok := t.positionOf[op]
	return ok
}

// Position returns the position of op
func (t *Template) Position(op OperationType) (int, error) {
	pos, ok := t.positionOf[op]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrStepNotInTemplate, op)
	}
	return pos, nil
}

// StepBefore returns the operation immediately preceding op.
// The boolean is false when op is the first step.
func (t *Template) StepBefore(op OperationType) (OperationType, bool, error) {
	pos, err := t.Position(op)
	if err != nil {
		return "", false, err
	}
	if pos == 0 {
		return "", false, nil
	}
	return t.steps[pos-1].OperationType, true, nil
}

// StepAfter returns the operation immediately following op.
// The boolean is false when op is the last step.
func (t *Template) StepAfter(op OperationType) (OperationType, bool, error) {
	pos, err := t.Position(op)
	if err != nil {
		return "", false, err
	}
	if pos == len(t.steps)-1 {
		return "", false, nil
	}
	return t.steps[pos+1].OperationType, true, nil
}
