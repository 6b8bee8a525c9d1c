package workflow

// TemplateBuilder assembles a template by appending operations in order
type TemplateBuilder interface {
	// Then appends an operation after the current last step
	Then(op OperationType) TemplateBuilder

	// Build validates the accumulated steps and returns the template
	Build() (*Template, error)
}

type templateBuilder struct {
	steps []Step
}

// NewBuilder creates an empty template builder
func NewBuilder() TemplateBuilder {
	return &templateBuilder{}
}

// FromOperations builds a template whose positions follow the order of ops
func FromOperations(ops []OperationType) (*Template, error) {
	b := NewBuilder()
	for _, op := range ops {
		b = b.Then(op)
	}
	return b.Build()
}

func (b *templateBuilder) Then(op OperationType) TemplateBuilder {
	b.steps = append(b.steps, Step{OperationType: op, Position: len(b.steps)})
	return b
}

func (b *templateBuilder) Build() (*Template, error) {
	return NewTemplate(b.steps)
}
