package deco

import "errors"

var (
	// ErrModelNotSet is returned when a model or models field was declared
	// without its target model.
	ErrModelNotSet = errors.New("model option not set")
	// ErrInvalidModelOption is returned when the model option of a reference
	// field is neither a descriptor nor a source.
	ErrInvalidModelOption = errors.New("invalid model option")
	// ErrNoDescriptor is returned when an instance cannot resolve its descriptor.
	ErrNoDescriptor = errors.New("no descriptor for instance")
)
