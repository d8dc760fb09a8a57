package feature

import (
	"fmt"
	"strings"
)

// ConfigurationError indicates a requested id field is missing from a
// collection's schema. It is not retryable without changing the input.
type ConfigurationError struct {
	Collection string
	Field      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("layer %q has no field %q", e.Collection, e.Field)
}

// GeometryTypeError indicates a collection holds non-polygonal geometries.
type GeometryTypeError struct {
	Collection string
	Types      []string
}

func (e *GeometryTypeError) Error() string {
	return fmt.Sprintf("layer %q contains non-polygon geometries: %s",
		e.Collection, strings.Join(e.Types, ", "))
}

// EmptyCollectionError indicates a collection has zero features. A layer
// whose features simply do not match anything is not an error.
type EmptyCollectionError struct {
	Collection string
}

func (e *EmptyCollectionError) Error() string {
	return fmt.Sprintf("layer %q contains no features", e.Collection)
}
