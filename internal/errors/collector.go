package errors

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Collector gathers errors from concurrent pipeline stages.
type Collector struct {
	errs  []error
	mutex sync.Mutex
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{errs: make([]error, 0)}
}

// Add records err. Nil errors are ignored.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.errs = append(c.errs, err)
}

// Errors returns a copy of the collected errors.
func (c *Collector) Errors() []error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	result := make([]error, len(c.errs))
	copy(result, c.errs)
	return result
}

// HasErrors reports whether anything was collected.
func (c *Collector) HasErrors() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.errs) > 0
}

// Err combines the collected errors, or returns nil.
func (c *Collector) Err() error {
	return Combine(c.Errors()...)
}

// MultiError is returned when more than one stage failed.
type MultiError struct {
	Errs []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	messages := make([]string, 0, len(m.Errs))
	for _, err := range m.Errs {
		messages = append(messages, err.Error())
	}
	sort.Strings(messages)
	return fmt.Sprintf("%d errors occurred:\n  %s", len(m.Errs), strings.Join(messages, "\n  "))
}

// Unwrap exposes the wrapped errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errs
}

// Combine combines multiple errors into a single error.
func Combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &MultiError{Errs: nonNil}
	}
}

// Flatten expands MultiErrors into their PipelineErrors. Errors that are not
// pipeline errors are wrapped as internal errors.
func Flatten(err error) []*PipelineError {
	if err == nil {
		return nil
	}
	if m, ok := err.(*MultiError); ok {
		var out []*PipelineError
		for _, e := range m.Errs {
			out = append(out, Flatten(e)...)
		}
		return out
	}
	if pe, ok := AsPipelineError(err); ok {
		return []*PipelineError{pe}
	}
	return []*PipelineError{NewInternalError("unexpected failure", err)}
}
