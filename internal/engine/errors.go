package engine

import "fmt"

// MalformedDataError reports a result table that does not have the shape a
// pipeline stage expects.
type MalformedDataError struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedDataError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("malformed data in %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed data in %q: %q %s", e.Field, e.Value, e.Reason)
}
