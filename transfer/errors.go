package transfer

import (
	"errors"
	"fmt"
)

// ErrTooDeep is returned when a table is nested deeper than the configured
// limit.
var ErrTooDeep = errors.New("value too deeply nested")

// RejectError reports a value kind that cannot cross a state boundary.
type RejectError struct {
	// Type is the engine type name of the rejected value.
	Type string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("cannot exchange <%s> value", e.Type)
}

func tooDeep(limit int) error {
	return fmt.Errorf("cannot exchange value: %w (limit %d)", ErrTooDeep, limit)
}

// IsRejected reports whether err is a transfer failure of either kind.
func IsRejected(err error) bool {
	var re *RejectError
	return errors.As(err, &re) || errors.Is(err, ErrTooDeep)
}
