package dag

import (
	"errors"
	"fmt"

	"forks-project/models"
)

var (
	ErrDuplicateSlot      = errors.New("slot already present in fork table")
	ErrMissingRoot        = errors.New("root checkpoint not present in fork table")
	ErrMissingDescendants = errors.New("descendant set missing for slot")
	ErrRemoveRoot         = errors.New("cannot remove the root checkpoint")
	ErrNoHeads            = errors.New("no checkpoints to build fork table from")
)

// InvariantError reports a broken fork table contract. Callers should log it
// and halt: continuing would corrupt the fork view consensus depends on.
type InvariantError struct {
	Slot models.Slot
	Err  error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("fork table invariant violated at slot %d: %v", e.Slot, e.Err)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

func invariant(slot models.Slot, err error) error {
	return &InvariantError{Slot: slot, Err: err}
}

// IsInvariantViolation reports whether err is, or wraps, an *InvariantError.
func IsInvariantViolation(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
