package hybrid

import (
	"errors"
	"fmt"
)

// UnderconstrainedError reports that eliminating a variable produced a
// rank-deficient or empty joint factor. The elimination call fails as a
// whole; the caller must add factors or change the ordering.
type UnderconstrainedError struct {
	Key Key
}

func (e *UnderconstrainedError) Error() string {
	return fmt.Sprintf("variable %s is underconstrained: joint factor is rank-deficient or empty", e.Key)
}

// MissingAssignmentError reports that a discrete assignment lacks a value
// for a key required by a mixture conditional.
type MissingAssignmentError struct {
	Key Key
}

func (e *MissingAssignmentError) Error() string {
	return fmt.Sprintf("discrete assignment is missing a value for %s", e.Key)
}

// StructuralInvariantViolation reports that the running-intersection
// property no longer holds. This is an internal consistency failure, never a
// user error.
type StructuralInvariantViolation struct {
	Detail string
}

func (e *StructuralInvariantViolation) Error() string {
	return "running-intersection violation: " + e.Detail
}

// ErrNoFeasibleAssignment is returned by optimize when every discrete
// hypothesis has been pruned away at the root.
var ErrNoFeasibleAssignment = errors.New("no feasible discrete assignment remains")

// orderingError reports an elimination ordering that asks for a discrete key
// while mixture factors still reference unresolved continuous variables.
type orderingError struct {
	Key Key
}

func (e *orderingError) Error() string {
	return fmt.Sprintf("invalid ordering: discrete key %s eliminated before its dependent continuous variables", e.Key)
}
