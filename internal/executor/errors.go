package executor

import (
	"errors"
	"fmt"
)

// NodeError attributes a failure to the node whose action produced it.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// SkippedError is recorded on nodes that never ran.
type SkippedError struct {
	// Cause names the upstream node whose failure caused the skip. It is
	// empty when the run was halted or cancelled.
	Cause  string
	Reason error
}

func (e *SkippedError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("skipped due to upstream failure of '%s'", e.Cause)
	}
	return fmt.Sprintf("skipped: %v", e.Reason)
}

func (e *SkippedError) Unwrap() error { return e.Reason }

// ErrHalted is the skip reason for nodes that were not started because a
// fatal error stopped the run.
var ErrHalted = errors.New("run halted by fatal error")

// fatal is implemented by errors that must stop the scheduler from starting
// any further node, such as an unreachable host.
type fatal interface {
	Fatal() bool
}

// IsFatal reports whether any error in err's chain declares itself fatal.
func IsFatal(err error) bool {
	var f fatal
	return errors.As(err, &f) && f.Fatal()
}
