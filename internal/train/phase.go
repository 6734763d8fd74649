package train

import "fmt"

// Phase is where the loop is within a step.
type Phase int

const (
	Idle Phase = iota
	Forward
	Backward
	Accumulating
	Stepped
	Finished
	Diverged
)

var phaseNames = [...]string{"idle", "forward", "backward", "accumulating", "stepped", "finished", "diverged"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == Finished || p == Diverged
}

func allowedTransition(from, to Phase) bool {
	switch from {
	case Idle:
		// Stepped is reached directly when a partial accumulation window is
		// flushed at the end of an epoch.
		return to == Forward || to == Stepped || to == Finished
	case Forward:
		return to == Backward
	case Backward:
		return to == Accumulating || to == Stepped
	case Accumulating:
		return to == Idle
	case Stepped:
		return to == Idle || to == Diverged
	default:
		return false
	}
}

// transition moves the loop to phase to, or reports why it cannot.
func (l *Loop) transition(to Phase) error {
	if !allowedTransition(l.phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, l.phase, to)
	}
	l.phase = to
	return nil
}
