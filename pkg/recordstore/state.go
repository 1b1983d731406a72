package recordstore

import (
	"errors"
	"fmt"
	"strings"
)

// Phase is a step of the file record lifecycle.
type Phase uint8

const (
	// PhaseUnknown is a zero Phase, never stored.
	PhaseUnknown Phase = iota
	// PhaseNew marks a record waiting to be packed.
	PhaseNew
	// PhaseAdded marks a record whose bytes are inside a container that
	// has not been sealed yet.
	PhaseAdded
	// PhaseArchived marks a record inside a sealed and verified container.
	PhaseArchived
	// PhaseVerified marks a record whose archive URL has been resolved.
	PhaseVerified
)

var phaseNames = [...]string{
	PhaseUnknown:  "unknown",
	PhaseNew:      "new",
	PhaseAdded:    "added",
	PhaseArchived: "archived",
	PhaseVerified: "verified",
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", p)
}

// State is a structured record state: the lifecycle phase plus the
// namespace path of the container for all phases except PhaseNew.
type State struct {
	Phase     Phase
	Container string
}

// ErrInvalidState is returned by ParseState for malformed states.
var ErrInvalidState = errors.New("invalid record state")

// New returns the initial State.
func New() State { return State{Phase: PhaseNew} }

// Added returns PhaseAdded state bound to the container path.
func Added(container string) State { return State{Phase: PhaseAdded, Container: container} }

// Archived returns PhaseArchived state bound to the container path.
func Archived(container string) State { return State{Phase: PhaseArchived, Container: container} }

// Verified returns PhaseVerified state bound to the container path.
func Verified(container string) State { return State{Phase: PhaseVerified, Container: container} }

// String returns the state in the form kept in the record stores:
// "new" or "<phase>: <container path>".
func (s State) String() string {
	if s.Phase == PhaseNew || s.Phase == PhaseUnknown {
		return s.Phase.String()
	}
	return s.Phase.String() + ": " + s.Container
}

// ParseState decodes State from its stored string form. Whitespace after
// the colon is optional.
func ParseState(s string) (State, error) {
	if s == phaseNames[PhaseNew] {
		return New(), nil
	}

	name, container, found := strings.Cut(s, ":")
	if !found {
		return State{}, fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
	container = strings.TrimSpace(container)
	if container == "" {
		return State{}, fmt.Errorf("%w: missing container in %q", ErrInvalidState, s)
	}

	switch name {
	case phaseNames[PhaseAdded]:
		return Added(container), nil
	case phaseNames[PhaseArchived]:
		return Archived(container), nil
	case phaseNames[PhaseVerified]:
		return Verified(container), nil
	default:
		return State{}, fmt.Errorf("%w: unknown phase %q", ErrInvalidState, name)
	}
}
