package lifecycle

import (
	"github.com/pkg/errors"
)

// Phase is the UI phase of a flow. Phases only move forward.
type Phase int

const (
	PhaseAwaitingApproval Phase = iota
	PhaseAwaitingLock
	PhaseAwaitingMint
	PhaseCompleted
)

var phaseNames = map[Phase]string{
	PhaseAwaitingApproval: "awaiting-approval",
	PhaseAwaitingLock:     "awaiting-lock",
	PhaseAwaitingMint:     "awaiting-mint",
	PhaseCompleted:        "completed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return errors.Errorf("unknown phase %q", string(text))
}
