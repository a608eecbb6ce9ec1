package audit

import "fmt"

// State is a stage of one audit run.
type State int

const (
	StateCollecting State = iota
	StateReasoning
	StateInvestigationRequested
	StateVerdict
	StateFinalized
	StateForcedFinalize
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateReasoning:
		return "reasoning"
	case StateInvestigationRequested:
		return "investigation_requested"
	case StateVerdict:
		return "verdict"
	case StateFinalized:
		return "finalized"
	case StateForcedFinalize:
		return "forced_finalize"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[State][]State{
	StateCollecting:             {StateReasoning, StateForcedFinalize},
	StateReasoning:              {StateReasoning, StateInvestigationRequested, StateVerdict, StateForcedFinalize},
	StateInvestigationRequested: {StateReasoning, StateForcedFinalize},
	StateVerdict:                {StateFinalized},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
