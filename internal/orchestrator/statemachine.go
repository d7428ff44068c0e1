// Package orchestrator drives the migration phase state machine,
// sequencing the coach, validator, and auditor, and owning every
// MigrationStatus mutation.
package orchestrator

import (
	"github.com/rotisserie/eris"

	"github.com/tablestack/posmigrate/internal/model"
)

// transitions is the forward edge set of the phase state machine.
// Rollback is handled separately: every non-terminal phase may reach
// rolled_back. The analysis -> setup edge lets an operator reject an
// unrepresentative sample and start over.
var transitions = map[model.MigrationPhase][]model.MigrationPhase{
	model.PhaseSetup:        {model.PhaseAnalysis},
	model.PhaseAnalysis:     {model.PhaseMapping, model.PhaseSetup},
	model.PhaseMapping:      {model.PhaseValidation},
	model.PhaseValidation:   {model.PhaseImport},
	model.PhaseImport:       {model.PhaseVerification},
	model.PhaseVerification: {model.PhaseCompletion},
}

// CanTransition reports whether moving from one phase to another is
// allowed by the state machine.
func CanTransition(from, to model.MigrationPhase) bool {
	if to == model.PhaseRolledBack {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports an attempted illegal phase transition.
type TransitionError struct {
	MigrationID string
	From, To    model.MigrationPhase
}

func (e *TransitionError) Error() string {
	return "orchestrator: migration " + e.MigrationID + " cannot move from " +
		string(e.From) + " to " + string(e.To)
}

// GateError reports that the validation hard gate is blocking the
// import phase. Blockers are enumerable so the operator can resolve
// each one and resume rather than restart.
type GateError struct {
	MigrationID string
	Blockers    []string
}

func (e *GateError) Error() string {
	msg := "orchestrator: migration " + e.MigrationID + " blocked by validation gate"
	for _, b := range e.Blockers {
		msg += "\n  - " + b
	}
	return msg
}

// IsGateBlocked reports whether err wraps a GateError.
func IsGateBlocked(err error) bool {
	var ge *GateError
	return eris.As(err, &ge)
}
