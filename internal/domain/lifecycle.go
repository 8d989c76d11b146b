package domain

import "fmt"

// Runs move training -> staging -> production, and can cycle between
// staging and production indefinitely. Nothing returns to training.
var stageTransitions = map[Stage][]Stage{
	StageTraining:   {StageStaging},
	StageStaging:    {StageProduction},
	StageProduction: {StageStaging},
}

// CanTransition returns true when a stage transition is allowed.
func CanTransition(from, to Stage) bool {
	allowed, ok := stageTransitions[from]
	if !ok {
		return false
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition ensures a run stage transition is valid. Same-stage
// transitions are treated as no-ops.
func ValidateTransition(from, to Stage) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("invalid stage transition")
	}
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("stage transition %q -> %q not allowed", from, to)
	}
	return nil
}
