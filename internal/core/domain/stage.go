package domain

// Stage is a pipeline lifecycle state. The orchestrator advances through the
// stages strictly in order; every non-terminal stage additionally has an error
// edge directly to StageCleaned so that cleanup runs no matter where the run
// failed.
type Stage string

const (
	StageInit            Stage = "init"
	StagePrepared        Stage = "prepared"
	StageCheckoutsDone   Stage = "checkouts_done"
	StageInterfacesBuilt Stage = "interfaces_built"
	StageTestsRan        Stage = "tests_ran"
	StageCleaned         Stage = "cleaned"
)

// IsTerminal reports whether the stage is the final state of a run.
func (s Stage) IsTerminal() bool {
	return s == StageCleaned
}

// CanAdvanceTo reports whether the transition s -> next is allowed.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if next == StageCleaned {
		// Error edge: cleanup is reachable from every live state.
		return s != StageCleaned
	}
	switch s {
	case StageInit:
		return next == StagePrepared
	case StagePrepared:
		return next == StageCheckoutsDone
	case StageCheckoutsDone:
		return next == StageInterfacesBuilt
	case StageInterfacesBuilt:
		return next == StageTestsRan
	default:
		return false
	}
}

// String returns the stage name.
func (s Stage) String() string {
	return string(s)
}
