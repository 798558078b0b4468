package coordinator

import "fmt"

// Stage is a state of the import state machine. Stages are entered strictly
// in declaration order; SingleImport and ArchiveImport are alternatives.
type Stage int

const (
	StageIdle Stage = iota
	StageAcquiringAccess
	StageDiscoveringService
	StageConnecting
	StageFetchingPassword
	StageReadingResource
	StageSingleImport
	StageArchiveImport
	StageCompleted
	StageFailed
)

var stageNames = [...]string{
	StageIdle:               "idle",
	StageAcquiringAccess:    "acquiring_access",
	StageDiscoveringService: "discovering_service",
	StageConnecting:         "connecting",
	StageFetchingPassword:   "fetching_password",
	StageReadingResource:    "reading_resource",
	StageSingleImport:       "single_import",
	StageArchiveImport:      "archive_import",
	StageCompleted:          "completed",
	StageFailed:             "failed",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Terminal reports whether s ends a run.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}
