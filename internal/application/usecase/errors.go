package usecase

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned for requests rejected before a run starts.
var ErrInvalidRequest = errors.New("invalid calculation request")

// RunStage names the phase of a run that failed.
type RunStage string

const (
	StageValidate  RunStage = "validate"
	StageConfigure RunStage = "configure"
	StageResume    RunStage = "resume"
	StageFetch     RunStage = "fetch"
	StagePersist   RunStage = "persist"
	StageSummarize RunStage = "summarize"
)

// RunError is the structured error a failed run returns to its caller.
// Pages committed before the failure remain valid.
type RunError struct {
	Err            error
	RunID          string
	Stage          RunStage
	PortfolioID    int64
	PagesCommitted int
}

func (e *RunError) Error() string {
	return fmt.Sprintf("calculation run %s (portfolio %d) failed during %s after %d committed pages: %v",
		e.RunID, e.PortfolioID, e.Stage, e.PagesCommitted, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
