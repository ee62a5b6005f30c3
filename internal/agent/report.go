package agent

import (
	"errors"
	"fmt"
	"time"
)

// Outcome is the terminal state of a run
type Outcome string

const (
	OutcomeGoalAchieved Outcome = "goal_achieved"
	OutcomeFailed       Outcome = "failed"
	OutcomeIncomplete   Outcome = "incomplete"
)

// Stage names the part of a step that failed
type Stage string

const (
	StagePerceive    Stage = "perceive"
	StagePlan        Stage = "plan"
	StageValidate    Stage = "validate"
	StageExecute     Stage = "execute"
	StageInterrupted Stage = "interrupted"
)

var (
	ErrNoSnapshot     = errors.New("perception returned no screenshot or dimensions")
	ErrMissingTarget  = errors.New("click planned without a resolvable target element")
	ErrUnknownAction  = errors.New("unknown action")
	ErrActionFailed   = errors.New("action execution failed")
	ErrInvalidRequest = errors.New("invalid run request")
)

// StageError is a fatal step failure
type StageError struct {
	Stage Stage
	Step  int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("step %d %s: %v", e.Step, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// RunReport summarizes the most recent run
type RunReport struct {
	RunID     string        `json:"run_id"`
	Goal      string        `json:"goal"`
	MaxSteps  int           `json:"max_steps"`
	Outcome   Outcome       `json:"outcome"`
	Steps     int           `json:"steps"`
	Stage     Stage         `json:"failed_stage,omitempty"`
	Error     string        `json:"error,omitempty"`
	History   []string      `json:"history"`
	OutputDir string        `json:"output_dir,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	err error
}

// Err returns the failure that ended the run, if any
func (r RunReport) Err() error { return r.err }
