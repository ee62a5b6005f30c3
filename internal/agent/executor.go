// Package agent runs the perceive, plan and act loop against pluggable ports.
//
// Each step perceives the screen, asks the planner for one action, records it in
// the run history and executes it. The loop stops when the planner reports the
// goal complete, when any stage fails, or after the step budget is spent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/v0xg/omniagent/internal/logging"
	"github.com/v0xg/omniagent/internal/overlay"
	"github.com/v0xg/omniagent/internal/tracking"
	"github.com/v0xg/omniagent/internal/ui"
)

// Config holds the loop tunables
type Config struct {
	SettleDelay   time.Duration // wait after each successful action
	PreTypeDelay  time.Duration // wait between the focusing click and typing
	ScrollAmount  int
	ScalingFactor float64 // used when Execution does not report its own
}

// DefaultConfig returns the standard loop timings
func DefaultConfig() Config {
	return Config{
		SettleDelay:   1500 * time.Millisecond,
		PreTypeDelay:  200 * time.Millisecond,
		ScrollAmount:  3,
		ScalingFactor: 1,
	}
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the base logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracker attaches an element tracker, updated on every perception
func WithTracker(t *tracking.Tracker) Option {
	return func(e *Executor) { e.tracker = t }
}

// WithClock overrides the time source used for run directory names
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithSleeper overrides how the loop waits between actions
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// Executor drives a single run at a time
type Executor struct {
	perception Perception
	planner    Planner
	execution  Execution
	tracker    *tracking.Tracker
	cfg        Config
	handlers   map[ui.ActionType]actionHandler
	logger     *zap.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	report RunReport
}

// NewExecutor wires the three ports into a loop
func NewExecutor(p Perception, pl Planner, ex Execution, cfg Config, opts ...Option) *Executor {
	if cfg.ScrollAmount <= 0 {
		cfg.ScrollAmount = 3
	}
	e := &Executor{
		perception: p,
		planner:    pl,
		execution:  ex,
		cfg:        cfg,
		logger:     zap.NewNop(),
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("agent")
	e.handlers = map[ui.ActionType]actionHandler{
		ui.ActionClick:    e.executeClick,
		ui.ActionTypeText: e.executeType,
		ui.ActionPressKey: e.executePressKey,
		ui.ActionScroll:   e.executeScroll,
	}
	return e
}

// runState is owned by one Run call
type runState struct {
	goal    string
	history []string
	scale   float64
	art     *artifacts
	logger  *zap.Logger
}

// Run works towards goal for at most maxSteps steps and reports whether the
// planner declared it achieved. Artifacts go to a timestamped directory under
// outputBaseDir.
func (e *Executor) Run(ctx context.Context, goal string, maxSteps int, outputBaseDir string) bool {
	started := e.now()
	report := RunReport{
		RunID:     uuid.NewString(),
		Goal:      goal,
		MaxSteps:  maxSteps,
		Outcome:   OutcomeIncomplete,
		StartedAt: started,
	}
	log := e.logger.With(zap.String("run_id", report.RunID))

	art := &artifacts{logger: log}
	if dir, err := createRunDir(outputBaseDir, started); err != nil {
		log.Warn("artifacts disabled", zap.Error(err))
	} else {
		art.dir = dir
		report.OutputDir = dir
		runLog, closeLog, err := logging.WithRunFile(log, filepath.Join(dir, "run.log"))
		if err != nil {
			log.Warn("run log disabled", zap.Error(err))
		} else {
			log = runLog
			art.logger = runLog
			defer closeLog()
		}
	}

	rs := &runState{
		goal:    goal,
		history: []string{},
		scale:   e.scalingFactor(log),
		art:     art,
		logger:  log,
	}

	log.Info("starting run",
		zap.String("goal", goal),
		zap.Int("max_steps", maxSteps),
		zap.Float64("scaling_factor", rs.scale),
		zap.String("output_dir", art.dir))

	if maxSteps <= 0 {
		report.err = fmt.Errorf("%w: max steps must be positive", ErrInvalidRequest)
	}

	for i := 0; i < maxSteps; i++ {
		report.Steps = i + 1
		done, err := e.step(ctx, rs, i)
		if err != nil {
			report.Outcome = OutcomeFailed
			report.err = err
			var se *StageError
			if errors.As(err, &se) {
				report.Stage = se.Stage
			}
			log.Error("run failed", zap.Int("step", i+1), zap.Error(err))
			break
		}
		if done {
			report.Outcome = OutcomeGoalAchieved
			log.Info("goal achieved", zap.Int("step", i+1))
			break
		}
	}

	if report.Outcome == OutcomeIncomplete {
		log.Warn("step budget exhausted before goal was achieved", zap.Int("max_steps", maxSteps))
	}

	e.captureFinal(ctx, rs)

	report.History = append([]string(nil), rs.history...)
	report.Duration = e.now().Sub(started)
	if report.err != nil {
		report.Error = report.err.Error()
	}
	art.saveReport(report)
	e.report = report

	log.Info("run finished",
		zap.String("outcome", string(report.Outcome)),
		zap.Int("steps", report.Steps),
		zap.Int("history", len(report.History)))
	return report.Outcome == OutcomeGoalAchieved
}

// Report returns the summary of the most recent run
func (e *Executor) Report() RunReport {
	r := e.report
	r.History = append([]string(nil), e.report.History...)
	return r
}

// History returns a copy of the most recent run's action history
func (e *Executor) History() []string {
	return append([]string(nil), e.report.History...)
}

// step runs one perceive, plan and act iteration. i is zero based.
func (e *Executor) step(ctx context.Context, rs *runState, i int) (bool, error) {
	n := i + 1
	log := rs.logger.With(zap.Int("step", n))
	fail := func(stage Stage, err error) (bool, error) {
		return false, &StageError{Stage: stage, Step: n, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(StageInterrupted, err)
	}

	// Perceive
	if err := e.perception.Update(ctx); err != nil {
		return fail(StagePerceive, err)
	}
	screenshot := e.perception.LastScreenshot()
	width, height := e.perception.ScreenDimensions()
	if screenshot == nil || width <= 0 || height <= 0 {
		return fail(StagePerceive, ErrNoSnapshot)
	}
	elements := e.perception.Elements()
	log.Info("perceived screen",
		zap.Int("elements", len(elements)),
		zap.Int("width", width),
		zap.Int("height", height))

	if e.tracker != nil {
		tracks := e.tracker.Update(elements, i)
		missing := 0
		for _, t := range tracks {
			if t.Missing() {
				missing++
			}
		}
		log.Debug("tracker updated", zap.Int("tracks", len(tracks)), zap.Int("missing", missing))
	}

	rs.art.saveImage(stepArtifact(n, "state_raw"), screenshot)
	rs.art.saveImage(stepArtifact(n, "state_parsed"), overlay.DrawBoundingBoxes(screenshot, elements, overlay.BoxColor, true))

	// Plan
	plan, target, err := e.planner.Plan(ctx, elements, rs.goal, append([]string(nil), rs.history...), i)
	if err != nil {
		return fail(StagePlan, err)
	}
	if target == nil && plan.ElementID != nil {
		target = ui.FindByID(elements, *plan.ElementID)
	}
	log.Info("planned action",
		zap.String("action", string(plan.Action)),
		zap.Bool("goal_complete", plan.IsGoalComplete),
		zap.String("reasoning", plan.Reasoning))

	if plan.IsGoalComplete {
		return true, nil
	}

	if plan.Action == ui.ActionClick && target == nil {
		id := -1
		if plan.ElementID != nil {
			id = *plan.ElementID
		}
		return fail(StageValidate, fmt.Errorf("%w (element_id %d)", ErrMissingTarget, id))
	}

	rs.art.saveImage(stepArtifact(n, "action_highlight"), overlay.DrawActionHighlight(screenshot, target, plan))

	desc := plan.Describe(n, target)
	if e.tracker != nil && target != nil {
		if trackID := e.tracker.TrackFor(target.ID); trackID != "" {
			desc += " [" + trackID + "]"
		}
	}
	rs.history = append(rs.history, desc)
	log.Debug("recorded history", zap.String("entry", desc))

	// Execute
	handler, ok := e.handlers[plan.Action]
	if !ok {
		return fail(StageExecute, fmt.Errorf("%w: %s", ErrUnknownAction, plan.Action))
	}
	act := action{plan: plan, target: target, width: width, height: height, scale: rs.scale}
	if !handler(ctx, log, act) {
		return fail(StageExecute, fmt.Errorf("%w: %s", ErrActionFailed, plan.Action))
	}

	// Settle
	if err := e.sleep(ctx, e.cfg.SettleDelay); err != nil {
		return fail(StageInterrupted, err)
	}
	return false, nil
}

// captureFinal saves final_state.png, preferring a fresh capture
func (e *Executor) captureFinal(ctx context.Context, rs *runState) {
	var img image.Image
	if c, ok := e.perception.(ScreenCapturer); ok {
		// The run context may already be cancelled
		captureCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		shot, err := c.CaptureScreen(captureCtx)
		if err != nil {
			rs.logger.Warn("final screenshot failed, using last perceived frame", zap.Error(err))
		} else {
			img = shot
		}
	}
	if img == nil {
		img = e.perception.LastScreenshot()
	}
	if img == nil {
		rs.logger.Warn("no screenshot available for final state")
		return
	}
	rs.art.saveImage("final_state.png", img)
}

func (e *Executor) scalingFactor(log *zap.Logger) float64 {
	return ScalingFactor(e.execution, e.cfg.ScalingFactor, log)
}

// ScalingFactor asks ex for its scale when it is a ScaleReporter and falls back
// to fallback, then 1.
func ScalingFactor(ex Execution, fallback float64, log *zap.Logger) float64 {
	if r, ok := ex.(ScaleReporter); ok {
		f, err := r.ScalingFactor()
		if err == nil && f > 0 {
			return f
		}
		log.Warn("could not read scaling factor, using configured value", zap.Error(err))
	}
	if fallback > 0 {
		return fallback
	}
	return 1
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
