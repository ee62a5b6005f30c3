package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/v0xg/omniagent/internal/tracking"
	"github.com/v0xg/omniagent/internal/ui"
)

// fakePerception returns the same screen every update, optionally failing on one call
type fakePerception struct {
	elements []ui.Element
	width    int
	height   int
	failOn   int // 1-based call number, 0 never fails
	noShot   bool
	calls    int
	screen   image.Image
	captures int
}

func newFakePerception(elements ...ui.Element) *fakePerception {
	return &fakePerception{
		elements: elements,
		width:    200,
		height:   100,
		screen:   image.NewRGBA(image.Rect(0, 0, 200, 100)),
	}
}

func (f *fakePerception) Update(ctx context.Context) error {
	f.calls++
	if f.failOn == f.calls {
		return errors.New("screenshot failed")
	}
	return nil
}

func (f *fakePerception) Elements() []ui.Element { return f.elements }

func (f *fakePerception) ScreenDimensions() (int, int) {
	if f.noShot {
		return 0, 0
	}
	return f.width, f.height
}

func (f *fakePerception) LastScreenshot() image.Image {
	if f.noShot {
		return nil
	}
	return f.screen
}

// capturingPerception also implements ScreenCapturer
type capturingPerception struct {
	*fakePerception
}

func (c capturingPerception) CaptureScreen(ctx context.Context) (image.Image, error) {
	c.captures++
	return c.screen, nil
}

// scriptedPlanner returns one plan per step, repeating the last one
type scriptedPlanner struct {
	plans   []ui.ActionPlan
	failOn  int // 0-based step, -1 never
	calls   int
	steps   []int
	history [][]string
}

func (p *scriptedPlanner) Plan(ctx context.Context, elements []ui.Element, goal string, history []string, step int) (ui.ActionPlan, *ui.Element, error) {
	p.calls++
	p.steps = append(p.steps, step)
	p.history = append(p.history, history)
	if p.failOn == step {
		return ui.ActionPlan{}, nil, errors.New("malformed model output")
	}
	plan := p.plans[min(step, len(p.plans)-1)]
	var target *ui.Element
	if plan.ElementID != nil {
		target = ui.FindByID(elements, *plan.ElementID)
	}
	return plan, target, nil
}

type call struct {
	Kind string
	Args []any
}

type fakeExecution struct {
	calls      []call
	clickOK    bool
	typeOK     bool
	keyOK      bool
	scrollOK   bool
	scale      float64
	scaleError error
}

func newFakeExecution() *fakeExecution {
	return &fakeExecution{clickOK: true, typeOK: true, keyOK: true, scrollOK: true}
}

func (f *fakeExecution) Click(ctx context.Context, x, y int, kind ui.ClickType) bool {
	f.calls = append(f.calls, call{"click", []any{x, y, kind}})
	return f.clickOK
}

func (f *fakeExecution) TypeText(ctx context.Context, text string) bool {
	f.calls = append(f.calls, call{"type", []any{text}})
	return f.typeOK
}

func (f *fakeExecution) ExecuteKeyString(ctx context.Context, spec string) bool {
	f.calls = append(f.calls, call{"key", []any{spec}})
	return f.keyOK
}

func (f *fakeExecution) Scroll(ctx context.Context, dx, dy int) bool {
	f.calls = append(f.calls, call{"scroll", []any{dx, dy}})
	return f.scrollOK
}

func (f *fakeExecution) kinds() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Kind
	}
	return out
}

// scaledExecution reports its own scaling factor
type scaledExecution struct {
	*fakeExecution
}

func (s scaledExecution) ScalingFactor() (float64, error) {
	return s.scale, s.scaleError
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

var (
	usernameField = ui.Element{ID: 0, Type: "text_field", Bounds: ui.Bounds{X: 0.25, Y: 0.3, Width: 0.5, Height: 0.2}}
	loginButton   = ui.Element{ID: 1, Type: "button", Content: "Login", Bounds: ui.Bounds{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.1}}
)

func clickLogin() ui.ActionPlan {
	return ui.ActionPlan{Reasoning: "press login", Action: ui.ActionClick, ElementID: intPtr(1)}
}

func goalComplete() ui.ActionPlan {
	return ui.ActionPlan{Reasoning: "done", Action: ui.ActionClick, IsGoalComplete: true}
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestExecutor(p Perception, pl Planner, ex Execution, opts ...Option) *Executor {
	opts = append([]Option{WithSleeper(noSleep)}, opts...)
	return NewExecutor(p, pl, ex, DefaultConfig(), opts...)
}

func TestRunGoalCompleteBeforeExecution(t *testing.T) {
	perception := newFakePerception(loginButton)
	planner := &scriptedPlanner{plans: []ui.ActionPlan{goalComplete()}, failOn: -1}
	execution := newFakeExecution()

	e := newTestExecutor(perception, planner, execution)
	ok := e.Run(context.Background(), "log in", 5, t.TempDir())

	assert.True(t, ok)
	assert.Equal(t, 1, perception.calls)
	assert.Empty(t, execution.calls)
	assert.Empty(t, e.History())
	assert.Equal(t, OutcomeGoalAchieved, e.Report().Outcome)
}

func TestRunClickCoordinateTransform(t *testing.T) {
	perception := newFakePerception(loginButton)
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin(), goalComplete()}, failOn: -1}
	execution := newFakeExecution()
	execution.scale = 2

	e := newTestExecutor(perception, planner, scaledExecution{execution})
	ok := e.Run(context.Background(), "log in", 5, t.TempDir())

	require.True(t, ok)
	require.Len(t, execution.calls, 1)
	assert.Equal(t, call{"click", []any{20, 7, ui.ClickSingle}}, execution.calls[0])
}

func TestRunScalingFactorFallsBackToConfig(t *testing.T) {
	perception := newFakePerception(loginButton)
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin(), goalComplete()}, failOn: -1}
	execution := newFakeExecution()
	execution.scaleError = errors.New("no display")

	e := newTestExecutor(perception, planner, scaledExecution{execution})
	require.True(t, e.Run(context.Background(), "log in", 5, t.TempDir()))
	assert.Equal(t, call{"click", []any{40, 15, ui.ClickSingle}}, execution.calls[0])
}

func TestRunTypeClicksTargetFirst(t *testing.T) {
	perception := newFakePerception(usernameField, loginButton)
	typeUser := ui.ActionPlan{Reasoning: "enter name", Action: ui.ActionTypeText, ElementID: intPtr(0), TextToType: strPtr("alice")}
	planner := &scriptedPlanner{plans: []ui.ActionPlan{typeUser, goalComplete()}, failOn: -1}
	execution := newFakeExecution()

	e := newTestExecutor(perception, planner, execution)
	require.True(t, e.Run(context.Background(), "log in", 5, t.TempDir()))

	assert.Equal(t, []string{"click", "type"}, execution.kinds())
	assert.Equal(t, call{"click", []any{100, 40, ui.ClickSingle}}, execution.calls[0])
	assert.Equal(t, call{"type", []any{"alice"}}, execution.calls[1])
}

func TestRunTypeSurvivesFailedPreClick(t *testing.T) {
	perception := newFakePerception(usernameField)
	typeUser := ui.ActionPlan{Action: ui.ActionTypeText, ElementID: intPtr(0), TextToType: strPtr("alice")}
	planner := &scriptedPlanner{plans: []ui.ActionPlan{typeUser, goalComplete()}, failOn: -1}
	execution := newFakeExecution()
	execution.clickOK = false

	core, logs := observer.New(zapcore.WarnLevel)
	e := newTestExecutor(perception, planner, execution, WithLogger(zap.New(core)))
	require.True(t, e.Run(context.Background(), "log in", 5, t.TempDir()))

	assert.Equal(t, []string{"click", "type"}, execution.kinds())
	assert.Equal(t, 1, logs.FilterMessage("failed to focus target before typing, typing anyway").Len())
}

func TestRunTypeWithoutTargetOnlyTypes(t *testing.T) {
	perception := newFakePerception()
	typeText := ui.ActionPlan{Action: ui.ActionTypeText, TextToType: strPtr("hello")}
	planner := &scriptedPlanner{plans: []ui.ActionPlan{typeText, goalComplete()}, failOn: -1}
	execution := newFakeExecution()

	e := newTestExecutor(perception, planner, execution)
	require.True(t, e.Run(context.Background(), "say hello", 5, t.TempDir()))
	assert.Equal(t, []string{"type"}, execution.kinds())
}

func TestRunPressKey(t *testing.T) {
	perception := newFakePerception()
	press := ui.ActionPlan{Action: ui.ActionPressKey, KeyInfo: strPtr("Cmd+Space")}
	planner := &scriptedPlanner{plans: []ui.ActionPlan{press, goalComplete()}, failOn: -1}
	execution := newFakeExecution()

	e := newTestExecutor(perception, planner, execution)
	require.True(t, e.Run(context.Background(), "open spotlight", 5, t.TempDir()))
	assert.Equal(t, []call{{"key", []any{"Cmd+Space"}}}, execution.calls)
}

func TestRunScroll(t *testing.T) {
	tests := []struct {
		reasoning string
		want      []call
	}{
		{"Scroll DOWN to find the button", []call{{"scroll", []any{0, -3}}}},
		{"scroll up a bit", []call{{"scroll", []any{0, 3}}}},
		{"pan left", []call{{"scroll", []any{-3, 0}}}},
		{"move to the right", []call{{"scroll", []any{3, 0}}}},
		{"look around", nil},
	}

	for _, tt := range tests {
		t.Run(tt.reasoning, func(t *testing.T) {
			perception := newFakePerception()
			scroll := ui.ActionPlan{Reasoning: tt.reasoning, Action: ui.ActionScroll}
			planner := &scriptedPlanner{plans: []ui.ActionPlan{scroll, goalComplete()}, failOn: -1}
			execution := newFakeExecution()

			e := newTestExecutor(perception, planner, execution)
			require.True(t, e.Run(context.Background(), "find it", 5, t.TempDir()))
			assert.Equal(t, tt.want, execution.calls)
		})
	}
}

func TestRunStopsOnPerceptionFailure(t *testing.T) {
	perception := newFakePerception(loginButton)
	perception.failOn = 3
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin()}, failOn: -1}
	execution := newFakeExecution()

	e := newTestExecutor(perception, planner, execution)
	ok := e.Run(context.Background(), "log in", 10, t.TempDir())

	assert.False(t, ok)
	assert.Equal(t, 3, perception.calls)
	assert.Equal(t, 2, planner.calls)
	assert.Len(t, e.History(), 2)

	report := e.Report()
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, StagePerceive, report.Stage)
	assert.Equal(t, 3, report.Steps)
}

func TestRunStopsOnMissingSnapshot(t *testing.T) {
	perception := newFakePerception(loginButton)
	perception.noShot = true
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin()}, failOn: -1}

	e := newTestExecutor(perception, planner, newFakeExecution())
	assert.False(t, e.Run(context.Background(), "log in", 10, t.TempDir()))
	assert.Equal(t, 1, perception.calls)
	assert.Zero(t, planner.calls)
	assert.ErrorIs(t, e.Report().Err(), ErrNoSnapshot)
}

func TestRunStopsOnPlanningFailure(t *testing.T) {
	perception := newFakePerception(loginButton)
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin()}, failOn: 1}
	execution := newFakeExecution()

	e := newTestExecutor(perception, planner, execution)
	assert.False(t, e.Run(context.Background(), "log in", 10, t.TempDir()))

	assert.Equal(t, 2, perception.calls)
	assert.Len(t, execution.calls, 1)
	assert.Len(t, e.History(), 1)
	assert.Equal(t, StagePlan, e.Report().Stage)
}

func TestRunStopsOnClickWithoutTarget(t *testing.T) {
	perception := newFakePerception(loginButton)
	bad := ui.ActionPlan{Action: ui.ActionClick, ElementID: intPtr(42)}
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin(), bad}, failOn: -1}
	execution := newFakeExecution()

	e := newTestExecutor(perception, planner, execution)
	assert.False(t, e.Run(context.Background(), "log in", 10, t.TempDir()))

	assert.Equal(t, 2, perception.calls)
	assert.Len(t, execution.calls, 1)
	assert.Len(t, e.History(), 1)
	assert.Equal(t, StageValidate, e.Report().Stage)
	assert.ErrorIs(t, e.Report().Err(), ErrMissingTarget)
}

func TestRunExecutionFailureStillRecordsHistory(t *testing.T) {
	perception := newFakePerception(loginButton)
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin()}, failOn: -1}
	execution := newFakeExecution()
	execution.clickOK = false

	e := newTestExecutor(perception, planner, execution)
	assert.False(t, e.Run(context.Background(), "log in", 10, t.TempDir()))

	assert.Equal(t, 1, perception.calls)
	require.Len(t, e.History(), 1)
	assert.Equal(t, "Step 1: Planned click on ID 1 ('Login')", e.History()[0])
	assert.Equal(t, StageExecute, e.Report().Stage)
	assert.ErrorIs(t, e.Report().Err(), ErrActionFailed)
}

func TestRunUnknownActionFails(t *testing.T) {
	perception := newFakePerception()
	planner := &scriptedPlanner{plans: []ui.ActionPlan{{Action: "hover"}}, failOn: -1}

	e := newTestExecutor(perception, planner, newFakeExecution())
	assert.False(t, e.Run(context.Background(), "hover", 10, t.TempDir()))
	assert.ErrorIs(t, e.Report().Err(), ErrUnknownAction)
	assert.Len(t, e.History(), 1)
}

func TestRunExhaustsSteps(t *testing.T) {
	perception := newFakePerception(loginButton)
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin()}, failOn: -1}
	execution := newFakeExecution()

	e := newTestExecutor(perception, planner, execution)
	assert.False(t, e.Run(context.Background(), "log in", 4, t.TempDir()))

	assert.Equal(t, 4, perception.calls)
	assert.Len(t, execution.calls, 4)
	assert.Len(t, e.History(), 4)
	assert.Equal(t, []int{0, 1, 2, 3}, planner.steps)
	assert.Equal(t, OutcomeIncomplete, e.Report().Outcome)
	assert.Empty(t, e.Report().Stage)
}

func TestRunPassesHistorySnapshotsToPlanner(t *testing.T) {
	perception := newFakePerception(loginButton)
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin()}, failOn: -1}

	e := newTestExecutor(perception, planner, newFakeExecution())
	e.Run(context.Background(), "log in", 3, t.TempDir())

	require.Len(t, planner.history, 3)
	assert.Empty(t, planner.history[0])
	assert.Len(t, planner.history[1], 1)
	assert.Len(t, planner.history[2], 2)
}

func TestRunCancelledContext(t *testing.T) {
	perception := newFakePerception(loginButton)
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin()}, failOn: -1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestExecutor(perception, planner, newFakeExecution())
	assert.False(t, e.Run(ctx, "log in", 3, t.TempDir()))
	assert.Zero(t, perception.calls)
	assert.Equal(t, StageInterrupted, e.Report().Stage)
}

func TestRunWritesArtifacts(t *testing.T) {
	base := t.TempDir()
	fixed := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	perception := newFakePerception(loginButton)
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin(), goalComplete()}, failOn: -1}

	e := newTestExecutor(capturingPerception{perception}, planner, newFakeExecution(), WithClock(func() time.Time { return fixed }))
	require.True(t, e.Run(context.Background(), "log in", 5, base))
	assert.Equal(t, 1, perception.captures)

	dir := filepath.Join(base, "20240309_140507")
	assert.Equal(t, dir, e.Report().OutputDir)
	for _, name := range []string{
		"step_1_state_raw.png",
		"step_1_state_parsed.png",
		"step_1_action_highlight.png",
		"step_2_state_raw.png",
		"step_2_state_parsed.png",
		"final_state.png",
		"run.log",
		"history.json",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	// Goal completion happens before the highlight is drawn
	assert.NoFileExists(t, filepath.Join(dir, "step_2_action_highlight.png"))

	data, err := os.ReadFile(filepath.Join(dir, "history.json"))
	require.NoError(t, err)
	var saved RunReport
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, OutcomeGoalAchieved, saved.Outcome)
	assert.Equal(t, []string{"Step 1: Planned click on ID 1 ('Login')"}, saved.History)
}

func TestRunArtifactFailureIsNotFatal(t *testing.T) {
	base := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(base, []byte("not a dir"), 0o644))

	perception := newFakePerception(loginButton)
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin(), goalComplete()}, failOn: -1}

	e := newTestExecutor(perception, planner, newFakeExecution())
	assert.True(t, e.Run(context.Background(), "log in", 5, base))
	assert.Empty(t, e.Report().OutputDir)
}

func TestRunAnnotatesHistoryWithTracks(t *testing.T) {
	perception := newFakePerception(loginButton)
	planner := &scriptedPlanner{plans: []ui.ActionPlan{clickLogin()}, failOn: -1}

	e := newTestExecutor(perception, planner, newFakeExecution(), WithTracker(tracking.New()))
	e.Run(context.Background(), "log in", 2, t.TempDir())

	history := e.History()
	require.Len(t, history, 2)
	for i, entry := range history {
		assert.Equal(t, fmt.Sprintf("Step %d: Planned click on ID 1 ('Login') [track_0]", i+1), entry)
	}
}

func TestLogicalPoint(t *testing.T) {
	x, y, ok := LogicalPoint(ui.Bounds{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.1}, 200, 100, 2)
	require.True(t, ok)
	assert.Equal(t, 20, x)
	assert.Equal(t, 7, y)

	_, _, ok = LogicalPoint(ui.Bounds{Width: -1}, 200, 100, 1)
	assert.False(t, ok)
}
