package synthetic

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/omniagent/internal/agent"
	"github.com/v0xg/omniagent/internal/tracking"
	"github.com/v0xg/omniagent/internal/ui"
)

var (
	_ agent.Perception     = (*LoginScreen)(nil)
	_ agent.Execution      = (*LoginScreen)(nil)
	_ agent.ScreenCapturer = (*LoginScreen)(nil)
	_ agent.ScaleReporter  = (*LoginScreen)(nil)
)

func updated(t *testing.T, s *LoginScreen) []ui.Element {
	t.Helper()
	require.NoError(t, s.Update(context.Background()))
	return s.Elements()
}

func center(b ui.Bounds) (int, int) {
	x, y, _ := b.Center()
	return int(x * Width), int(y * Height)
}

func TestInitialScreen(t *testing.T) {
	s := NewLoginScreen()
	els := updated(t, s)

	require.Len(t, els, 5)
	types := make([]string, len(els))
	for i, el := range els {
		types[i] = el.Type
		assert.Equal(t, i, el.ID)
		assert.True(t, el.Bounds.Within(0))
	}
	assert.Equal(t, []string{"text_field", "text_field", "checkbox", "link", "button"}, types)
	assert.Equal(t, true, els[1].Attributes["is_password"])
	assert.Equal(t, false, els[2].Attributes["checked"])

	w, h := s.ScreenDimensions()
	assert.Equal(t, Width, w)
	assert.Equal(t, Height, h)

	r, g, b, _ := s.LastScreenshot().At(5, 5).RGBA()
	assert.Equal(t, [3]uint32{230, 230, 230}, [3]uint32{r >> 8, g >> 8, b >> 8})
}

func TestTypingFillsFocusedFieldAndMasksPassword(t *testing.T) {
	ctx := context.Background()
	s := NewLoginScreen()
	els := updated(t, s)

	assert.True(t, s.TypeText(ctx, "ignored"))

	x, y := center(els[0].Bounds)
	require.True(t, s.Click(ctx, x, y, ui.ClickSingle))
	require.True(t, s.TypeText(ctx, "alice"))

	x, y = center(els[1].Bounds)
	require.True(t, s.Click(ctx, x, y, ui.ClickSingle))
	require.True(t, s.TypeText(ctx, "hunter2"))
	require.True(t, s.ExecuteKeyString(ctx, "backspace"))

	els = updated(t, s)
	assert.Equal(t, "alice", els[0].Content)
	assert.Equal(t, "******", els[1].Content)
	assert.Equal(t, true, els[1].Attributes["focused"])

	user, pass, _ := s.Credentials()
	assert.Equal(t, "alice", user)
	assert.Equal(t, "hunter", pass)
}

func TestCheckboxToggles(t *testing.T) {
	ctx := context.Background()
	s := NewLoginScreen()
	els := updated(t, s)

	x, y := center(els[2].Bounds)
	require.True(t, s.Click(ctx, x, y, ui.ClickSingle))
	assert.Equal(t, true, updated(t, s)[2].Attributes["checked"])

	require.True(t, s.Click(ctx, x, y, ui.ClickSingle))
	assert.Equal(t, false, updated(t, s)[2].Attributes["checked"])
}

func TestLoginRequiresBothFields(t *testing.T) {
	ctx := context.Background()
	s := NewLoginScreen()
	els := updated(t, s)

	x, y := center(els[4].Bounds)
	require.True(t, s.Click(ctx, x, y, ui.ClickSingle))
	assert.False(t, s.LoggedIn())

	els = updated(t, s)
	require.Len(t, els, 6)
	assert.Equal(t, "Please enter username and password", els[5].Content)
}

func TestEnterSubmitsAndLogoutResets(t *testing.T) {
	ctx := context.Background()
	s := NewLoginScreen()
	require.True(t, s.ExecuteKeyString(ctx, "tab"))
	require.True(t, s.TypeText(ctx, "bob"))
	require.True(t, s.ExecuteKeyString(ctx, "tab"))
	require.True(t, s.TypeText(ctx, "pw"))
	require.True(t, s.ExecuteKeyString(ctx, "Return"))
	assert.True(t, s.LoggedIn())

	els := updated(t, s)
	require.Len(t, els, 3)
	assert.Equal(t, "Login Successful!", els[0].Content)
	assert.Equal(t, "Welcome, bob!", els[1].Content)

	x, y := center(els[2].Bounds)
	require.True(t, s.Click(ctx, x, y, ui.ClickSingle))
	assert.False(t, s.LoggedIn())
	assert.Len(t, updated(t, s), 5)
}

func TestInputEdgeCases(t *testing.T) {
	ctx := context.Background()
	s := NewLoginScreen()

	assert.False(t, s.Click(ctx, Width, 10, ui.ClickSingle))
	assert.False(t, s.ExecuteKeyString(ctx, "hyper+q"))
	assert.True(t, s.Scroll(ctx, 0, -3))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, s.TypeText(cancelled, "x"))
	assert.Error(t, s.Update(cancelled))
}

func TestScaledRendering(t *testing.T) {
	s := NewLoginScreen(WithScaleFactor(2))
	updated(t, s)

	w, h := s.ScreenDimensions()
	assert.Equal(t, 1600, w)
	assert.Equal(t, 1200, h)

	scale, err := s.ScalingFactor()
	require.NoError(t, err)
	assert.Equal(t, 2.0, scale)

	// Login button fill at physical coordinates
	want := color.NRGBAModel.Convert(buttonFill).(color.NRGBA)
	got := color.NRGBAModel.Convert(s.LastScreenshot().At(2*345, 2*395)).(color.NRGBA)
	assert.Equal(t, want, got)
}

// loginPlanner fills the form, ticks Remember Me, submits and then declares success
type loginPlanner struct{}

func (loginPlanner) Plan(_ context.Context, elements []ui.Element, _ string, _ []string, step int) (ui.ActionPlan, *ui.Element, error) {
	text := func(s string) *string { return &s }
	id := func(i int) *int { return &i }

	if len(elements) > 0 && elements[0].Content == "Login Successful!" {
		return ui.ActionPlan{Reasoning: "logged in", Action: ui.ActionClick, IsGoalComplete: true}, nil, nil
	}

	var plan ui.ActionPlan
	switch step {
	case 0:
		plan = ui.ActionPlan{Reasoning: "enter username", Action: ui.ActionTypeText, ElementID: id(0), TextToType: text("alice")}
	case 1:
		plan = ui.ActionPlan{Reasoning: "enter password", Action: ui.ActionTypeText, ElementID: id(1), TextToType: text("s3cret")}
	case 2:
		plan = ui.ActionPlan{Reasoning: "remember me", Action: ui.ActionClick, ElementID: id(2)}
	default:
		plan = ui.ActionPlan{Reasoning: "submit", Action: ui.ActionClick, ElementID: id(4)}
	}
	return plan, ui.FindByID(elements, *plan.ElementID), nil
}

func TestAgentLogsInOnScaledScreen(t *testing.T) {
	screen := NewLoginScreen(WithScaleFactor(2))
	noSleep := func(context.Context, time.Duration) error { return nil }
	exec := agent.NewExecutor(screen, loginPlanner{}, screen, agent.DefaultConfig(),
		agent.WithSleeper(noSleep),
		agent.WithTracker(tracking.New()))

	base := t.TempDir()
	require.True(t, exec.Run(context.Background(), "log in as alice and remember me", 10, base))

	assert.True(t, screen.LoggedIn())
	user, pass, remember := screen.Credentials()
	assert.Equal(t, "alice", user)
	assert.Equal(t, "s3cret", pass)
	assert.True(t, remember)

	report := exec.Report()
	assert.Equal(t, agent.OutcomeGoalAchieved, report.Outcome)
	assert.Len(t, exec.History(), 4)

	_, err := os.Stat(filepath.Join(report.OutputDir, "final_state.png"))
	assert.NoError(t, err)
}
