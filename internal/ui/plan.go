package ui

import (
	"errors"
	"fmt"
	"slices"
)

// ActionType is the closed set of actions a planner may choose
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionTypeText ActionType = "type"
	ActionPressKey ActionType = "press_key"
	ActionScroll   ActionType = "scroll"
)

// Valid reports whether a is one of the known action types
func (a ActionType) Valid() bool {
	switch a {
	case ActionClick, ActionTypeText, ActionPressKey, ActionScroll:
		return true
	}
	return false
}

// ClickType selects which mouse click primitive to issue
type ClickType string

const (
	ClickSingle ClickType = "single"
	ClickDouble ClickType = "double"
	ClickRight  ClickType = "right"
)

// ErrInvalidPlan is returned when an ActionPlan violates its field/action rules
var ErrInvalidPlan = errors.New("invalid action plan")

// ActionPlan is one planner decision
type ActionPlan struct {
	Reasoning      string     `json:"reasoning"`
	Action         ActionType `json:"action"`
	ElementID      *int       `json:"element_id"`
	TextToType     *string    `json:"text_to_type"`
	KeyInfo        *string    `json:"key_info"`
	IsGoalComplete bool       `json:"is_goal_complete"`
}

// Validate checks the combination of action and optional fields
func (p ActionPlan) Validate() error {
	if !p.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidPlan, p.Action)
	}

	if p.Action == ActionClick && p.ElementID == nil && !p.IsGoalComplete {
		return fmt.Errorf("%w: element_id is required for click", ErrInvalidPlan)
	}
	if (p.Action == ActionScroll || p.Action == ActionPressKey) && p.ElementID != nil {
		return fmt.Errorf("%w: element_id must be null for %s", ErrInvalidPlan, p.Action)
	}

	switch {
	case p.Action == ActionTypeText && p.TextToType == nil:
		return fmt.Errorf("%w: text_to_type is required for type", ErrInvalidPlan)
	case p.Action != ActionTypeText && present(p.TextToType):
		return fmt.Errorf("%w: text_to_type must be null for %s", ErrInvalidPlan, p.Action)
	}

	if p.Action == ActionPressKey && !present(p.KeyInfo) && !p.IsGoalComplete {
		return fmt.Errorf("%w: key_info is required for press_key", ErrInvalidPlan)
	}
	if p.Action != ActionPressKey && present(p.KeyInfo) {
		return fmt.Errorf("%w: key_info must be null for %s", ErrInvalidPlan, p.Action)
	}
	return nil
}

// Describe renders the plan as a single history line for the given 1-based step
func (p ActionPlan) Describe(step int, target *Element) string {
	desc := fmt.Sprintf("Step %d: Planned %s", step, p.Action)
	if target != nil {
		desc += fmt.Sprintf(" on ID %d ('%s')", target.ID, truncate(target.Content, 30))
	}
	if p.TextToType != nil {
		desc += fmt.Sprintf(" Text: '%s'", truncate(*p.TextToType, 20))
	}
	if p.KeyInfo != nil {
		desc += fmt.Sprintf(" Key: '%s'", *p.KeyInfo)
	}
	return desc
}

func present(s *string) bool {
	return s != nil && *s != ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
