package ai

import (
	"strings"
	"text/template"

	"github.com/v0xg/omniagent/internal/ui"
)

const systemPrompt = `You are an AI assistant that operates a graphical user interface. Respond ONLY with a valid JSON object that conforms to the requested structure. Do not include any text before or after the JSON.`

var planTemplate = template.Must(template.New("plan").Parse(`You are an expert UI automation assistant. Decide the single next action that moves the user interface towards the user goal.

**User Goal:**
{{ .Goal }}

**Previous Actions (step {{ .Step }} of this run):**
{{- if .History }}
{{- range .History }}
- {{ . }}
{{- end }}
{{- else }}
None yet.
{{- end }}

**Current UI Elements:**
Each element has an ID, type, content (text label or value), location (normalized bounds) and attributes.

` + "```" + `
{{- range .Elements }}
{{ . }}
{{- end }}
` + "```" + `

**Instructions:**
1. Compare the goal with the previous actions and the current elements. If the goal is already achieved, set "is_goal_complete" to true.
2. Think step by step in the "reasoning" field.
3. Choose one action: "click", "type", "press_key" or "scroll".
   * "click" needs the "element_id" of the element to click.
   * "type" needs "text_to_type". Give an "element_id" to focus a field first, or null to type into the focused element.
   * "press_key" needs "key_info" such as "enter", "tab" or "cmd+space", and no "element_id".
   * "scroll" has no "element_id". Say "scroll down", "scroll up", "scroll left" or "scroll right" in the reasoning.
4. Do not repeat an action that already succeeded unless the screen shows it had no effect.

Respond ONLY with JSON matching this structure:

` + "```json" + `
{
  "reasoning": "your step by step thinking",
  "action": "click | type | press_key | scroll",
  "element_id": <ID or null>,
  "text_to_type": "<text for type, otherwise null>",
  "key_info": "<key for press_key, otherwise null>",
  "is_goal_complete": false
}
` + "```" + `
`))

type promptData struct {
	Goal     string
	Step     int
	History  []string
	Elements []string
}

func renderPrompt(goal string, history []string, elements []ui.Element, step int) (string, error) {
	data := promptData{
		Goal:     goal,
		Step:     step + 1,
		History:  history,
		Elements: make([]string, len(elements)),
	}
	for i, el := range elements {
		data.Elements[i] = el.PromptRepr()
	}

	var sb strings.Builder
	if err := planTemplate.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
