package agent

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/adapter"
	"github.com/m-mizutani/seeker/pkg/model"
	"github.com/samber/lo"
)

//go:embed prompt/plan.md
var planPromptRaw string

var planPromptTmpl = template.Must(template.New("plan").Parse(planPromptRaw))

type llmPlanner struct {
	llm adapter.LLM
}

// NewLLMPlanner creates a Planner that asks llm for the next action
func NewLLMPlanner(llm adapter.LLM) Planner {
	return &llmPlanner{llm: llm}
}

func (p *llmPlanner) Plan(ctx context.Context, input PlanInput) (string, error) {
	perception := input.Perception
	if perception == nil {
		perception = &model.Perception{}
	}

	var buf bytes.Buffer
	if err := planPromptTmpl.Execute(&buf, map[string]any{
		"Input":    perception.UserInput,
		"Intent":   perception.Intent,
		"Entities": strings.Join(perception.Entities, ", "),
		"ToolHint": perception.ToolHint,
		"Memories": lo.Map(input.Memories, func(m *model.MemoryItem, _ int) string {
			return m.Text
		}),
		"Tools": lo.Map(input.Tools, func(t *model.Tool, _ int) string {
			return describeTool(t)
		}),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute plan prompt template")
	}

	resp, err := p.llm.Generate(ctx, "You are a careful planner that follows the reply format exactly.", buf.String())
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate plan")
	}

	return pickPlanLine(resp), nil
}

func describeTool(t *model.Tool) string {
	desc := t.Description
	if desc == "" {
		desc = "(no description)"
	}

	line := t.Name + ": " + desc
	if t.InputSchema != nil {
		if schema, err := json.Marshal(t.InputSchema); err == nil {
			line += " Input schema: " + string(schema)
		}
	}
	return line
}

// pickPlanLine returns the first line carrying a plan prefix, or the whole
// response when there is none
func pickPlanLine(resp string) string {
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "`"))
		if strings.HasPrefix(line, model.FunctionCallPrefix) || strings.HasPrefix(line, model.FinalAnswerPrefix) {
			return line
		}
	}
	return strings.TrimSpace(resp)
}
