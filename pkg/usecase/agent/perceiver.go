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
)

//go:embed prompt/perceive.md
var perceivePromptRaw string

var perceivePromptTmpl = template.Must(template.New("perceive").Parse(perceivePromptRaw))

type llmPerceiver struct {
	llm adapter.LLM
}

// NewLLMPerceiver creates a Perceiver that asks llm for a JSON description of the input
func NewLLMPerceiver(llm adapter.LLM) Perceiver {
	return &llmPerceiver{llm: llm}
}

func (p *llmPerceiver) Perceive(ctx context.Context, input string) (*model.Perception, error) {
	var buf bytes.Buffer
	if err := perceivePromptTmpl.Execute(&buf, map[string]any{
		"Input": input,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute perceive prompt template")
	}

	resp, err := p.llm.Generate(ctx, "You extract structured facts from text.", buf.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate perception")
	}

	var perception model.Perception
	if err := json.Unmarshal([]byte(stripCodeFence(resp)), &perception); err != nil {
		return nil, goerr.Wrap(err, "failed to parse perception", goerr.V("response", resp))
	}
	perception.UserInput = input

	return &perception, nil
}

// stripCodeFence removes a surrounding markdown code block
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```")
	if i := strings.Index(text, "\n"); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
