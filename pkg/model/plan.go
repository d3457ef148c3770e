package model

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

const (
	FinalAnswerPrefix  = "FINAL_ANSWER:"
	FunctionCallPrefix = "FUNCTION_CALL:"
)

var ErrInvalidPlan = goerr.New("invalid plan")

// Plan is the parsed planner output. It is either FinalAnswer or Invocation.
type Plan interface {
	plan()
}

// FinalAnswer terminates the loop when Text is not empty
type FinalAnswer struct {
	Text string
}

// Invocation asks the loop to call a tool
type Invocation struct {
	ToolName  string
	Arguments map[string]any
}

func (FinalAnswer) plan() {}
func (Invocation) plan()  {}

// ParsePlan converts raw planner output into a Plan. The FINAL_ANSWER: prefix
// is the only discriminator; anything else is read as a tool call in the form
// `[FUNCTION_CALL:] tool_name|key=value|nested.key=value` or
// `[FUNCTION_CALL:] tool_name|{"key": "value"}`.
func ParsePlan(raw string) (Plan, error) {
	text := strings.TrimSpace(raw)

	if rest, ok := strings.CutPrefix(text, FinalAnswerPrefix); ok {
		return FinalAnswer{Text: strings.TrimSpace(rest)}, nil
	}

	text = strings.TrimSpace(strings.TrimPrefix(text, FunctionCallPrefix))
	name, argText, _ := strings.Cut(text, "|")
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, goerr.Wrap(ErrInvalidPlan, "tool name is empty", goerr.V("plan", raw))
	}

	args, err := parseArguments(strings.TrimSpace(argText))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse tool arguments",
			goerr.V("plan", raw),
			goerr.V("tool", name))
	}

	return Invocation{ToolName: name, Arguments: args}, nil
}

func parseArguments(argText string) (map[string]any, error) {
	args := make(map[string]any)
	if argText == "" {
		return args, nil
	}

	if strings.HasPrefix(argText, "{") {
		if err := json.Unmarshal([]byte(argText), &args); err != nil {
			return nil, goerr.Wrap(ErrInvalidPlan, "arguments are not a JSON object",
				goerr.V("error", err.Error()))
		}
		return args, nil
	}

	for _, part := range strings.Split(argText, "|") {
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, goerr.Wrap(ErrInvalidPlan, "argument must be key=value", goerr.V("argument", part))
		}
		if err := setNested(args, strings.Split(key, "."), strings.TrimSpace(value)); err != nil {
			return nil, goerr.Wrap(err, "invalid argument", goerr.V("argument", part))
		}
	}

	return args, nil
}

// setNested assigns value at the dotted path. A key that already holds a
// scalar cannot become an object and vice versa; repeating a scalar key keeps
// the last value.
func setNested(dst map[string]any, path []string, value any) error {
	for _, key := range path {
		if key == "" {
			return goerr.Wrap(ErrInvalidPlan, "argument key has an empty segment")
		}
	}

	for _, key := range path[:len(path)-1] {
		cur, exists := dst[key]
		if !exists {
			next := make(map[string]any)
			dst[key] = next
			dst = next
			continue
		}
		next, ok := cur.(map[string]any)
		if !ok {
			return goerr.Wrap(ErrInvalidPlan, "argument key is both a value and an object", goerr.V("key", key))
		}
		dst = next
	}

	leaf := path[len(path)-1]
	if _, ok := dst[leaf].(map[string]any); ok {
		return goerr.Wrap(ErrInvalidPlan, "argument key is both a value and an object", goerr.V("key", leaf))
	}
	dst[leaf] = value
	return nil
}
