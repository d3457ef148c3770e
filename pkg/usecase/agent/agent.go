package agent

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/seeker/pkg/model"
	"github.com/m-mizutani/seeker/pkg/utils/logging"
)

// Perceiver extracts intent and entities from the current input
type Perceiver interface {
	Perceive(ctx context.Context, input string) (*model.Perception, error)
}

// PlanInput is everything the planner sees in one step
type PlanInput struct {
	Perception *model.Perception
	Memories   []*model.MemoryItem
	Tools      []*model.Tool
}

// Planner decides the next action. The raw output is parsed by model.ParsePlan.
type Planner interface {
	Plan(ctx context.Context, input PlanInput) (string, error)
}

// Memory stores and retrieves memory items scoped by session
type Memory interface {
	Add(ctx context.Context, item *model.MemoryItem) (*model.MemoryItem, error)
	Retrieve(ctx context.Context, query string, topK int, sessionID model.SessionID) ([]*model.MemoryItem, error)
}

// ToolSession is an established session with a tool host
type ToolSession interface {
	ListTools(ctx context.Context) ([]*model.Tool, error)
	Invoke(ctx context.Context, name string, args map[string]any) (*model.ToolInvocationResult, error)
	Close() error
}

// SessionOpener establishes a tool host session for one run
type SessionOpener func(ctx context.Context) (ToolSession, error)

// Agent runs the perceive, retrieve, plan, act and remember loop
type Agent struct {
	open      SessionOpener
	perceiver Perceiver
	planner   Planner
	memory    Memory
	cfg       Config
}

func New(open SessionOpener, perceiver Perceiver, planner Planner, memory Memory, cfg Config) *Agent {
	return &Agent{
		open:      open,
		perceiver: perceiver,
		planner:   planner,
		memory:    memory,
		cfg:       cfg.withDefaults(),
	}
}

// RunInput is one task for the agent. SessionID is derived from the current
// time when empty.
type RunInput struct {
	Task      string
	SessionID model.SessionID
}

// Run drives the loop until a final answer, budget exhaustion or a failure.
// The returned Outcome is never nil. A non-nil error always comes with an
// aborted Outcome; running out of steps is not an error.
func (a *Agent) Run(ctx context.Context, input RunInput) (*model.Outcome, error) {
	sessionID := input.SessionID
	if sessionID == "" {
		sessionID = a.cfg.NewSessionID()
	}

	logger := logging.From(ctx).With("session_id", sessionID)
	ctx = logging.With(ctx, logger)

	outcome := &model.Outcome{
		SessionID: sessionID,
		Status:    model.OutcomeAborted,
	}

	session, err := a.open(ctx)
	if err != nil {
		logger.Error("failed to establish tool host session", "stage", "bootstrap", "error", err)
		return outcome, goerr.Wrap(err, "failed to establish tool host session")
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close tool host session", "error", err)
		}
	}()

	tools, err := session.ListTools(ctx)
	if err != nil {
		logger.Error("failed to list tools", "stage", "bootstrap", "error", err)
		return outcome, goerr.Wrap(err, "failed to list tools")
	}
	logger.Info("tools loaded", "stage", "bootstrap", "count", len(tools))

	current := input.Task
	for step := 1; step <= a.cfg.StepBudget; step++ {
		outcome.Steps = step
		logger.Info("step started", "stage", "loop", "step", step)

		result, err := a.step(ctx, sessionID, current, tools, session)
		if err != nil {
			logger.Error("run aborted", "stage", "loop", "step", step, "error", err)
			return outcome, goerr.Wrap(err, "run aborted", goerr.V("step", step))
		}

		if result.answer != "" {
			logger.Info("final answer", "stage", "loop", "step", step, "answer", result.answer)
			outcome.Status = model.OutcomeFinished
			outcome.Answer = result.answer
			return outcome, nil
		}

		if result.invocation != nil {
			outcome.Invocations = append(outcome.Invocations, result.invocation)
			current = nextInput(input.Task, result.invocation.Result)
		}
	}

	logger.Warn("no answer within step budget", "stage", "loop", "budget", a.cfg.StepBudget)
	outcome.Status = model.OutcomeExhausted
	return outcome, nil
}

type stepResult struct {
	answer     string
	invocation *model.ToolInvocationResult
}

func (a *Agent) step(ctx context.Context, sessionID model.SessionID, current string, tools []*model.Tool, session ToolSession) (*stepResult, error) {
	if a.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.StepTimeout)
		defer cancel()
	}
	logger := logging.From(ctx)

	perception, err := a.perceiver.Perceive(ctx, current)
	if err != nil {
		return nil, goerr.Wrap(err, "perception failed")
	}
	logger.Info("perceived", "stage", "perception", "intent", perception.Intent, "tool_hint", perception.ToolHint)

	memories, err := a.memory.Retrieve(ctx, current, a.cfg.TopK, sessionID)
	if err != nil {
		return nil, goerr.Wrap(err, "memory retrieval failed")
	}
	logger.Info("retrieved memories", "stage", "memory", "count", len(memories))

	raw, err := a.planner.Plan(ctx, PlanInput{
		Perception: perception,
		Memories:   memories,
		Tools:      tools,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "planning failed")
	}
	logger.Info("plan generated", "stage", "plan", "plan", raw)

	plan, err := model.ParsePlan(raw)
	if err != nil {
		return nil, err
	}

	switch p := plan.(type) {
	case model.FinalAnswer:
		if p.Text == "" {
			logger.Warn("empty final answer, continuing", "stage", "plan")
		}
		return &stepResult{answer: p.Text}, nil

	case model.Invocation:
		result, err := session.Invoke(ctx, p.ToolName, p.Arguments)
		if err != nil {
			return nil, goerr.Wrap(err, "tool invocation failed", goerr.V("tool", p.ToolName))
		}
		logger.Info("tool returned", "stage", "tool", "tool", result.ToolName, "result", result.Result)

		if _, err := a.memory.Add(ctx, &model.MemoryItem{
			Text:      fmt.Sprintf("Tool call: %s with %v, got: %v", result.ToolName, result.Arguments, result.Result),
			Type:      model.MemoryTypeToolOutput,
			ToolName:  result.ToolName,
			UserQuery: current,
			Tags:      []string{result.ToolName},
			SessionID: sessionID,
		}); err != nil {
			return nil, goerr.Wrap(err, "failed to record tool outcome")
		}
		logger.Debug("memory item added", "stage", "memory")

		return &stepResult{invocation: result}, nil
	}

	return nil, goerr.Wrap(model.ErrInvalidPlan, "unknown plan type", goerr.V("plan", raw))
}

func nextInput(task string, result any) string {
	return fmt.Sprintf("Original task: %s\nPrevious output: %v\nWhat should I do next?", task, result)
}
