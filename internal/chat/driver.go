// Package chat implements the Chat Driver (spec.md §4.4): a bounded
// tool-call loop layered over a ChatClient, appending every turn to the
// shared Conversation Transcript and dispatching any requested tool calls
// through the Tool Dispatcher before asking the model to continue.
//
// Pulled out of the teacher's executor.go, where this loop was inlined
// directly in the step executor; spec.md's component table gives it its own
// package.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skeinhq/skein/internal/execcontext"
	"github.com/skeinhq/skein/internal/tools"
)

// DefaultMaxToolDepth is the default bound on tool-call round-trips within a
// single step before the driver gives up and returns an error (spec.md §4.4).
const DefaultMaxToolDepth = 10

// CompletionParams carries the per-call model configuration resolved from a
// step's effective overrides (spec.md §6).
type CompletionParams struct {
	Model       string
	APIProvider string
	JSON        bool
	Tools       []tools.Tool
}

// ChatClient is the external Chat Model interface spec.md §1 scopes out of
// the core engine: one round-trip completion call against a concrete model
// API. Concrete adapters live in internal/provider/*.
type ChatClient interface {
	Complete(ctx context.Context, messages []execcontext.Message, params CompletionParams) (assistant execcontext.Message, toolCalls []execcontext.ToolCall, err error)
}

// Driver runs the bounded tool-call loop for a single step.
type Driver struct {
	Client       ChatClient
	Dispatcher   *tools.Dispatcher
	MaxToolDepth int
}

func NewDriver(client ChatClient, dispatcher *tools.Dispatcher) *Driver {
	return &Driver{Client: client, Dispatcher: dispatcher, MaxToolDepth: DefaultMaxToolDepth}
}

// Run sends prompt as a new user turn, appended to the transcript snapshot
// already recorded in store, and drives the tool-call loop until the model
// produces a turn with no further tool calls or MaxToolDepth round-trips are
// exhausted. It returns the assistant's final raw text and appends every
// turn (including tool-call/tool-result pairs) to the shared transcript.
func (d *Driver) Run(ctx context.Context, store *execcontext.Store, stepID string, prompt string, params CompletionParams) (string, error) {
	maxDepth := d.MaxToolDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxToolDepth
	}

	turn := []execcontext.Message{{Role: "user", Content: prompt}}
	store.AppendBatch(turn)

	var finalText string
	for depth := 0; depth < maxDepth; depth++ {
		history := store.TranscriptSnapshot()

		assistant, toolCalls, err := d.Client.Complete(ctx, history, params)
		if err != nil {
			return "", fmt.Errorf("step %s: chat completion: %w", stepID, err)
		}

		batch := []execcontext.Message{assistant}

		if len(toolCalls) == 0 {
			store.AppendBatch(batch)
			finalText = assistant.Content
			return finalText, nil
		}

		assistant.ToolCalls = toolCalls
		batch = []execcontext.Message{assistant}

		for _, call := range toolCalls {
			result, toolErr := d.dispatchTool(ctx, store, stepID, call)
			content := result
			if toolErr != nil {
				content = fmt.Sprintf("error: %s", toolErr.Error())
			}
			batch = append(batch, execcontext.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			})
		}

		store.AppendBatch(batch)
	}

	return "", fmt.Errorf("step %s: exceeded max tool-call depth (%d)", stepID, maxDepth)
}

func (d *Driver) dispatchTool(ctx context.Context, store *execcontext.Store, stepID string, call execcontext.ToolCall) (string, error) {
	execCtx := &tools.ExecutionContext{
		Context: ctx,
		RunID:   store.RunID(),
		StepID:  stepID,
		Store:   store,
		Timeout: 60 * time.Second,
	}

	result, err := d.Dispatcher.Dispatch(execCtx, call.Name, json.RawMessage(call.Arguments))
	if err != nil {
		return "", err
	}
	if !result.Success {
		if result.Recoverable {
			return result.Error, nil
		}
		return "", fmt.Errorf("%s", result.Error)
	}

	b, err := json.Marshal(result.Output)
	if err != nil {
		return "", fmt.Errorf("marshal tool output: %w", err)
	}
	return string(b), nil
}
