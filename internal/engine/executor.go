// Package engine implements the Scheduler/Executor, Step Kinds, and Control
// Flow Steps of spec.md §4.5/§4.6: it walks a workflow's step list, resolves
// each step's effective overrides, and dispatches to the Chat Driver, a
// shell command, or one of the control-flow constructs.
//
// Grounded on the teacher's internal/engine/executor.go for the overall
// traversal/instrumentation shape (sequential loop, per-step event
// emission, fatal-error-aborts policy); the step-dispatch switch itself is
// rebuilt around spec.md's tagged-variant Step and Modifiers instead of the
// teacher's flat While/Condition/SkipIf/Action fields. Teacher's
// executeBlockStep/executeScriptStep/executeContainerStep and the
// block/runtime packages behind them are dropped (spec Non-goal:
// sandboxing of tool code).
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/skeinhq/skein/internal/ast"
	"github.com/skeinhq/skein/internal/chat"
	"github.com/skeinhq/skein/internal/execcontext"
	"github.com/skeinhq/skein/internal/expression"
	"github.com/skeinhq/skein/internal/tools"
	"github.com/skeinhq/skein/pkg/events"
)

// Recorder persists one step's result for replay (internal/session
// implements this); nil disables recording.
type Recorder interface {
	RecordStep(index int, name string, result interface{}, transcript []execcontext.Message) error
}

// Executor walks a workflow's steps against a Context Store.
type Executor struct {
	Clients    map[string]chat.ChatClient
	Dispatcher *tools.Dispatcher
	Evaluator  *expression.Evaluator
	Recorder   Recorder
	Logger     zerolog.Logger

	stepCounter int
}

func NewExecutor(clients map[string]chat.ChatClient, dispatcher *tools.Dispatcher, logger zerolog.Logger) *Executor {
	return &Executor{
		Clients:    clients,
		Dispatcher: dispatcher,
		Evaluator:  expression.NewEvaluator(),
		Logger:     logger,
	}
}

// Execute runs a workflow's top-level step list to completion, aborting on
// the first fatal step error while preserving everything already recorded
// (spec.md §7's partial-session-preserved policy).
func (e *Executor) Execute(ctx context.Context, store *execcontext.Store, steps []*ast.Step) error {
	store.Emit(events.ExecutionEvent{
		Type:      events.EventWorkflowStarted,
		Timestamp: time.Now(),
		RunID:     store.RunID(),
	})

	for _, step := range steps {
		if err := e.executeStep(ctx, store, step); err != nil {
			store.Emit(events.ExecutionEvent{
				Type:      events.EventWorkflowFailed,
				Timestamp: time.Now(),
				RunID:     store.RunID(),
				Error:     err.Error(),
			})
			return err
		}
	}

	store.Emit(events.ExecutionEvent{
		Type:      events.EventWorkflowCompleted,
		Timestamp: time.Now(),
		RunID:     store.RunID(),
	})
	return nil
}

func (e *Executor) executeStep(ctx context.Context, store *execcontext.Store, step *ast.Step) error {
	switch step.StepKind {
	case ast.KindParallelGroup:
		return e.executeParallelGroup(ctx, store, step)
	case ast.KindShell:
		return e.executeShellStep(ctx, store, step, ast.StepOverride{})
	case ast.KindReference:
		return e.executeChatStep(ctx, store, step, ast.StepOverride{})
	case ast.KindComposite:
		return e.executeComposite(ctx, store, step)
	default:
		return fmt.Errorf("step %q at %s: unknown step kind", step.Name, step.Pos)
	}
}

func (e *Executor) executeComposite(ctx context.Context, store *execcontext.Store, step *ast.Step) error {
	mods := step.Modifiers
	switch {
	case mods.HasConditional():
		return e.executeConditional(ctx, store, step)
	case mods.HasEach():
		return e.executeEach(ctx, store, step)
	case mods.HasRepeat():
		return e.executeRepeat(ctx, store, step)
	case mods.HasCase():
		return e.executeCase(ctx, store, step)
	case step.ShellCommand != "":
		return e.executeShellStep(ctx, store, step, mods.Overrides)
	default:
		return e.executeChatStep(ctx, store, step, mods.Overrides)
	}
}

// resolveOverride merges the workflow's global defaults, any top-level
// per-step-name override (spec.md §6, scenario B), and the step's own
// composite-form overrides, in ascending precedence.
func (e *Executor) resolveOverride(store *execcontext.Store, step *ast.Step, local ast.StepOverride) ast.StepOverride {
	wf := store.Workflow()

	base := ast.StepOverride{}
	if wf.Model != "" {
		base.Model = &wf.Model
	}
	if wf.APIProvider != "" {
		base.APIProvider = &wf.APIProvider
	}

	if topLevel, ok := wf.OverrideFor(step.Name); ok {
		base = base.Merge(topLevel)
	}
	return base.Merge(local)
}

func (e *Executor) scope(store *execcontext.Store) expression.Scope {
	return storeScope{store: store}
}

// record stores a leaf step's result: the Output Map gets the Step Result's
// value (spec.md §3's "string, structured JSON, boolean" contract, so
// `{{ output[name] }}` resolves to the value itself rather than the
// envelope), while the Recorder persists the full Step Result for replay.
func (e *Executor) record(store *execcontext.Store, index int, name string, result execcontext.StepResult) {
	store.Record(name, outputValue(result))
	if e.Recorder != nil {
		_ = e.Recorder.RecordStep(index, name, result, store.TranscriptSnapshot())
	}
}

func outputValue(result execcontext.StepResult) interface{} {
	if result.Structured != nil {
		return result.Structured
	}
	return result.RawResponse
}

// executeChatStep runs the Chat Driver's tool-call loop for a Standard,
// Raw-prompt, or Custom-procedural step (spec.md §4.5): the step's prompt
// body is resolved, interpolated, and sent as a new user turn.
func (e *Executor) executeChatStep(ctx context.Context, store *execcontext.Store, step *ast.Step, local ast.StepOverride) error {
	start := time.Now()
	e.stepCounter++
	idx := e.stepCounter

	store.Emit(events.ExecutionEvent{Type: events.EventStepStarted, Timestamp: start, RunID: store.RunID(), StepID: step.Name, StepIndex: idx})

	ov := e.resolveOverride(store, step, local)

	prompt, err := e.resolvePrompt(store, step)
	if err != nil {
		return e.failStep(store, step, idx, err)
	}

	exitOnError := ov.ExitOnError == nil || *ov.ExitOnError
	interp := expression.NewInterpolator(exitOnError)
	rendered, err := interp.Expand(ctx, prompt, e.scope(store))
	if err != nil {
		return e.failStep(store, step, idx, err)
	}

	provName := "openai"
	if ov.APIProvider != nil {
		provName = *ov.APIProvider
	} else if wfProv := store.Workflow().EffectiveProvider(); wfProv != "" {
		provName = wfProv
	}
	client, ok := e.Clients[provName]
	if !ok {
		return e.failStep(store, step, idx, fmt.Errorf("no chat client configured for api_provider %q", provName))
	}

	model := ""
	if ov.Model != nil {
		model = *ov.Model
	}

	params := chat.CompletionParams{
		Model:       model,
		APIProvider: provName,
		JSON:        ov.JSON != nil && *ov.JSON,
	}
	// Raw-prompt steps (spec.md §4.5) get no tools offered.
	if !step.IsRaw && e.Dispatcher != nil {
		params.Tools = e.Dispatcher.Tools()
	}

	driver := chat.NewDriver(client, e.Dispatcher)
	text, err := driver.Run(ctx, store, step.Name, rendered, params)
	if err != nil {
		if !exitOnError {
			e.record(store, idx, step.Name, execcontext.StepResult{RawResponse: "", DurationMS: time.Since(start).Milliseconds()})
			store.Emit(events.ExecutionEvent{Type: events.EventStepSkipped, Timestamp: time.Now(), RunID: store.RunID(), StepID: step.Name, StepIndex: idx, Error: err.Error()})
			return nil
		}
		return e.failStep(store, step, idx, err)
	}

	result := execcontext.StepResult{RawResponse: text, DurationMS: time.Since(start).Milliseconds()}
	if params.JSON {
		var structured interface{}
		if jsonErr := json.Unmarshal([]byte(text), &structured); jsonErr == nil {
			result.Structured = structured
		}
	}

	e.record(store, idx, step.Name, result)
	return nil
}

// executeShellStep runs a `$(cmd)` step directly through the host shell.
func (e *Executor) executeShellStep(ctx context.Context, store *execcontext.Store, step *ast.Step, local ast.StepOverride) error {
	start := time.Now()
	e.stepCounter++
	idx := e.stepCounter

	store.Emit(events.ExecutionEvent{Type: events.EventStepStarted, Timestamp: start, RunID: store.RunID(), StepID: step.Name, StepIndex: idx})

	ov := e.resolveOverride(store, step, local)
	exitOnError := ov.ExitOnError == nil || *ov.ExitOnError

	interp := expression.NewInterpolator(exitOnError)
	cmdText, err := interp.ExpandTemplatesOnly(step.ShellCommand, e.scope(store))
	if err != nil {
		return e.failStep(store, step, idx, err)
	}

	out, runErr := interp.RunCommand(ctx, cmdText)

	exitCode := 0
	if shellErr, ok := runErr.(*expression.ShellFailure); ok {
		exitCode = shellErr.ExitCode
	}
	result := execcontext.StepResult{
		RawResponse: out,
		ExitStatus:  &exitCode,
		DurationMS:  time.Since(start).Milliseconds(),
	}

	if runErr != nil && exitOnError {
		return e.failStep(store, step, idx, runErr)
	}

	e.record(store, idx, step.Name, result)
	return nil
}

func (e *Executor) failStep(store *execcontext.Store, step *ast.Step, idx int, err error) error {
	store.Emit(events.ExecutionEvent{Type: events.EventStepFailed, Timestamp: time.Now(), RunID: store.RunID(), StepID: step.Name, StepIndex: idx, Error: err.Error()})
	return fmt.Errorf("step %q at %s: %w", step.Name, step.Pos, err)
}

// resolvePrompt resolves a step's prompt body: a raw-prompt step's literal
// text, or the content of a prompt file conventionally named after the step
// (`<step>/prompt.md` then `<step>.md`, relative to the workflow file),
// falling back to sending the bare step name itself as the prompt when
// neither file exists. No registry of procedural step implementations is
// consulted.
func (e *Executor) resolvePrompt(store *execcontext.Store, step *ast.Step) (string, error) {
	if step.IsRaw {
		return step.RawPrompt, nil
	}

	wf := store.Workflow()
	dir := "."
	if wf.SourceFile != "" {
		dir = filepath.Dir(wf.SourceFile)
	}

	candidates := []string{
		filepath.Join(dir, step.Name, "prompt.md"),
		filepath.Join(dir, step.Name+".md"),
	}
	for _, c := range candidates {
		if b, err := os.ReadFile(c); err == nil {
			return string(b), nil
		}
	}

	return step.Name, nil
}
