// Package engine provides a public API for executing Skein workflows
// programmatically. This package lets a third-party application load a
// workflow document, wire chat providers from the environment, and drive a
// run directly, without going through the `skein` CLI.
//
// Example usage:
//
//	result, err := engine.RunWorkflow("workflow.skein.yaml",
//		engine.WithTarget("./report.md"),
//		engine.WithProgressListener(myListener),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(result.Outputs)
package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/skeinhq/skein/internal/chat"
	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/execcontext"
	"github.com/skeinhq/skein/internal/parser"
	"github.com/skeinhq/skein/internal/provider/anthropic"
	"github.com/skeinhq/skein/internal/provider/openai"
	"github.com/skeinhq/skein/internal/session"
	"github.com/skeinhq/skein/internal/tools"
	"github.com/skeinhq/skein/pkg/events"
)

// config collects the options a caller has applied to a run.
type config struct {
	target        string
	concise       bool
	verbose       bool
	record        bool
	listener      events.Listener
	logger        zerolog.Logger
	stdout        io.Writer
	registry      *tools.Registry
	clientsPatch  map[string]chat.ChatClient
}

// Option configures a RunWorkflow call.
type Option func(*config)

// WithTarget overrides the workflow document's `target` field (spec.md §6).
func WithTarget(target string) Option {
	return func(c *config) { c.target = target }
}

// WithConcise sets `workflow.concise` for the run's expression scope.
func WithConcise(concise bool) Option {
	return func(c *config) { c.concise = concise }
}

// WithVerbose sets `workflow.verbose` for the run's expression scope.
func WithVerbose(verbose bool) Option {
	return func(c *config) { c.verbose = verbose }
}

// WithProgressListener attaches a listener that receives every
// instrumentation event emitted during the run.
func WithProgressListener(listener events.Listener) Option {
	return func(c *config) { c.listener = listener }
}

// WithLogger overrides the default disabled logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithSessionRecording enables or disables writing a session under
// ./.roast/sessions/... for this run (default enabled).
func WithSessionRecording(record bool) Option {
	return func(c *config) { c.record = record }
}

// WithToolRegistry supplies the Tool Dispatcher's tool registry; without
// this option the run has no tools available to the model.
func WithToolRegistry(registry *tools.Registry) Option {
	return func(c *config) { c.registry = registry }
}

// WithChatClient overrides or adds a ChatClient for a given api_provider,
// bypassing the default environment-variable-based construction.
func WithChatClient(apiProvider string, client chat.ChatClient) Option {
	return func(c *config) {
		if c.clientsPatch == nil {
			c.clientsPatch = make(map[string]chat.ChatClient)
		}
		c.clientsPatch[apiProvider] = client
	}
}

// Result is the outcome of one workflow run.
type Result struct {
	RunID    string
	Outputs  map[string]interface{}
	Duration time.Duration
}

// RunWorkflow parses, validates, and executes a workflow document from
// disk, returning its final Output Map.
func RunWorkflow(workflowFile string, options ...Option) (*Result, error) {
	cfg := &config{record: true, stdout: io.Discard, logger: zerolog.Nop()}
	for _, opt := range options {
		opt(cfg)
	}

	wf, err := parser.ParseFile(workflowFile)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if cfg.target != "" {
		wf.Target = cfg.target
	}

	clients, err := defaultClients()
	if err != nil {
		return nil, err
	}
	for provName, client := range cfg.clientsPatch {
		clients[provName] = client
	}

	dispatcher := tools.NewDispatcher(cfg.registry)
	executor := engine.NewExecutor(clients, dispatcher, cfg.logger)

	runID := fmt.Sprintf("%s-%d", wf.Name, time.Now().UnixNano())
	sink := make(chan events.ExecutionEvent, 256)
	if cfg.listener != nil {
		cfg.listener.StartListening(sink)
		defer cfg.listener.StopListening()
	} else {
		go drain(sink)
	}

	if cfg.record {
		recorder, err := session.NewRecorder(wf.Name, time.Now().UTC().Format("20060102T150405Z"))
		if err != nil {
			return nil, fmt.Errorf("create session directory: %w", err)
		}
		executor.Recorder = recorder
	}

	opts := &execcontext.WorkflowOptions{
		File:    workflowFile,
		Verbose: cfg.verbose,
		Concise: cfg.concise,
		Target:  wf.Target,
	}
	store := execcontext.NewRoot(wf, opts, runID, sink, cfg.logger)

	start := time.Now()
	err = executor.Execute(context.Background(), store, wf.Steps)
	close(sink)

	result := &Result{
		RunID:    runID,
		Outputs:  store.AllOutputs(),
		Duration: time.Since(start),
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

func drain(sink <-chan events.ExecutionEvent) {
	for range sink {
	}
}

// defaultClients wires the openai, openrouter, and anthropic ChatClients
// from their provider-specific environment variables, the same fallbacks
// spec.md §6 names for `api_token`.
func defaultClients() (map[string]chat.ChatClient, error) {
	clients := make(map[string]chat.ChatClient)

	if c, err := openai.NewClient(openai.Config{}); err == nil {
		clients["openai"] = c
	}
	if c, err := openai.NewOpenRouterClient(openai.Config{}); err == nil {
		clients["openrouter"] = c
	}
	if c, err := anthropic.NewClient(anthropic.Config{}); err == nil {
		clients["anthropic"] = c
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no chat provider credentials found in the environment")
	}
	return clients, nil
}
