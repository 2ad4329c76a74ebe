package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skeinhq/skein/internal/ast"
	"github.com/skeinhq/skein/internal/chat"
	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/execcontext"
	"github.com/skeinhq/skein/internal/parser"
	"github.com/skeinhq/skein/internal/provider/anthropic"
	"github.com/skeinhq/skein/internal/provider/openai"
	"github.com/skeinhq/skein/internal/session"
	"github.com/skeinhq/skein/internal/style"
	"github.com/skeinhq/skein/internal/tools"
	"github.com/skeinhq/skein/pkg/events"
)

// executeCmd is the `execute <workflow.yml> [target]` command spec.md §6
// names as the CLI surface's minimum.
var executeCmd = &cobra.Command{
	Use:   "execute <workflow.yml> [target]",
	Short: "Execute a skein workflow",
	Long: `Execute a skein workflow: each step's model turn, tool call, or shell
command shares one evolving conversation, and the run's Output Map is
printed once every step has completed.

The optional positional [target] overrides the workflow document's target
field (a path, glob, URL, JSON fetch spec, or $(cmd)).`,
	Example: `
  skein execute workflow.skein.yaml                   # Run with the workflow's own target
  skein execute workflow.skein.yaml ./report.md       # Run against an explicit target
  skein execute workflow.skein.yaml -o out.json       # Redirect final output to a file
  skein execute workflow.skein.yaml -r abc123:summarize # Resume from a recorded step`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		outputFile, _ := cmd.Flags().GetString("output")
		concise, _ := cmd.Flags().GetBool("concise")
		replay, _ := cmd.Flags().GetString("replay")
		targetFlag, _ := cmd.Flags().GetString("target")

		target := targetFlag
		if target == "" && len(args) > 1 {
			target = args[1]
		}

		exitCode := runExecute(cmd, args[0], target, outputFile, concise, replay)
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	},
}

func init() {
	rootCmd.AddCommand(executeCmd)

	executeCmd.Flags().StringP("output", "o", "", "redirect final output to a file instead of stdout")
	executeCmd.Flags().BoolP("concise", "c", false, "set workflow.concise = true")
	executeCmd.Flags().StringP("replay", "r", "", "resume from a recorded step: [session_id:]step_name")
	executeCmd.Flags().StringP("target", "t", "", "override the workflow's target")
}

// Exit codes, per spec.md §6.
const (
	exitOK            = 0
	exitWorkflowError = 1
	exitConfigError   = 2
	exitCancelled     = 130
)

func runExecute(cmd *cobra.Command, workflowFile, target, outputFile string, concise bool, replay string) int {
	wf, err := parser.ParseFile(workflowFile)
	if err != nil {
		style.Error(cmd.ErrOrStderr(), fmt.Sprintf("configuration error: %v", err))
		return exitConfigError
	}
	if target != "" {
		wf.Target = target
	}

	clients, err := buildClients()
	if err != nil {
		style.Error(cmd.ErrOrStderr(), fmt.Sprintf("configuration error: %v", err))
		return exitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	cancelled := false
	go func() {
		<-sigChan
		log.Info().Msg("received interrupt signal, shutting down gracefully...")
		cancelled = true
		cancel()
	}()

	dispatcher := tools.NewDispatcher(tools.NewRegistry())
	executor := engine.NewExecutor(clients, dispatcher, log.Logger)

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	recorder, err := session.NewRecorder(wf.Name, timestamp)
	if err != nil {
		style.Error(cmd.ErrOrStderr(), fmt.Sprintf("failed to create session directory: %v", err))
		return exitConfigError
	}
	executor.Recorder = recorder

	opts := &execcontext.WorkflowOptions{
		File:    workflowFile,
		Verbose: viper.GetBool("verbose"),
		Concise: concise,
		Target:  wf.Target,
	}

	runID := fmt.Sprintf("%s-%s", wf.Name, timestamp)
	sink := make(chan events.ExecutionEvent, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sink {
			printEvent(cmd, ev, opts.Verbose)
		}
	}()

	store := execcontext.NewRoot(wf, opts, runID, sink, log.Logger)

	steps := wf.Steps
	if replay != "" {
		resumeSteps, replayErr := applyReplay(store, wf, replay)
		if replayErr != nil {
			style.Error(cmd.ErrOrStderr(), fmt.Sprintf("replay mismatch: %v", replayErr))
			return exitConfigError
		}
		steps = resumeSteps
	}

	start := time.Now()
	runErr := executor.Execute(ctx, store, steps)
	close(sink)
	<-done

	if cancelled {
		style.Error(cmd.ErrOrStderr(), "workflow cancelled")
		return exitCancelled
	}
	if runErr != nil {
		style.Error(cmd.ErrOrStderr(), runErr.Error())
		return exitWorkflowError
	}

	printOutputs(cmd, outputFile, store.AllOutputs(), time.Since(start))
	return exitOK
}

// buildClients wires the openai, openrouter, and anthropic ChatClients from
// their provider-specific environment variables (spec.md §6).
func buildClients() (map[string]chat.ChatClient, error) {
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
		return nil, fmt.Errorf("no chat provider credentials found (set OPENAI_API_KEY, OPENROUTER_API_KEY, or ANTHROPIC_API_KEY)")
	}
	return clients, nil
}

// applyReplay loads a recorded session, verifies the recorded step-name
// sequence up to the resume point still matches the live workflow, seeds
// the Store with the recorded Output Map entries for every step before it,
// and returns the live step slice execution should resume from.
func applyReplay(store *execcontext.Store, wf_ *ast.Workflow, replay string) ([]*ast.Step, error) {
	sessionID, stepName := "", replay
	if idx := strings.Index(replay, ":"); idx >= 0 {
		sessionID, stepName = replay[:idx], replay[idx+1:]
	}

	dir := sessionDir(wf_.Name, sessionID)
	sess, err := session.Load(dir)
	if err != nil {
		return nil, err
	}

	var resumeIndex = -1
	var recordedNames []string
	for i, rec := range sess.Records {
		recordedNames = append(recordedNames, rec.Name)
		if rec.Name == stepName {
			resumeIndex = i
		}
	}
	if resumeIndex < 0 {
		return nil, fmt.Errorf("step %q not found in recorded session", stepName)
	}

	liveNames := make([]string, 0, len(wf_.Steps))
	for _, s := range wf_.Steps {
		liveNames = append(liveNames, s.Name)
	}

	prefixLen := resumeIndex
	if prefixLen > len(recordedNames) {
		prefixLen = len(recordedNames)
	}
	if prefixLen > len(liveNames) {
		prefixLen = len(liveNames)
	}
	if err := session.CheckSequence(recordedNames[:prefixLen], liveNames[:prefixLen]); err != nil {
		return nil, err
	}

	for _, rec := range sess.Records[:resumeIndex] {
		value := rec.Result
		if envelope, ok := rec.Result.(map[string]interface{}); ok {
			if structured, ok := envelope["structured"]; ok {
				value = structured
			} else {
				value, _ = envelope["raw_response"].(string)
			}
		}
		store.Record(rec.Name, value)
	}

	if resumeIndex >= len(wf_.Steps) {
		return nil, nil
	}
	return wf_.Steps[resumeIndex:], nil
}

// sessionDir resolves which recorded session directory to replay from: an
// explicit session_id (a timestamp directory name), or, if none was given,
// the session directory for this workflow whose name sorts last.
func sessionDir(workflowName, sessionID string) string {
	root := filepath.Join(session.SessionsRoot, workflowName)
	if sessionID != "" {
		return filepath.Join(root, sessionID)
	}

	entries, err := os.ReadDir(root)
	if err != nil || len(entries) == 0 {
		return root
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() > entries[j].Name() })
	return filepath.Join(root, entries[0].Name())
}

func printEvent(cmd *cobra.Command, ev events.ExecutionEvent, verbose bool) {
	if viper.GetBool("quiet") {
		return
	}
	switch ev.Type {
	case events.EventStepStarted:
		if verbose {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", style.InfoIcon(), ev.StepID)
		}
	case events.EventStepFailed:
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %s\n", style.ErrorIcon(), ev.StepID, ev.Error)
	case events.EventStepSkipped:
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s skipped: %s\n", style.WarningIcon(), ev.StepID, ev.Error)
	case events.EventRepeatExhausted:
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: repeat exhausted after %d iterations\n", style.WarningIcon(), ev.StepID, ev.Attempt)
	case events.EventParallelOutputConflict:
		fmt.Fprintf(cmd.OutOrStdout(), "%s parallel group step %q writes a duplicate output key\n", style.WarningIcon(), ev.StepID)
	}
}

func printOutputs(cmd *cobra.Command, outputFile string, outputs map[string]interface{}, duration time.Duration) {
	w := cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			style.Error(cmd.ErrOrStderr(), fmt.Sprintf("failed to open output file: %v", err))
		} else {
			defer f.Close()
			w = f
		}
	}

	switch viper.GetString("output") {
	case "json":
		style.PrintJSON(w, outputs)
		return
	case "yaml":
		style.PrintYAML(w, outputs)
		return
	}

	if viper.GetBool("quiet") {
		return
	}

	fmt.Fprintf(w, "\n%s Workflow completed %s (%.2fs)\n", style.SuccessIcon(), style.SuccessString("successfully"), duration.Seconds())

	if len(outputs) == 0 {
		return
	}
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Outputs"))
	b.WriteString("\n\n")
	for _, k := range keys {
		b.WriteString(lipgloss.NewStyle().Bold(true).Render(k))
		b.WriteString(fmt.Sprintf(": %v\n", outputs[k]))
	}
	fmt.Fprint(w, b.String())
}
