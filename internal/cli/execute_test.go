package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/internal/execcontext"
	"github.com/skeinhq/skein/internal/parser"
	"github.com/skeinhq/skein/pkg/events"
)

const executeTestWorkflow = `
name: execute-test
target: "."
steps:
  - say_hello: $(echo hello)
`

func testCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	cmd := &cobra.Command{Use: "test"}
	var out, errBuf bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errBuf)
	return cmd, &out, &errBuf
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
	return dir
}

func TestRunExecute_Success(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
	dir := chdirTemp(t)
	path := writeWorkflow(t, dir, "ok.skein.yaml", executeTestWorkflow)

	cmd, out, errBuf := testCommand()
	code := runExecute(cmd, path, "", "", false, "")

	assert.Equal(t, exitOK, code)
	assert.Empty(t, errBuf.String())
	assert.Contains(t, out.String(), "Workflow completed")
}

func TestRunExecute_ConfigErrorOnBadFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
	cmd, _, errBuf := testCommand()

	code := runExecute(cmd, filepath.Join(t.TempDir(), "missing.skein.yaml"), "", "", false, "")

	assert.Equal(t, exitConfigError, code)
	assert.Contains(t, errBuf.String(), "configuration error")
}

func TestRunExecute_NoCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	dir := chdirTemp(t)
	path := writeWorkflow(t, dir, "ok.skein.yaml", executeTestWorkflow)

	cmd, _, errBuf := testCommand()
	code := runExecute(cmd, path, "", "", false, "")

	assert.Equal(t, exitConfigError, code)
	assert.Contains(t, errBuf.String(), "no chat provider credentials found")
}

func TestRunExecute_TargetOverride(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
	dir := chdirTemp(t)
	path := writeWorkflow(t, dir, "ok.skein.yaml", executeTestWorkflow)

	cmd, out, _ := testCommand()
	code := runExecute(cmd, path, "./somewhere-else", "", false, "")

	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "Workflow completed")
}

func TestBuildClients_NoCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	clients, err := buildClients()
	assert.Nil(t, clients)
	assert.Error(t, err)
}

func TestBuildClients_WithAnthropicKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

	clients, err := buildClients()
	require.NoError(t, err)
	assert.Contains(t, clients, "anthropic")
}

func TestPrintOutputs_ToBuffer(t *testing.T) {
	cmd, out, _ := testCommand()
	viper.Set("output", "text")
	viper.Set("quiet", false)
	defer viper.Reset()

	printOutputs(cmd, "", map[string]interface{}{"summary": "ok"}, 0)

	assert.Contains(t, out.String(), "Outputs")
	assert.Contains(t, out.String(), "summary")
}

func TestPrintOutputs_Quiet(t *testing.T) {
	cmd, out, _ := testCommand()
	viper.Set("output", "text")
	viper.Set("quiet", true)
	defer viper.Reset()

	printOutputs(cmd, "", map[string]interface{}{"summary": "ok"}, 0)

	assert.Empty(t, out.String())
}

func TestPrintOutputs_JSON(t *testing.T) {
	cmd, out, _ := testCommand()
	viper.Set("output", "json")
	defer viper.Reset()

	printOutputs(cmd, "", map[string]interface{}{"summary": "ok"}, 0)

	assert.Contains(t, out.String(), `"summary"`)
}

func TestPrintOutputs_ToFile(t *testing.T) {
	cmd, _, _ := testCommand()
	viper.Set("output", "text")
	viper.Set("quiet", false)
	defer viper.Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	printOutputs(cmd, path, map[string]interface{}{"summary": "ok"}, 0)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "summary")
}

func TestPrintEvent_QuietSuppressesOutput(t *testing.T) {
	cmd, _, errBuf := testCommand()
	viper.Set("quiet", true)
	defer viper.Reset()

	printEvent(cmd, events.ExecutionEvent{Type: events.EventStepFailed, StepID: "step1", Error: "boom"}, false)

	assert.Empty(t, errBuf.String())
}

func TestPrintEvent_StepFailed(t *testing.T) {
	cmd, _, errBuf := testCommand()
	viper.Set("quiet", false)
	defer viper.Reset()

	printEvent(cmd, events.ExecutionEvent{Type: events.EventStepFailed, StepID: "step1", Error: "boom"}, false)

	assert.Contains(t, errBuf.String(), "step1")
	assert.Contains(t, errBuf.String(), "boom")
}

func TestSessionDir_ExplicitID(t *testing.T) {
	dir := sessionDir("wf", "20260101T000000Z")
	assert.Contains(t, dir, "wf")
	assert.Contains(t, dir, "20260101T000000Z")
}

func TestSessionDir_LatestWhenEmpty(t *testing.T) {
	dir := chdirTemp(t)
	_ = dir

	got := sessionDir("nonexistent-workflow", "")
	assert.Contains(t, got, "nonexistent-workflow")
}

func TestApplyReplay_StepNotFound(t *testing.T) {
	dir := chdirTemp(t)
	path := writeWorkflow(t, dir, "ok.skein.yaml", executeTestWorkflow)
	wf, err := parser.ParseFile(path)
	require.NoError(t, err)

	sink := make(chan events.ExecutionEvent, 1)
	store := execcontext.NewRoot(wf, &execcontext.WorkflowOptions{}, "run", sink, log.Logger)
	close(sink)

	_, err = applyReplay(store, wf, "missing-step")
	assert.Error(t, err)
}
