package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkflowYAML = `
name: test-workflow
target: "."
steps:
  - say_hello: $(echo hello)
`

const simpleWorkflowYAML = `
name: simple-workflow
target: "."
steps:
  - greet: $(echo hi)
`

// findAvailablePort finds an available port for testing
func findAvailablePort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 8080
	}
	defer func() { _ = listener.Close() }()
	return listener.Addr().(*net.TCPAddr).Port
}

type ServerTestSuite struct {
	server        *Server
	tempDir       string
	workflowFiles []string
	config        *Config
}

func setupTestSuite(t *testing.T) *ServerTestSuite {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

	tempDir, err := os.MkdirTemp("", "skein-server-test-*")
	require.NoError(t, err)

	testWorkflowFile := filepath.Join(tempDir, "test-workflow.skein.yaml")
	err = os.WriteFile(testWorkflowFile, []byte(testWorkflowYAML), 0644)
	require.NoError(t, err)

	simpleWorkflowFile := filepath.Join(tempDir, "simple-workflow.skein.yaml")
	err = os.WriteFile(simpleWorkflowFile, []byte(simpleWorkflowYAML), 0644)
	require.NoError(t, err)

	workflowFiles := []string{testWorkflowFile, simpleWorkflowFile}

	testPort := findAvailablePort()

	config := &Config{
		Host:          "127.0.0.1",
		Port:          testPort,
		Concurrency:   2,
		Timeout:       30 * time.Second,
		EnableMetrics: true,
		EnableCORS:    true,
		WorkflowFiles: workflowFiles,
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		IdleTimeout:   30 * time.Second,
	}

	server, err := New(config)
	require.NoError(t, err)

	server.manager = NewExecutionManagerWithRegistry(config.Concurrency, nil)

	err = server.LoadWorkflows()
	require.NoError(t, err)

	return &ServerTestSuite{
		server:        server,
		tempDir:       tempDir,
		workflowFiles: workflowFiles,
		config:        config,
	}
}

func (suite *ServerTestSuite) cleanup(_ *testing.T) {
	if suite.server.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = suite.server.Stop(ctx)
	}
	_ = os.RemoveAll(suite.tempDir)
}

func (suite *ServerTestSuite) startServerInBackground(t *testing.T) string {
	err := suite.server.Start()
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	return suite.server.GetAddr()
}

func TestServerIntegration_StartupAndShutdown(t *testing.T) {
	suite := setupTestSuite(t)
	defer suite.cleanup(t)

	assert.NotNil(t, suite.server)
	assert.Equal(t, 2, suite.server.GetWorkflowCount())

	addr := suite.startServerInBackground(t)
	assert.Contains(t, addr, "127.0.0.1:")

	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	err = json.NewDecoder(resp.Body).Decode(&health)
	require.NoError(t, err)

	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(2), health["workflows_loaded"])
	assert.Equal(t, float64(0), health["active_executions"])
}

func TestServerIntegration_ListWorkflows(t *testing.T) {
	suite := setupTestSuite(t)
	defer suite.cleanup(t)

	addr := suite.startServerInBackground(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/workflows", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var result map[string]any
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)

	workflows, ok := result["workflows"].(map[string]any)
	if !ok {
		t.Fatalf("workflows is not a map[string]any: %T", result["workflows"])
	}
	assert.Len(t, workflows, 2)

	testWorkflow, ok := workflows["test-workflow"].(map[string]any)
	if !ok {
		t.Fatalf("test-workflow not found or wrong type: %+v", workflows)
	}
	assert.Equal(t, "test-workflow", testWorkflow["name"])
	assert.Equal(t, float64(1), testWorkflow["steps"])

	simpleWorkflow, ok := workflows["simple-workflow"].(map[string]any)
	if !ok {
		t.Fatalf("simple-workflow not found or wrong type: %+v", workflows)
	}
	assert.Equal(t, "simple-workflow", simpleWorkflow["name"])
}

func TestServerIntegration_ExecuteWorkflow_NotFound(t *testing.T) {
	suite := setupTestSuite(t)
	defer suite.cleanup(t)

	addr := suite.startServerInBackground(t)

	resp, err := http.Post(
		fmt.Sprintf("http://%s/api/v1/workflows/non-existent/execute", addr),
		"application/json",
		bytes.NewReader([]byte(`{}`)),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	responseBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(responseBody), "workflow 'non-existent' not found")
}

func TestServerIntegration_ExecuteWorkflow_BadJSON(t *testing.T) {
	suite := setupTestSuite(t)
	defer suite.cleanup(t)

	addr := suite.startServerInBackground(t)

	resp, err := http.Post(
		fmt.Sprintf("http://%s/api/v1/workflows/test-workflow/execute", addr),
		"application/json",
		strings.NewReader("{invalid json}"),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	responseBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(responseBody), "invalid JSON")
}

func TestServerIntegration_ExecuteWorkflow_Success(t *testing.T) {
	suite := setupTestSuite(t)
	defer suite.cleanup(t)

	addr := suite.startServerInBackground(t)

	reqBody := map[string]any{"target": "."}
	body, _ := json.Marshal(reqBody)

	resp, err := http.Post(
		fmt.Sprintf("http://%s/api/v1/workflows/test-workflow/execute", addr),
		"application/json",
		bytes.NewReader(body),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var result map[string]any
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)

	assert.Contains(t, result, "run_id")
	assert.Equal(t, "test-workflow", result["workflow_id"])
	assert.Equal(t, "running", result["status"])
	assert.Contains(t, result, "started_at")

	runID := result["run_id"].(string)
	assert.NotEmpty(t, runID)

	time.Sleep(200 * time.Millisecond)

	resp, err = http.Get(fmt.Sprintf("http://%s/api/v1/executions/%s", addr, runID))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var execution ExecutionStatus
	err = json.NewDecoder(resp.Body).Decode(&execution)
	require.NoError(t, err)

	assert.Equal(t, runID, execution.RunID)
	assert.Equal(t, "test-workflow", execution.WorkflowID)
	assert.Contains(t, []string{"running", "completed", "failed"}, execution.Status)
	assert.NotEmpty(t, execution.StartTime)
}

func TestServerIntegration_GetExecution_NotFound(t *testing.T) {
	suite := setupTestSuite(t)
	defer suite.cleanup(t)

	addr := suite.startServerInBackground(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/executions/non-existent-run-id", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	responseBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(responseBody), "execution 'non-existent-run-id' not found")
}

func TestServerIntegration_ConcurrencyLimit(t *testing.T) {
	suite := setupTestSuite(t)
	defer suite.cleanup(t)

	suite.config.Concurrency = 1
	suite.server.manager = NewExecutionManagerWithRegistry(1, nil)

	addr := suite.startServerInBackground(t)

	body, _ := json.Marshal(map[string]any{})

	resp1, err := http.Post(
		fmt.Sprintf("http://%s/api/v1/workflows/simple-workflow/execute", addr),
		"application/json",
		bytes.NewReader(body),
	)
	require.NoError(t, err)
	defer resp1.Body.Close()

	assert.Equal(t, http.StatusOK, resp1.StatusCode)

	resp2, err := http.Post(
		fmt.Sprintf("http://%s/api/v1/workflows/simple-workflow/execute", addr),
		"application/json",
		bytes.NewReader(body),
	)
	require.NoError(t, err)
	defer resp2.Body.Close()

	if resp2.StatusCode == http.StatusServiceUnavailable {
		responseBody, err := io.ReadAll(resp2.Body)
		require.NoError(t, err)
		assert.Contains(t, string(responseBody), "server at capacity")
	}
}

func TestServerIntegration_WebSocketStream_NotFound(t *testing.T) {
	suite := setupTestSuite(t)
	defer suite.cleanup(t)

	addr := suite.startServerInBackground(t)

	wsURL := fmt.Sprintf("ws://%s/api/v1/workflows/test-workflow/stream?run_id=non-existent", addr)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if conn != nil {
		conn.Close()
	}
	assert.Error(t, err)
}

func TestServerIntegration_WebSocketStream_MissingRunID(t *testing.T) {
	suite := setupTestSuite(t)
	defer suite.cleanup(t)

	addr := suite.startServerInBackground(t)

	wsURL := fmt.Sprintf("ws://%s/api/v1/workflows/test-workflow/stream", addr)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if conn != nil {
		conn.Close()
	}
	assert.Error(t, err)
}

func TestServerIntegration_CORS_Headers(t *testing.T) {
	suite := setupTestSuite(t)
	defer suite.cleanup(t)

	addr := suite.startServerInBackground(t)

	req, err := http.NewRequest("OPTIONS", fmt.Sprintf("http://%s/api/v1/workflows", addr), nil)
	require.NoError(t, err)

	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	client := &http.Client{}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestServerIntegration_PrometheusMetrics(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

	tempDir, err := os.MkdirTemp("", "skein-metrics-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	testWorkflowFile := filepath.Join(tempDir, "test-workflow.skein.yaml")
	err = os.WriteFile(testWorkflowFile, []byte(testWorkflowYAML), 0644)
	require.NoError(t, err)

	config := &Config{
		Host:          "127.0.0.1",
		Port:          findAvailablePort(),
		Concurrency:   2,
		Timeout:       30 * time.Second,
		EnableMetrics: true,
		EnableCORS:    true,
		WorkflowFiles: []string{testWorkflowFile},
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		IdleTimeout:   30 * time.Second,
	}

	server, err := New(config)
	require.NoError(t, err)

	err = server.LoadWorkflows()
	require.NoError(t, err)

	err = server.Start()
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	addr := server.GetAddr()

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	responseBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	metricsText := string(responseBody)

	assert.Contains(t, metricsText, "skein_executions_total")
	assert.Contains(t, metricsText, "skein_executions_active")
}

func TestServerIntegration_WorkflowDirectory(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

	tempDir, err := os.MkdirTemp("", "skein-server-dir-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	err = os.WriteFile(filepath.Join(tempDir, "dir-workflow.skein.yaml"), []byte(simpleWorkflowYAML), 0644)
	require.NoError(t, err)

	config := &Config{
		Host:          "127.0.0.1",
		Port:          findAvailablePort(),
		Concurrency:   2,
		Timeout:       30 * time.Second,
		EnableMetrics: false,
		EnableCORS:    true,
		WorkflowDir:   tempDir,
	}

	server, err := New(config)
	require.NoError(t, err)

	server.manager = NewExecutionManagerWithRegistry(config.Concurrency, nil)

	err = server.LoadWorkflows()
	require.NoError(t, err)

	assert.Equal(t, 1, server.GetWorkflowCount())

	workflows := server.registry.List()
	assert.Contains(t, workflows, "dir-workflow")
}

func TestServerIntegration_InvalidWorkflowFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

	tempDir, err := os.MkdirTemp("", "skein-server-invalid-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	invalidWorkflow := `invalid: yaml: content: [[[`
	err = os.WriteFile(filepath.Join(tempDir, "invalid.skein.yaml"), []byte(invalidWorkflow), 0644)
	require.NoError(t, err)

	config := &Config{
		Host:        "127.0.0.1",
		Port:        findAvailablePort(),
		WorkflowDir: tempDir,
	}

	server, err := New(config)
	require.NoError(t, err)

	err = server.LoadWorkflows()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse workflow")
}

func TestServerIntegration_EmptyWorkflowList(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

	config := &Config{
		Host:          "127.0.0.1",
		Port:          findAvailablePort(),
		WorkflowFiles: []string{},
	}

	server, err := New(config)
	require.NoError(t, err)

	err = server.LoadWorkflows()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no workflow files specified")
}
