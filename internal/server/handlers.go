package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skeinhq/skein/internal/ast"
	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/execcontext"
	"github.com/skeinhq/skein/pkg/events"
)

// HTTP Handlers

// listWorkflows returns all available workflows
func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows := make(map[string]any)

	for _, id := range s.registry.List() {
		workflow, _ := s.registry.Get(id)
		workflows[id] = map[string]any{
			"name":   workflow.Name,
			"model":  workflow.Model,
			"target": workflow.Target,
			"steps":  len(workflow.Steps),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"workflows": workflows,
	})
}

// executeWorkflow starts a workflow execution
func (s *Server) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workflowID := vars["id"]

	workflow, exists := s.registry.Get(workflowID)
	if !exists {
		http.Error(w, fmt.Sprintf("workflow '%s' not found", workflowID), http.StatusNotFound)
		return
	}

	if !s.manager.CanStartExecution() {
		http.Error(w, "server at capacity, try again later", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Target  string `json:"target"`
		Concise bool   `json:"concise"`
	}

	if r.Body != nil {
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil && err.Error() != "EOF" {
			http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
			return
		}
	}

	target := workflow.Target
	if req.Target != "" {
		target = req.Target
	}

	ctx, cancel := context.WithCancel(context.Background())

	runID := fmt.Sprintf("%s-%d", workflowID, time.Now().UnixNano())
	status := s.manager.StartExecution(runID, workflowID, cancel, target)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"run_id":      runID,
		"workflow_id": workflowID,
		"status":      "running",
		"started_at":  status.StartTime,
	})

	go s.executeWorkflowAsync(ctx, workflow, runID, workflowID, target, req.Concise)
}

// executeWorkflowAsync executes a workflow in the background, forwarding
// every emitted event into the execution manager so streamWorkflow clients
// observe it live.
func (s *Server) executeWorkflowAsync(ctx context.Context, workflow *ast.Workflow, runID, workflowID, target string, concise bool) {
	opts := &execcontext.WorkflowOptions{
		File:    workflow.SourceFile,
		Target:  target,
		Concise: concise,
	}

	sink := make(chan events.ExecutionEvent, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sink {
			s.manager.AddProgressEvent(runID, ev)
		}
	}()

	store := execcontext.NewRoot(workflow, opts, runID, sink, log.Logger)

	dispatcher := newDispatcher()
	executor := engine.NewExecutor(s.clients, dispatcher, log.Logger)

	runErr := executor.Execute(ctx, store, workflow.Steps)
	close(sink)
	<-done

	var outputs map[string]any
	if runErr == nil {
		outputs = store.AllOutputs()
	}

	s.manager.FinishExecution(runID, outputs, runErr)

	log.Info().
		Str("run_id", runID).
		Str("workflow_id", workflowID).
		Err(runErr).
		Msg("workflow execution completed")
}

// getExecution returns the status of a specific execution
func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["runId"]

	status, exists := s.manager.GetExecution(runID)
	if !exists {
		http.Error(w, fmt.Sprintf("execution '%s' not found", runID), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// streamWorkflow provides WebSocket streaming for workflow execution
func (s *Server) streamWorkflow(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id query parameter required", http.StatusBadRequest)
		return
	}

	status, exists := s.manager.GetExecution(runID)
	if !exists {
		http.Error(w, fmt.Sprintf("execution '%s' not found", runID), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	status.clientsMu.Lock()
	status.clients[conn] = true
	status.clientsMu.Unlock()

	for _, event := range status.Progress {
		eventJSON, _ := json.Marshal(event)
		_ = conn.WriteMessage(websocket.TextMessage, eventJSON)
	}

	if status.Status != "running" {
		finalEvent := events.ExecutionEvent{
			Type:      events.EventWorkflowCompleted,
			Timestamp: time.Now(),
			RunID:     runID,
		}
		if status.Status == "failed" {
			finalEvent.Type = events.EventWorkflowFailed
			finalEvent.Error = status.Error
		}
		eventJSON, _ := json.Marshal(finalEvent)
		_ = conn.WriteMessage(websocket.TextMessage, eventJSON)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}

		status, exists := s.manager.GetExecution(runID)
		if !exists || status.Status != "running" {
			break
		}
	}

	status.clientsMu.Lock()
	delete(status.clients, conn)
	status.clientsMu.Unlock()
}

// healthCheck returns server health status
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":            "healthy",
		"workflows_loaded":  s.registry.Count(),
		"active_executions": s.manager.GetActiveExecutions(),
		"timestamp":         time.Now(),
	})
}
