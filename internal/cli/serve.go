package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skeinhq/skein/internal/server"
	"github.com/skeinhq/skein/internal/style"
)

var (
	// Serve command flags
	servePort        int
	serveHost        string
	serveConcurrency int
	serveTimeout     time.Duration
	serveWorkflows   []string
	serveWorkflowDir string
	serveMetrics     bool
	serveCORS        bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve [workflow files...]",
	Short: "Start an HTTP server for workflow execution",
	Long: `Start an HTTP server that executes skein workflows over a REST API:
POST /api/v1/workflows/{id}/execute to start a run, GET
/api/v1/executions/{runId} to poll its status, and a WebSocket stream at
/api/v1/workflows/{id}/stream for live progress events. Optional Prometheus
metrics are served at /metrics.

Examples:
  skein serve workflow.skein.yaml                     # serve a single workflow
  skein serve a.skein.yaml b.skein.yaml                # serve multiple workflows
  skein serve --workflow-dir ./workflows               # serve every workflow in a directory
  skein serve --port 8080 --host 0.0.0.0               # custom host and port
  skein serve --concurrency 10 workflow.skein.yaml     # allow 10 concurrent executions`,
	Run: func(cmd *cobra.Command, args []string) {
		workflowFiles := args
		if serveWorkflowDir != "" {
			dirFiles, err := findWorkflowFiles(serveWorkflowDir)
			if err != nil {
				style.Error(cmd.ErrOrStderr(), fmt.Sprintf("failed to scan workflow directory: %v", err))
				os.Exit(1)
			}
			workflowFiles = append(workflowFiles, dirFiles...)
		}
		workflowFiles = append(workflowFiles, serveWorkflows...)

		if len(workflowFiles) == 0 {
			style.Error(cmd.ErrOrStderr(), "no workflow files specified, use arguments or --workflow-dir")
			os.Exit(1)
		}

		startServer(cmd, workflowFiles)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "server port")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVar(&serveConcurrency, "concurrency", 5, "maximum concurrent executions")
	serveCmd.Flags().DurationVar(&serveTimeout, "timeout", 30*time.Minute, "default execution timeout")

	// Workflow specification
	serveCmd.Flags().StringSliceVarP(&serveWorkflows, "workflow", "w", []string{}, "workflow files to serve")
	serveCmd.Flags().StringVar(&serveWorkflowDir, "workflow-dir", "", "directory containing workflow files")

	// Features
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", true, "enable Prometheus metrics endpoint")
	serveCmd.Flags().BoolVar(&serveCORS, "cors", true, "enable CORS headers")
}

func startServer(cmd *cobra.Command, workflowFiles []string) {
	config := &server.Config{
		Host:          serveHost,
		Port:          servePort,
		Concurrency:   serveConcurrency,
		Timeout:       serveTimeout,
		EnableMetrics: serveMetrics,
		EnableCORS:    serveCORS,
		WorkflowFiles: workflowFiles,
		WorkflowDir:   serveWorkflowDir,
	}

	srv, err := server.New(config)
	if err != nil {
		style.Error(cmd.ErrOrStderr(), fmt.Sprintf("failed to create server: %v", err))
		os.Exit(1)
	}

	if err := srv.LoadWorkflows(); err != nil {
		style.Error(cmd.ErrOrStderr(), fmt.Sprintf("failed to load workflows: %v", err))
		os.Exit(1)
	}

	if !viper.GetBool("quiet") {
		w := cmd.OutOrStdout()
		style.Success(w, fmt.Sprintf("skein server starting at http://%s", srv.GetAddr()))
		fmt.Fprintf(w, "loaded workflows: %d\n", srv.GetWorkflowCount())
		fmt.Fprintf(w, "api: http://%s/api/v1/workflows\n", srv.GetAddr())
		if serveMetrics {
			fmt.Fprintf(w, "metrics: http://%s/metrics\n", srv.GetAddr())
		}
	}

	if err := srv.StartWithGracefulShutdown(); err != nil {
		style.Error(cmd.ErrOrStderr(), fmt.Sprintf("server error: %v", err))
		os.Exit(1)
	}
}

// findWorkflowFiles finds workflow files in a directory
func findWorkflowFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && (strings.HasSuffix(path, ".skein.yaml") || strings.HasSuffix(path, ".skein.yml")) {
			files = append(files, path)
		}

		return nil
	})

	return files, err
}
