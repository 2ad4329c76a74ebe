package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skeinhq/skein/internal/parser"
	"github.com/skeinhq/skein/internal/style"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Validate workflow syntax and semantics",
	Long: `Validate skein workflow documents: YAML syntax, the step data model,
and the cross-field invariants spec.md names (unknown api_provider values,
empty shell commands, empty parallel groups, and so on).

Examples:
  skein validate workflow.skein.yaml                  # Validate a single file
  skein validate *.skein.yaml                         # Validate multiple files
  skein validate --recursive ./workflows              # Validate a directory recursively
  skein validate --output json workflow.skein.yaml    # JSON output for CI/CD`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := validateWorkflows(cmd.OutOrStdout(), args)
		if err != nil {
			os.Exit(1)
		}
	},
}

var (
	recursive bool
	showAll   bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "recursively validate files in directories")
	validateCmd.Flags().BoolVar(&showAll, "show-all", false, "show all validation results, including successful ones")
}

// ValidationResult is one file's outcome.
type ValidationResult struct {
	File     string        `json:"file" yaml:"file"`
	Valid    bool          `json:"valid" yaml:"valid"`
	Duration time.Duration `json:"duration_ms" yaml:"duration_ms"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// ValidationSummary is the combined outcome across every file validated.
type ValidationSummary struct {
	Total    int                `json:"total" yaml:"total"`
	Valid    int                `json:"valid" yaml:"valid"`
	Invalid  int                `json:"invalid" yaml:"invalid"`
	Duration time.Duration      `json:"total_duration_ms" yaml:"total_duration_ms"`
	Results  []ValidationResult `json:"results" yaml:"results"`
}

func validateWorkflows(w io.Writer, args []string) error {
	start := time.Now()

	files, err := collectFiles(args, recursive)
	if err != nil {
		style.Error(w, fmt.Sprintf("failed to collect files: %v", err))
		return err
	}

	if len(files) == 0 {
		style.Warning(w, "no workflow files found to validate")
		return nil
	}

	results := make([]ValidationResult, 0, len(files))
	for _, file := range files {
		result := validateSingleFile(file)
		results = append(results, result)

		if !viper.GetBool("quiet") && viper.GetString("output") == "text" && result.Valid && showAll {
			style.Success(w, fmt.Sprintf("%s (%v)", file, result.Duration))
		}
	}

	summary := ValidationSummary{Total: len(results), Duration: time.Since(start), Results: results}
	for _, result := range results {
		if result.Valid {
			summary.Valid++
		} else {
			summary.Invalid++
		}
	}

	switch viper.GetString("output") {
	case "json":
		style.PrintJSON(w, summary)
	case "yaml":
		style.PrintYAML(w, summary)
	default:
		printValidationSummary(w, summary)
	}

	if summary.Invalid > 0 {
		return fmt.Errorf("validation failed")
	}
	return nil
}

func validateSingleFile(filename string) ValidationResult {
	start := time.Now()
	result := ValidationResult{File: filename, Valid: true}

	_, err := parser.ParseFile(filename)
	result.Duration = time.Since(start)
	if err != nil {
		result.Valid = false
		result.Error = err.Error()
	}

	log.Debug().
		Str("file", filename).
		Bool("valid", result.Valid).
		Dur("duration", result.Duration).
		Msg("validated workflow file")

	return result
}

func collectFiles(args []string, recursive bool) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			if !recursive {
				return nil, fmt.Errorf("%s is a directory, use --recursive to validate directories", arg)
			}
			err := filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && isWorkflowFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("error walking directory %s: %w", arg, err)
			}
		} else if isWorkflowFile(arg) {
			files = append(files, arg)
		} else {
			return nil, fmt.Errorf("%s is not a skein workflow file (.skein.yaml or .skein.yml)", arg)
		}
	}

	return files, nil
}

func isWorkflowFile(filename string) bool {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)
	return (ext == ".yaml" || ext == ".yml") && strings.HasSuffix(base, ".skein")
}

func printValidationSummary(w io.Writer, summary ValidationSummary) {
	if viper.GetBool("quiet") {
		return
	}

	fmt.Fprintln(w)
	if summary.Invalid == 0 {
		style.Success(w, fmt.Sprintf("all %d workflow(s) are valid", summary.Total))
	} else {
		style.Error(w, fmt.Sprintf("%d of %d workflow(s) failed validation", summary.Invalid, summary.Total))
	}

	for _, result := range summary.Results {
		if !result.Valid {
			fmt.Fprintf(w, "  %s %s: %s\n", style.ErrorIcon(), result.File, result.Error)
		}
	}
}
