package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/pkg/schema"
)

// schemaCmd prints the workflow JSON Schema and builtin function listing,
// for editors and validation tooling to introspect the DSL.
var schemaCmd = &cobra.Command{
	Use:    "schema",
	Short:  "Output the workflow JSON schema and builtin function listing",
	Long:   `Output the JSON schema for skein workflow documents, and the set of builtin functions available to expressions.`,
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		output, err := schema.Get()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error generating schema: %v\n", err)
			os.Exit(1)
			return
		}

		outputBytes, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error marshaling output: %v\n", err)
			os.Exit(1)
			return
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(outputBytes))
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
