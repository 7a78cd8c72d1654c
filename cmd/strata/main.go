package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information - will be set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// manifestPath is shared by the commands that need model metadata.
var manifestPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "strata",
		Short: "Object-relational engine for JSON-native MySQL",
		Long: `Strata persists nested, versioned domain objects into a relational
database with native JSON support. It compiles declarative model metadata
into DDL, temporal write statements and narrow-then-widen read queries.`,
	}

	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "strata-models.yml",
		"path to the model manifest")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ddlCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
