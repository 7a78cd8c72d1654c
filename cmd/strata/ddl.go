package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/strata-db/strata/internal/ddl"
	"github.com/strata-db/strata/internal/schema"
)

var ddlCmd = &cobra.Command{
	Use:   "ddl [model...]",
	Short: "Print the compiled DDL",
	Long:  "Compile the model manifest into CREATE TABLE / VIEW / SEQUENCE statements and print them",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := schema.LoadManifestFile(manifestPath)
		if err != nil {
			return err
		}

		stmts, err := ddl.NewCompiler(reg).CreateSchema(args...)
		if err != nil {
			return err
		}

		heading := color.New(color.FgCyan, color.Bold)
		for i, s := range stmts {
			heading.Printf("-- statement %d\n", i+1)
			fmt.Println(s)
			fmt.Println()
		}
		return nil
	},
}
