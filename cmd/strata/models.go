package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/strata-db/strata/internal/schema"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the registered models",
	Long:  "Load the model manifest and print every model with its fields and tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := schema.LoadManifestFile(manifestPath)
		if err != nil {
			return err
		}

		names := reg.List()
		sort.Strings(names)

		name := color.New(color.FgGreen, color.Bold)
		attr := color.New(color.FgYellow)
		for _, n := range names {
			m, _ := reg.Get(n)

			name.Printf("%s", m.Name)
			fmt.Printf(" (table %s", m.TableName)
			if m.Versioned {
				fmt.Print(", versioned")
			}
			if m.Dated {
				fmt.Print(", dated")
			}
			if m.IsPart {
				fmt.Print(", part")
			}
			if m.Shared {
				fmt.Print(", shared")
			}
			fmt.Println(")")

			for _, f := range m.Fields {
				fmt.Printf("  %-20s %-10s", f.Name, f.Kind)
				if f.Tags != 0 {
					attr.Printf(" %s", f.Tags)
				}
				if f.TargetModel != "" {
					fmt.Printf(" -> %s", f.TargetModel)
					if f.TargetField != "" {
						fmt.Printf(".%s", f.TargetField)
					}
				}
				fmt.Println()
			}
			for _, p := range m.Parts {
				fmt.Printf("  %-20s part of %s at %s\n", p.Field, p.Model, p.Path)
			}
			fmt.Println()
		}
		return nil
	},
}
