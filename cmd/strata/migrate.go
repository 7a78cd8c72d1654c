package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/strata-db/strata/internal/config"
	"github.com/strata-db/strata/internal/ddl"
	"github.com/strata-db/strata/internal/schema"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
	Long:  "Apply the compiled schema to a live database",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply the compiled schema",
	Long:  "Compile the model manifest and apply every DDL statement over the configured connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := config.GetDSN()
		if dsn == "" {
			return fmt.Errorf("no database configured\n\nExample:\n  export STRATA_DSN=\"user:password@tcp(localhost:3306)/dbname?parseTime=true\"")
		}

		reg, err := schema.LoadManifestFile(manifestPath)
		if err != nil {
			return err
		}

		stmts, err := ddl.NewCompiler(reg).CreateSchema()
		if err != nil {
			return err
		}

		db, err := sqlx.Open("mysql", dsn)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}

		for i, s := range stmts {
			if _, err := db.Exec(s); err != nil {
				return fmt.Errorf("statement %d failed: %w", i+1, err)
			}
		}

		fmt.Printf("Applied %d statements\n", len(stmts))
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
}
