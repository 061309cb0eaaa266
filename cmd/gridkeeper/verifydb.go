package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vergegrid/gridkeeper/internal/dbverify"
)

var verifyDBTimeout time.Duration

func newVerifyDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-db",
		Short: "Check the grid database schema without launching anything",
		Long: `Connect to the grid database and compare its tables against the expected
Robust schema. Useful after a bootstrap failure to tell an unfinished
database initialization apart from a connection problem.`,
		Example: `  gridkeeper verify-db
  gridkeeper verify-db --timeout 10s`,
		RunE: verifyDBRun,
	}

	cmd.Flags().DurationVar(&verifyDBTimeout, "timeout", 0, "connection timeout")

	return cmd
}

func verifyDBRun(cmd *cobra.Command, args []string) error {
	cfg := dbConfig()
	if verifyDBTimeout > 0 {
		cfg.Timeout = verifyDBTimeout
	}

	res := dbverify.NewMySQLChecker(cfg, logger).Check(cmd.Context())
	printSchema(res)

	switch res.Outcome {
	case dbverify.SchemaIncomplete:
		return &exitError{code: 1}
	case dbverify.ConnectionFailed:
		return &exitError{code: 2}
	}
	return nil
}

// printSchema renders one schema check result.
func printSchema(res *dbverify.Result) {
	if res == nil {
		return
	}
	switch res.Outcome {
	case dbverify.SchemaComplete:
		fmt.Printf("Schema:  complete (%d tables, %d user accounts, %d regions)\n",
			res.Tables, res.Users, res.Regions)
		if len(res.MissingOptional) > 0 {
			fmt.Printf("         optional tables absent: %s\n", strings.Join(res.MissingOptional, ", "))
		}
	case dbverify.SchemaIncomplete:
		fmt.Printf("Schema:  incomplete, missing core tables: %s\n", strings.Join(res.MissingCore, ", "))
		if len(res.MissingOptional) > 0 {
			fmt.Printf("         optional tables absent: %s\n", strings.Join(res.MissingOptional, ", "))
		}
	case dbverify.ConnectionFailed:
		fmt.Printf("Schema:  connection failed: %v\n", res.Err)
	}
}
