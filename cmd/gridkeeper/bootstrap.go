package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vergegrid/gridkeeper/internal/bootstrap"
	"github.com/vergegrid/gridkeeper/internal/dbverify"
	"github.com/vergegrid/gridkeeper/internal/store"
)

var bootstrapWait time.Duration

func newBootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Launch the Robust service once and verify the database schema",
		Long: `Launch the grid's Robust service, give the schema time to settle, and
verify that the expected MySQL tables exist. An incomplete schema earns
exactly one retry window; once the schema verifies the service is shut
down through an escalating interrupt, terminate, kill sequence.

The process exit code is the verifier's result code: 0 on success, a
distinct code per failure kind otherwise.`,
		Example: `  gridkeeper bootstrap
  gridkeeper bootstrap --wait 45s`,
		RunE: bootstrapRunE,
	}

	cmd.Flags().DurationVar(&bootstrapWait, "wait", 0, "settle time before each schema check (default from config)")

	return cmd
}

func bootstrapRunE(cmd *cobra.Command, args []string) error {
	inst, err := resolveInstall()
	if err != nil {
		return err
	}

	wait := bootstrapWait
	if wait <= 0 {
		wait = globalCfg.Bootstrap.SchemaWait()
	}

	opts := bootstrap.Options{
		InstallRoot: inst.Root,
		Checker:     dbverify.NewMySQLChecker(dbConfig(), logger),
		SchemaWait:  wait,
	}

	if !quiet {
		countdownOpen := false
		opts.OnState = func(s bootstrap.State) {
			if countdownOpen {
				fmt.Println()
				countdownOpen = false
			}
			fmt.Printf("--> %s\n", s)
		}
		opts.OnCountdown = func(s bootstrap.State, remaining time.Duration) {
			fmt.Printf("\r    %s: %s left ", s, remaining.Round(time.Second))
			countdownOpen = true
		}
	}

	rep, err := bootstrap.New(opts, logger).Run(cmd.Context())
	if rep != nil {
		recordBootstrapRun(inst.Root, rep)
	}
	if err != nil {
		return err
	}

	fmt.Println("\n=== BOOTSTRAP RESULT ===")
	fmt.Printf("Outcome: %s\n", rep.Code)
	fmt.Printf("State:   %s\n", rep.State)
	fmt.Printf("Passes:  %d\n", rep.Passes)
	fmt.Printf("Elapsed: %s\n", rep.Duration.Round(time.Second))
	printSchema(rep.Schema)
	if rep.LeftRunning {
		fmt.Printf("\nThe service was left running (pid %d). Inspect it and stop it manually.\n", rep.PID)
	}

	if rep.Code != bootstrap.CodeOK {
		return &exitError{code: int(rep.Code)}
	}
	return nil
}

// recordBootstrapRun persists one verifier invocation to the history store.
// Store trouble is logged, never allowed to mask the run outcome.
func recordBootstrapRun(root string, rep *bootstrap.Report) {
	if globalStore == nil {
		return
	}

	run := &store.BootstrapRun{
		InstallRoot: root,
		ResultCode:  int(rep.Code),
		State:       rep.State.String(),
		Passes:      rep.Passes,
		StartedAt:   rep.Started,
		FinishedAt:  rep.Started.Add(rep.Duration),
	}
	if rep.Schema != nil && len(rep.Schema.MissingCore) > 0 {
		run.SchemaMissing = strings.Join(rep.Schema.MissingCore, ",")
	}

	if err := globalStore.CreateBootstrapRun(run); err != nil {
		logger.Warn("failed to record bootstrap run", "error", err)
	}
}
