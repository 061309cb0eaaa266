package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vergegrid/gridkeeper/internal/cleanup"
	"github.com/vergegrid/gridkeeper/internal/install"
	"github.com/vergegrid/gridkeeper/internal/prompt"
	"github.com/vergegrid/gridkeeper/internal/svc"
)

var cleanupMode string

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Reset or remove a grid install, optionally after a verified backup",
		Long: `Run one of the guarded maintenance flows against the detected install:

  reset           clear the contents of Logs and Downloads
  cleanup         stop and unregister the grid services, then remove the
                  component directories and the install marker
  backup-cleanup  like cleanup, but a verified backup runs first and any
                  backup failure stops everything

The destructive flows require typing DELETE at the gate. A JSON report of
every step is written to the temp directory. Exit code 0 means done, 99
means the operator declined, anything else is an error.`,
		Example: `  gridkeeper cleanup
  gridkeeper cleanup --mode reset
  gridkeeper cleanup --mode backup-cleanup`,
		RunE: cleanupRun,
	}

	cmd.Flags().StringVar(&cleanupMode, "mode", "", "reset, cleanup, or backup-cleanup (prompted when omitted)")

	return cmd
}

func cleanupRun(cmd *cobra.Command, args []string) error {
	inst, err := resolveInstall()
	if err != nil {
		if errors.Is(err, install.ErrNoInstall) {
			fmt.Println("No VergeGrid installation found; nothing to clean up.")
			return &exitError{code: cleanup.ExitDeclined}
		}
		return err
	}

	interactive := !nonInteractive && prompt.StdinIsTerminal()
	var prompter prompt.Prompter = prompt.Fixed{}
	if interactive {
		prompter = prompt.Console{}
	}

	var mode cleanup.Mode
	switch {
	case cleanupMode != "":
		mode, err = cleanup.ParseMode(cleanupMode)
		if err != nil {
			return err
		}
	case interactive:
		choice, err := prompter.Select("Cleanup action", cleanup.Modes())
		if err != nil {
			return fmt.Errorf("no cleanup mode chosen: %w", err)
		}
		mode, err = cleanup.ParseMode(choice)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("--mode is required when not running interactively")
	}

	eng := cleanup.New(cleanup.Options{
		Install:  inst,
		Services: globalCfg.Cleanup.Services,
		Control:  svc.NewController(svc.Options{}, logger),
		Prompter: prompter,
		Backup: func(ctx context.Context) error {
			_, err := runBackup(ctx, inst)
			return err
		},
	}, logger)

	rep, err := eng.Run(cmd.Context(), mode)
	if rep != nil {
		fmt.Println("\n=== CLEANUP REPORT ===")
		fmt.Printf("Action: %s\n", rep.Action)
		fmt.Printf("Status: %s\n", rep.Status)
		for _, s := range rep.Steps {
			fmt.Printf("  - %s\n", s)
		}
	}
	if err != nil {
		return &exitError{code: cleanup.ExitError, msg: err.Error()}
	}
	if code := rep.Status.ExitCode(); code != cleanup.ExitDone {
		return &exitError{code: code}
	}
	return nil
}
