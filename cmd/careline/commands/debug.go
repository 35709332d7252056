package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/careline-ai/careline/internal/config"
	"github.com/careline-ai/careline/internal/ledger"
	"github.com/careline-ai/careline/internal/session"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting careline configuration and setup.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

var debugLedgerPath string

var debugReplayCmd = &cobra.Command{
	Use:   "replay <session-id>",
	Short: "Fold a session's ledger events back into its final state",
	Long: `Fold a session's ledger events back into its final state, verifying
sequence continuity and phase-transition legality along the way. A stream
that fails verification is reported, not trusted.

The server must not hold the ledger open at the same time.`,
	Args: cobra.ExactArgs(1),
	RunE: runDebugReplay,
}

func init() {
	debugReplayCmd.Flags().StringVar(&debugLedgerPath, "ledger", "", "Ledger path (defaults to the configured path)")

	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
	debugCmd.AddCommand(debugReplayCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(appConfig, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()

	fmt.Println("Careline System Paths:")
	fmt.Println()
	fmt.Printf("  Config:   %s\n", paths.Config)
	fmt.Printf("  Data:     %s\n", paths.Data)
	fmt.Printf("  Cache:    %s\n", paths.Cache)
	fmt.Printf("  State:    %s\n", paths.State)
	fmt.Printf("  Storage:  %s\n", paths.StoragePath())
	fmt.Printf("  Ledger:   %s\n", paths.LedgerPath())
	fmt.Printf("  Archive:  %s\n", paths.ArchivePath())

	return nil
}

func runDebugReplay(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	ledgerCfg := appConfig.Ledger
	if debugLedgerPath != "" {
		ledgerCfg.Path = debugLedgerPath
	}

	led, err := ledger.Open(ledgerCfg)
	if err != nil {
		return err
	}
	defer led.Close()

	events, err := led.Replay(cmd.Context(), args[0], 0)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no events recorded for session %s", args[0])
	}

	folded, err := session.Replay(events)
	if err != nil {
		return fmt.Errorf("event stream failed verification: %w", err)
	}

	fmt.Printf("Events:  %d (seq %d..%d)\n", len(events), events[0].Seq, events[len(events)-1].Seq)
	fmt.Printf("Phase:   %s\n", folded.Phase)
	fmt.Printf("Consent: %s\n", folded.Consent)
	if folded.CloseReason != "" {
		fmt.Printf("Closed:  %s\n", folded.CloseReason)
	}
	fmt.Printf("Risk:    %s across %d verdicts\n", folded.HighestSeverity(), len(folded.RiskHistory))
	fmt.Println()

	data, err := json.MarshalIndent(folded, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
