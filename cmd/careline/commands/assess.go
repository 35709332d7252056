package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/careline-ai/careline/internal/risk"
	"github.com/careline-ai/careline/pkg/types"
)

var assessJSON bool

var assessCmd = &cobra.Command{
	Use:   "assess [text...]",
	Short: "Assess the crisis risk of a message",
	Long: `Assess the crisis risk of a message against the built-in keyword
and pattern pack. Reads from stdin when no text is given.

The assessment is keyword-only; the model classifier used by a running
server does not participate.

Examples:
  careline assess "I can't take it anymore"
  cat message.txt | careline assess --json`,
	RunE: runAssess,
}

func init() {
	assessCmd.Flags().BoolVar(&assessJSON, "json", false, "Emit the verdict as JSON")
}

func runAssess(cmd *cobra.Command, args []string) error {
	text, err := textFromArgsOrStdin(args)
	if err != nil {
		return err
	}

	monitor, err := risk.NewMonitor(types.RiskConfig{}, nil)
	if err != nil {
		return err
	}

	verdict := monitor.Assess(cmd.Context(), text, nil)

	if assessJSON {
		data, err := json.MarshalIndent(verdict, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Severity:   %s\n", verdict.Severity)
	fmt.Printf("Confidence: %.2f\n", verdict.Confidence)
	if len(verdict.Signals) > 0 {
		fmt.Println("Signals:")
		for _, sig := range verdict.Signals {
			fmt.Printf("  %s (%s, %s)\n", sig.ID, sig.Category, sig.Severity)
		}
	}
	return nil
}
