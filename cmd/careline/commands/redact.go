package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/careline-ai/careline/internal/redact"
)

var redactJSON bool

var redactCmd = &cobra.Command{
	Use:   "redact [text...]",
	Short: "Redact personally identifying information from text",
	Long: `Redact personally identifying information from text using the
built-in rule pack. Reads from stdin when no text is given.

Examples:
  careline redact "call me at 555-123-4567"
  cat transcript.txt | careline redact
  careline redact --json "mail sam@example.com"`,
	RunE: runRedact,
}

func init() {
	redactCmd.Flags().BoolVar(&redactJSON, "json", false, "Emit sanitized text and entities as JSON")
}

func runRedact(cmd *cobra.Command, args []string) error {
	text, err := textFromArgsOrStdin(args)
	if err != nil {
		return err
	}

	redactor, err := redact.New()
	if err != nil {
		return err
	}

	sanitized, entities, err := redactor.Redact(text)
	if err != nil {
		// The gate fails closed: the returned text is fully masked and
		// safe to show, so print it instead of discarding it.
		fmt.Fprintf(os.Stderr, "warning: %v, output fully masked\n", err)
	}

	if !redactJSON {
		fmt.Println(sanitized)
		return nil
	}

	out := struct {
		Sanitized string `json:"sanitized"`
		Entities  []struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		} `json:"entities"`
	}{Sanitized: sanitized}
	for _, e := range entities {
		out.Entities = append(out.Entities, struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		}{Type: string(e.Type), Token: e.Token})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// textFromArgsOrStdin joins command arguments into one text, falling back
// to reading stdin when no arguments were given.
func textFromArgsOrStdin(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no text given")
	}
	return text, nil
}
