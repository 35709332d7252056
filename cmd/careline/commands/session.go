package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/careline-ai/careline/internal/config"
	"github.com/careline-ai/careline/pkg/types"
)

var sessionServer string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage sessions on a running server",
	Long: `Inspect and manage sessions through the HTTP API of a running
careline server.

Subcommands:
  list     List open sessions
  show     Show one session as JSON
  close    Close a session (operator close)`,
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List open sessions",
	RunE:    runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close <session-id>",
	Short: "Close a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionClose,
}

func init() {
	sessionCmd.PersistentFlags().StringVar(&sessionServer, "server", "", "Server URL (defaults to the configured host and port)")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionCloseCmd)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	base, err := serverBaseURL()
	if err != nil {
		return err
	}

	var sessions []*types.Session
	if err := apiGet(base+"/api/sessions", &sessions); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPHASE\tCONSENT\tRISK\tTURNS\tUPDATED\t")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t\n",
			s.ID,
			s.Phase,
			s.Consent,
			s.HighestSeverity(),
			s.MessageCount,
			formatMillis(s.Time.Updated),
		)
	}
	return w.Flush()
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	base, err := serverBaseURL()
	if err != nil {
		return err
	}

	var session types.Session
	if err := apiGet(base+"/api/sessions/"+args[0], &session); err != nil {
		return err
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runSessionClose(cmd *cobra.Command, args []string) error {
	base, err := serverBaseURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodDelete, base+"/api/sessions/"+args[0], nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var session types.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return err
	}
	fmt.Printf("Session %s closed (%s)\n", session.ID, session.CloseReason)
	return nil
}

// serverBaseURL resolves the target server from the --server flag or the
// configured host and port.
func serverBaseURL() (string, error) {
	if sessionServer != "" {
		return sessionServer, nil
	}

	workDir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	appConfig, err := config.Load(workDir)
	if err != nil {
		return "", err
	}

	host := appConfig.Server.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, appConfig.Server.Port), nil
}

func apiGet(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// apiError turns a non-200 API response into an error using the server's
// error envelope when one is present.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}
