package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionGetCmd, sessionTerminateCmd)

	sessionListCmd.Flags().String("user", "", "filter by owning user")
	sessionListCmd.Flags().Bool("devils", false, "list backward-chaining sessions instead of forward-chaining")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage sessions hosted by a running rulehostd daemon",
}

// wireSessionSummary mirrors internal/httpapi's wire shape; the CLI talks
// to a running daemon over HTTP rather than reading state off disk, since
// sessions live in the daemon's in-memory store, not a file store.
type wireSessionSummary struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Started   string `json:"started"`
	Touched   string `json:"touched"`
	Status    string `json:"status"`
	Resources struct {
		Facts   uint64 `json:"facts"`
		Rules   uint64 `json:"rules"`
		Objects uint64 `json:"objects"`
	} `json:"resources"`
}

func daemonBaseURL() string {
	cfg := loadConfig()
	addr := cfg.ListenAddr
	if len(addr) > 0 && addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

func httpGet(path string, out any) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(daemonBaseURL() + path)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w (is rulehostd serve running?)", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func httpDelete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, daemonBaseURL()+path, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w (is rulehostd serve running?)", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		devils, _ := cmd.Flags().GetBool("devils")

		base := "/sessions"
		if devils {
			base = "/devils"
		}
		path := base
		if user != "" {
			path = base + "/user/" + user
		}

		var list []wireSessionSummary
		if err := httpGet(path, &list); err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tSTATUS\tFACTS\tRULES\tTOUCHED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				s.SessionID, s.UserID, s.Status, s.Resources.Facts, s.Resources.Rules, s.Touched)
		}
		return w.Flush()
	},
}

var sessionGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a single session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var summary wireSessionSummary
		if err := httpGet("/sessions/"+args[0], &summary); err != nil {
			if err2 := httpGet("/devils/"+args[0], &summary); err2 != nil {
				return err
			}
		}
		data, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	},
}

var sessionTerminateCmd = &cobra.Command{
	Use:   "terminate <id>",
	Short: "Terminate a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := httpDelete("/sessions/" + args[0]); err != nil {
			if err2 := httpDelete("/devils/" + args[0]); err2 != nil {
				return err
			}
		}
		fmt.Fprintf(os.Stdout, "Session %s terminated.\n", args[0])
		return nil
	},
}
