package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/browserctl/browserctl-go/internal/types"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sessions on a running server",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var resp struct {
			Sessions []types.SessionSummary `json:"sessions"`
		}
		if err := getJSON(serverAddr(cfg)+"/v1/sessions", &resp); err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(resp.Sessions) == 0 {
			fmt.Println("no open sessions")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tBROWSER\tCREATED\tLAST USED\tUSES\tIN USE")
		for _, s := range resp.Sessions {
			created := time.UnixMilli(s.CreatedAt).Format(time.RFC3339)
			lastUsed := time.UnixMilli(s.LastUsedAt).Format(time.RFC3339)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\n", s.ID, s.BrowserKind, created, lastUsed, s.UseCount, s.InUse)
		}
		return w.Flush()
	},
}

var sessionsKillCmd = &cobra.Command{
	Use:   "kill <session-id>",
	Short: "Close one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, err := callServerTool(cfg, "close_session", nil, args[0]); err != nil {
			return err
		}
		fmt.Printf("session %s closed\n", args[0])
		return nil
	},
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Close every open session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var resp struct {
			Sessions []struct {
				ID string `json:"id"`
			} `json:"sessions"`
		}
		if err := getJSON(serverAddr(cfg)+"/v1/sessions", &resp); err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		closed := 0
		for _, s := range resp.Sessions {
			if _, err := callServerTool(cfg, "close_session", nil, s.ID); err != nil {
				fmt.Fprintf(os.Stderr, "session %s: %v\n", s.ID, err)
				continue
			}
			closed++
		}
		fmt.Printf("%d of %d sessions closed\n", closed, len(resp.Sessions))

		// Also sweep the pool so unhealthy idle browsers are destroyed.
		var sweep struct {
			Destroyed int `json:"destroyed"`
		}
		if err := postJSON(serverAddr(cfg)+"/v1/pool/cleanup", &sweep); err != nil {
			return fmt.Errorf("pool cleanup: %w", err)
		}
		if sweep.Destroyed > 0 {
			fmt.Printf("%d unhealthy pool browsers destroyed\n", sweep.Destroyed)
		}
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsKillCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)
}
