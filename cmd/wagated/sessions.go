package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/wagate/internal/sessions"
	"github.com/iammorganparry/wagate/internal/store"
)

var sessionsListCmdOwner string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the sessions of a tenant",
	Long: "Reads the session registry directly and prints the sessions of one tenant.\n" +
		"Works while the server is running; the registry is opened in WAL mode.",
	RunE: runSessionsList,
}

func init() {
	sessionsListCmd.Flags().StringVar(
		&sessionsListCmdOwner,
		"owner",
		"",
		"tenant (user id) whose sessions to list",
	)

	sessionsCmd.AddCommand(sessionsListCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	if sessionsListCmdOwner == "" {
		return errors.New("--owner is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	list, err := sessions.NewRegistry(db).FindByOwner(cmd.Context(), sessionsListCmdOwner)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions found")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCREDENTIALS\tUPDATED")
	for _, s := range list {
		status := string(s.Status)
		if s.StatusMessage != "" {
			status += " (" + s.StatusMessage + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
			s.ID, s.Name, status, s.HasCredentials,
			time.Unix(s.UpdatedAt, 0).UTC().Format(time.RFC3339),
		)
	}
	return tw.Flush()
}
