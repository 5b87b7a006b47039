package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage conversation sessions",
	Long: `Sessions carry conversation history between questions. Pass the session
ID to 'mizan ask --session' to continue a conversation.`,
}

var sessionNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new session",
	Args:  cobra.NoArgs,
	RunE:  runSessionNew,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show a session's history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

func init() {
	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionNew(cmd *cobra.Command, _ []string) error {
	if sessionService == nil {
		return errors.New("session service not configured")
	}

	info, err := sessionService.Create(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	cmd.Println(info.SessionID)
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	if sessionService == nil {
		return errors.New("session service not configured")
	}

	s, err := sessionService.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	cmd.Printf("Session: %s\n\n", s.ID)
	cmd.Printf("  Created:       %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
	cmd.Printf("  Last activity: %s\n", s.LastActivity.Format("2006-01-02 15:04:05"))
	if len(s.History) == 0 {
		cmd.Println("\nNo questions asked yet.")
		return nil
	}

	cmd.Println()
	for i, ex := range s.History {
		cmd.Printf("  [%d] %s (%s)\n", i+1, ex.Query, ex.Category)
		cmd.Printf("      %s\n", snippet(ex.Answer, 160))
	}
	return nil
}
