package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AskCmd creates the one-shot ask command
func AskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question",
		Long:  "Ask a single question in a fresh session and print the answer with its sources",
		Example: `  ragchat ask "What is the warranty period?"
  ragchat ask --output json "How do I reset the device?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	outputFormat, _ := cmd.Flags().GetString("output")
	query := strings.Join(args, " ")

	client, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	session, err := client.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer client.DeleteSession(ctx, session.ID)

	turn, err := client.SubmitTurn(ctx, session.ID, query)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		data, err := json.MarshalIndent(turn, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else {
		renderTurn(cmd.OutOrStdout(), turn)
	}

	if turn.IsError() {
		return fmt.Errorf("turn failed: %s", turn.ErrorCode)
	}
	return nil
}
