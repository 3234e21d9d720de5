package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var interactionsFlags struct {
	clientConfig
	limit int
	clear bool
}

var interactionsCmd = &cobra.Command{
	Use:   "interactions <token>",
	Short: "List recorded interactions for a token",
	Args:  cobra.ExactArgs(1),
	RunE:  runInteractions,
}

func init() {
	rootCmd.AddCommand(interactionsCmd)

	addClientFlags(interactionsCmd, &interactionsFlags.clientConfig)
	interactionsCmd.Flags().IntVar(&interactionsFlags.limit, "limit", 0, "maximum interactions to return")
	interactionsCmd.Flags().BoolVar(&interactionsFlags.clear, "clear", false, "delete all recorded interactions instead")
}

func runInteractions(cmd *cobra.Command, args []string) error {
	c, err := interactionsFlags.newClient()
	if err != nil {
		return err
	}

	token := args[0]

	if interactionsFlags.clear {
		resp, err := c.ClearInteractions(token)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d interactions.\n", resp.Deleted)
		return nil
	}

	resp, err := c.GetInteractions(token, interactionsFlags.limit)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
