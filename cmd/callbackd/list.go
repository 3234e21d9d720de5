package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var listFlags struct {
	clientConfig
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tokens with interaction counts",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	addClientFlags(listCmd, &listFlags.clientConfig)
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := listFlags.newClient()
	if err != nil {
		return err
	}

	resp, err := c.ListTokens()
	if err != nil {
		return err
	}

	if len(resp.Tokens) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tokens found.")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%-14s  %-12s  %-19s  %-19s  %s\n", "TOKEN", "NAME", "CREATED", "EXPIRES", "INTERACTIONS")
	for _, t := range resp.Tokens {
		name := "-"
		if t.Name != nil {
			name = *t.Name
		}
		createdAt, _ := time.Parse(time.RFC3339, t.CreatedAt)
		expires := "never"
		if t.ExpiresAt != nil {
			expiresAt, _ := time.Parse(time.RFC3339, *t.ExpiresAt)
			expires = expiresAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-14s  %-12s  %-19s  %-19s  %d\n",
			t.Token, name, createdAt.Format("2006-01-02 15:04:05"), expires, t.InteractionCount)
	}

	return nil
}
