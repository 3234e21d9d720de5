package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var generateFlags struct {
	clientConfig
	name     string
	ttlHours int64
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create a new token",
	Long:  `Create a new capture token. A TTL of 0 means the token never expires.`,
	RunE:  runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	addClientFlags(generateCmd, &generateFlags.clientConfig)
	generateCmd.Flags().StringVar(&generateFlags.name, "name", "", "optional name for the token")
	generateCmd.Flags().Int64Var(&generateFlags.ttlHours, "ttl-hours", 0, "hours until expiry (0 = never)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	c, err := generateFlags.newClient()
	if err != nil {
		return err
	}

	resp, err := c.CreateToken(generateFlags.name, generateFlags.ttlHours)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Token:    %s\n", resp.Token)
	fmt.Fprintf(cmd.OutOrStdout(), "Callback: %s\n", resp.CallbackPath)
	if resp.ExpiresAt != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Expires:  %s\n", *resp.ExpiresAt)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Expires:  never")
	}
	return nil
}
