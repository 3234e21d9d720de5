package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var renewFlags struct {
	clientConfig
	ttlHours int64
}

var renewCmd = &cobra.Command{
	Use:   "renew <token>",
	Short: "Renew a token",
	Long: `Extend a token's expiry forward from now and reactivate it.
A TTL of 0 clears the expiry entirely.`,
	Args: cobra.ExactArgs(1),
	RunE: runRenew,
}

func init() {
	rootCmd.AddCommand(renewCmd)

	addClientFlags(renewCmd, &renewFlags.clientConfig)
	renewCmd.Flags().Int64Var(&renewFlags.ttlHours, "ttl-hours", 0, "hours until expiry (0 = never)")
}

func runRenew(cmd *cobra.Command, args []string) error {
	c, err := renewFlags.newClient()
	if err != nil {
		return err
	}

	resp, err := c.RenewToken(args[0], renewFlags.ttlHours)
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
