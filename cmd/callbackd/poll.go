package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pollFlags struct {
	clientConfig
	since    string
	follow   bool
	interval time.Duration
}

var pollCmd = &cobra.Command{
	Use:   "poll <token>",
	Short: "Poll for new interactions",
	Long: `Fetch interactions recorded after a timestamp. With --follow the
command keeps polling, advancing the timestamp past everything seen, so
each interaction is printed at least once.`,
	Args: cobra.ExactArgs(1),
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)

	addClientFlags(pollCmd, &pollFlags.clientConfig)
	pollCmd.Flags().StringVar(&pollFlags.since, "since", "", "RFC3339Nano timestamp to poll after")
	pollCmd.Flags().BoolVar(&pollFlags.follow, "follow", false, "poll continuously")
	pollCmd.Flags().DurationVar(&pollFlags.interval, "interval", 5*time.Second, "poll interval with --follow")
}

func runPoll(cmd *cobra.Command, args []string) error {
	c, err := pollFlags.newClient()
	if err != nil {
		return err
	}

	token := args[0]
	since := pollFlags.since

	for {
		resp, err := c.Poll(token, since)
		if err != nil {
			return err
		}

		for i := len(resp.Interactions) - 1; i >= 0; i-- {
			b, err := json.Marshal(resp.Interactions[i])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
		}

		if len(resp.Interactions) > 0 {
			since = resp.Interactions[0].OccurredAt
		}

		if !pollFlags.follow {
			return nil
		}
		time.Sleep(pollFlags.interval)
	}
}
