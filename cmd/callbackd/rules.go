package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HsinTsao/sec-toolkit/internal/api"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage PoC rules for a token",
}

var rulesAddFlags struct {
	clientConfig
	name        string
	template    string
	body        string
	contentType string
	statusCode  int
	redirect    string
	delayMS     int
	variables   bool
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <token>",
	Short: "Create a PoC rule",
	Long: `Create a PoC rule for a token. Either start from a built-in
template (see 'rules templates') or give an explicit body/redirect.`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesAdd,
}

var rulesListFlags struct {
	clientConfig
}

var rulesListCmd = &cobra.Command{
	Use:   "list <token>",
	Short: "List PoC rules for a token",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesList,
}

var rulesDeleteFlags struct {
	clientConfig
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <token> <name>",
	Short: "Delete a PoC rule",
	Args:  cobra.ExactArgs(2),
	RunE:  runRulesDelete,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesDeleteCmd)

	addClientFlags(rulesAddCmd, &rulesAddFlags.clientConfig)
	rulesAddCmd.Flags().StringVar(&rulesAddFlags.name, "name", "", "rule name (forms the trigger path p/<name>)")
	rulesAddCmd.Flags().StringVar(&rulesAddFlags.template, "template", "", "built-in template key to start from")
	rulesAddCmd.Flags().StringVar(&rulesAddFlags.body, "body", "", "response body")
	rulesAddCmd.Flags().StringVar(&rulesAddFlags.contentType, "content-type", "", "response content type")
	rulesAddCmd.Flags().IntVar(&rulesAddFlags.statusCode, "status", 0, "response status code")
	rulesAddCmd.Flags().StringVar(&rulesAddFlags.redirect, "redirect", "", "redirect target (takes priority over body)")
	rulesAddCmd.Flags().IntVar(&rulesAddFlags.delayMS, "delay-ms", 0, "delay before responding")
	rulesAddCmd.Flags().BoolVar(&rulesAddFlags.variables, "variables", false, "enable template variable substitution")

	addClientFlags(rulesListCmd, &rulesListFlags.clientConfig)
	addClientFlags(rulesDeleteCmd, &rulesDeleteFlags.clientConfig)
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	c, err := rulesAddFlags.newClient()
	if err != nil {
		return err
	}

	req := api.CreateRuleRequest{
		Name:            rulesAddFlags.name,
		Template:        rulesAddFlags.template,
		Body:            rulesAddFlags.body,
		ContentType:     rulesAddFlags.contentType,
		StatusCode:      rulesAddFlags.statusCode,
		DelayMS:         rulesAddFlags.delayMS,
		EnableVariables: rulesAddFlags.variables,
	}
	if rulesAddFlags.redirect != "" {
		req.RedirectURL = &rulesAddFlags.redirect
	}

	resp, err := c.CreateRule(args[0], req)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Rule:    %s\n", resp.Name)
	fmt.Fprintf(cmd.OutOrStdout(), "Trigger: %s\n", resp.TriggerPath)
	return nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	c, err := rulesListFlags.newClient()
	if err != nil {
		return err
	}

	resp, err := c.ListRules(args[0])
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

func runRulesDelete(cmd *cobra.Command, args []string) error {
	c, err := rulesDeleteFlags.newClient()
	if err != nil {
		return err
	}

	if err := c.DeleteRule(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted rule %q.\n", args[1])
	return nil
}
