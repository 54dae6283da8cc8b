package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rulesAPI string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the compliance rule catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := newEvaluator(rulesAPI, logger).Rules(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range rules {
			fmt.Fprintf(out, "%-20s %-6s %-9s %s\n", r.ID, r.Severity, r.SuggestedAction, r.Description)
		}
		return nil
	},
}

func init() {
	rulesCmd.Flags().StringVar(&rulesAPI, "api", envOr("CALLWATCH_API_URL", ""), "callwatch server URL; empty lists the built-in catalog")
}
