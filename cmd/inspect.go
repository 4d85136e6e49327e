package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"referral-tree/models"
	"referral-tree/tree"
)

const cachedFlagName = "cached"

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool(cachedFlagName, false, "Print the last stored copy instead of reading the chain")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect ADDRESS",
	Short: "Print a referral node and its stats as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setupConfig(cmd)
		if err != nil {
			return err
		}
		cached, err := cmd.Flags().GetBool(cachedFlagName)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var node *models.ReferralNode
		if cached {
			n, ok := a.svc.Cached(args[0])
			if !ok {
				return fmt.Errorf("no stored copy of %s", args[0])
			}
			node = n
		} else {
			if err := a.svc.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			node = a.store.State().CurrentNode
		}

		out := struct {
			Node  *models.ReferralNode `json:"node"`
			Stats models.ReferralStats `json:"stats"`
		}{Node: node, Stats: tree.ComputeStats(node)}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
