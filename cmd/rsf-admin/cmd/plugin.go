package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// Plugin represents one resolved capability
type Plugin struct {
	Capability string `json:"capability"`
	External   bool   `json:"external"`
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage resolved plugins",
	Long:  `Commands for inspecting plugin capabilities and evicting cached instances.`,
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plugin capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request("GET", "/admin/plugins", nil)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), data)
		}

		var plugins []Plugin
		if err := json.Unmarshal(data, &plugins); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if len(plugins) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No plugins resolved.")
			return nil
		}

		rows := make([][]string, len(plugins))
		for i, p := range plugins {
			origin := "bundled"
			if p.External {
				origin = "external"
			}
			rows[i] = []string{p.Capability, origin}
		}
		printTable(cmd.OutOrStdout(), []string{"CAPABILITY", "ORIGIN"}, rows)
		return nil
	},
}

var pluginEvictCmd = &cobra.Command{
	Use:   "evict [capability]",
	Short: "Evict a cached plugin instance",
	Long:  `Drop the cached instance of a capability so its next use resolves it again.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		if _, err := client.Request("POST", "/admin/plugins/"+url.PathEscape(args[0])+"/evict", nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Evicted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pluginCmd)
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginEvictCmd)
}
