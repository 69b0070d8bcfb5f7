package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// Endpoint is one route of an HTTP server
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Server represents one entry of the servers response
type Server struct {
	Name      string     `json:"name"`
	Transport string     `json:"transport"`
	State     string     `json:"state"`
	Binding   string     `json:"binding,omitempty"`
	Address   string     `json:"address,omitempty"`
	TLS       bool       `json:"tls"`
	Handlers  []string   `json:"handlers"`
	Routes    []Endpoint `json:"routes,omitempty"`
}

// Status represents the status response
type Status struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Servers int    `json:"servers"`
	Running int    `json:"running"`
	Uptime  string `json:"uptime"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request("GET", "/status", nil)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), data)
		}

		var s Status
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		printTable(cmd.OutOrStdout(), []string{"SERVICE", "STATUS", "RUNNING", "UPTIME"},
			[][]string{{s.Service, s.Status, fmt.Sprintf("%d/%d", s.Running, s.Servers), s.Uptime}})
		return nil
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Inspect servers",
	Long:  `Commands for inspecting the configured servers.`,
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request("GET", "/admin/servers", nil)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), data)
		}

		var servers []Server
		if err := json.Unmarshal(data, &servers); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if len(servers) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No servers found.")
			return nil
		}

		headers := []string{"NAME", "TRANSPORT", "STATE", "BINDING", "ADDRESS", "TLS", "HANDLERS"}
		rows := make([][]string, len(servers))
		for i, s := range servers {
			rows[i] = []string{s.Name, s.Transport, s.State, s.Binding, s.Address,
				strconv.FormatBool(s.TLS), strings.Join(s.Handlers, ",")}
		}
		printTable(cmd.OutOrStdout(), headers, rows)
		return nil
	},
}

var serverGetCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Get a specific server",
	Long:  `Get details of a specific server including its routes.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request("GET", "/admin/servers/"+args[0], nil)
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(cmd.OutOrStdout(), data)
		}

		var s Server
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if len(s.Routes) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) %s: no routes\n", s.Name, s.Transport, s.State)
			return nil
		}
		rows := make([][]string, len(s.Routes))
		for i, r := range s.Routes {
			rows[i] = []string{r.Method, r.Path}
		}
		printTable(cmd.OutOrStdout(), []string{"METHOD", "PATH"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverGetCmd)
}
