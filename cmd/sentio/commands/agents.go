package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	agentsSettingsFor string
	agentsJSON        bool
	pingWait          time.Duration
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agent engines and their settings",
	Long: `List the agent engines offered by the ADH server.

With --settings, print the parameters an engine accepts instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newClient(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if agentsSettingsFor != "" {
			params, err := client.AgentSettings(ctx, agentsSettingsFor)
			if err != nil {
				return fmt.Errorf("agent settings: %w", err)
			}
			if agentsJSON {
				return json.NewEncoder(out).Encode(params)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tREQUIRED\tDEFAULT\tDESCRIPTION")
			for _, p := range params {
				def := ""
				if p.Default != nil {
					def = fmt.Sprint(p.Default)
				}
				fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\n", p.Name, p.Type, p.Required, def, p.Description)
			}
			return tw.Flush()
		}

		engines, err := client.AgentList(ctx)
		if err != nil {
			return fmt.Errorf("agent list: %w", err)
		}
		def, err := client.AgentDefault(ctx)
		if err != nil {
			printVerbose(cmd, "agent default: %v", err)
		}
		if agentsJSON {
			return json.NewEncoder(out).Encode(map[string]any{"engines": engines, "default": def})
		}
		for _, name := range engines {
			marker := " "
			if name == def {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s\n", marker, name)
		}
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the ADH server heartbeat",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newClient(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		wait := cfg.HeartbeatWait
		if pingWait > 0 {
			wait = pingWait
		}
		start := time.Now()
		if err := client.Heartbeat(cmd.Context(), wait); err != nil {
			return fmt.Errorf("%s: %w", client.HeartbeatURL(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s ok (%s)\n", client.HeartbeatURL(), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	agentsCmd.Flags().StringVar(&agentsSettingsFor, "settings", "", "print the settings of this engine")
	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "output as JSON")
	pingCmd.Flags().DurationVar(&pingWait, "wait", 0, "heartbeat timeout (default from config)")

	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(pingCmd)
}
