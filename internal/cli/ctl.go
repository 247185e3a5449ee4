package cli

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ipsix/scamshield/internal/events"
	"github.com/ipsix/scamshield/internal/settings"
)

func newCtlCmd() *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Talk to a running daemon",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", getenvDefault("SCAMSHIELD_ADDR", "http://127.0.0.1:8788"), "Daemon API address")
	cmd.PersistentFlags().StringVar(&token, "token", getenvDefault("SCAMSHIELD_API_TOKEN", ""), "API token")

	client := func() *Client { return NewClient(addr, token) }

	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check the daemon is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "current <tabId> <url>",
		Short: "Show the scan record for a tab, waiting out an in-flight scan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabID, err := parseTabID(args[0])
			if err != nil {
				return err
			}
			record, err := client().CurrentScan(cmd.Context(), tabID, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, record)
		},
	})

	var scanTab int
	scanCmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Force a fresh scan of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			started, err := client().Scan(cmd.Context(), args[0], scanTab)
			if err != nil {
				return err
			}
			return printJSON(cmd, started)
		},
	}
	scanCmd.Flags().IntVar(&scanTab, "tab", 0, "Tab the scan belongs to")
	cmd.AddCommand(scanCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-cache",
		Short: "Drop every cached result and the history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().ClearCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "List recent scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := client().History(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	})

	cmd.AddCommand(newSettingsCmd(client))

	cmd.AddCommand(&cobra.Command{
		Use:   "tab <id>",
		Short: "Show a tab's scan state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabID, err := parseTabID(args[0])
			if err != nil {
				return err
			}
			state, err := client().Tab(cmd.Context(), tabID)
			if err != nil {
				return err
			}
			return printJSON(cmd, state)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "close-tab <id>",
		Short: "Forget a closed tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabID, err := parseTabID(args[0])
			if err != nil {
				return err
			}
			if err := client().TabClosed(cmd.Context(), tabID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "closed")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check-domain <host>",
		Short: "Run the impersonation heuristic on the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verdict, err := client().CheckDomain(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, verdict)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "jobs",
		Short: "List maintenance jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := client().Jobs(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, jobs)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run-job <name>",
		Short: "Run a maintenance job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := client().RunJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "metrics",
		Short: "Dump the Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := client().DoText(cmd.Context(), http.MethodGet, "/metrics")
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	})

	var streamTab int
	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "Follow scan events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Stream(cmd.Context(), streamTab, func(ev events.Event) bool {
				return printJSON(cmd, ev) == nil
			})
		},
	}
	streamCmd.Flags().IntVar(&streamTab, "tab", -1, "Only events for this tab")
	cmd.AddCommand(streamCmd)

	return cmd
}

func newSettingsCmd(client func() *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the scan flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := client().Settings(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		},
	}

	var autoScan, showWarnings bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Update autoScan and/or showWarnings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var flags settings.Flags
			if cmd.Flags().Changed("auto-scan") {
				flags.AutoScan = &autoScan
			}
			if cmd.Flags().Changed("show-warnings") {
				flags.ShowWarnings = &showWarnings
			}
			if flags.AutoScan == nil && flags.ShowWarnings == nil {
				return errors.New("nothing to set: pass --auto-scan or --show-warnings")
			}
			snap, err := client().UpdateSettings(cmd.Context(), flags)
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		},
	}
	set.Flags().BoolVar(&autoScan, "auto-scan", true, "Scan pages automatically after navigation")
	set.Flags().BoolVar(&showWarnings, "show-warnings", true, "Show in-page warnings for risky pages")
	cmd.AddCommand(set)
	return cmd
}

func parseTabID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid tab id %q", s)
	}
	return id, nil
}
