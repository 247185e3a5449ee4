package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ipsix/scamshield/internal/config"
	"github.com/ipsix/scamshield/internal/daemon"
	"github.com/ipsix/scamshield/internal/evaluator"
	"github.com/ipsix/scamshield/internal/heuristic"
	"github.com/ipsix/scamshield/internal/logging"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "scamshield",
		Short:         "scamshield: phishing scan daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = version
	cmd.SetVersionTemplate("scamshield {{.Version}}\n")

	cmd.PersistentFlags().String("config", getenvDefault("SCAMSHIELD_CONFIG", config.DefaultConfigPath), "Config file path (.json, .yaml or .yml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newCtlCmd())
	cmd.AddCommand(newReloadCmd())
	return cmd
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return path
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scan daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger := logging.NewWithWriter(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel, os.Stdout)
			logger.Info("scamshield starting", logging.F("config", cfg.Redacted()))
			if err := daemon.New(cfg, logger, path).Run(cmd.Context()); err != nil {
				logger.Error("daemon exited with error", logging.Err(err))
				return err
			}
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			if show {
				return printJSON(cmd, cfg.Redacted())
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Print the resolved config with secrets redacted")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var offline bool
	var serviceURL string
	cmd := &cobra.Command{
		Use:   "check <url>",
		Short: "Score a URL once without a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if offline {
				return printJSON(cmd, heuristic.CheckDomain(args[0]))
			}
			timeout := evaluator.DefaultTimeout
			if serviceURL == "" {
				cfg, err := config.Load(configPath(cmd))
				if err != nil {
					return fmt.Errorf("config error (use --service or --offline): %w", err)
				}
				serviceURL = cfg.Service.BaseURL
				timeout = cfg.Service.TimeoutDuration()
			}
			eval := evaluator.New(evaluator.NewClient(serviceURL, nil), evaluator.Options{Timeout: timeout})
			result, err := eval.Evaluate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Run only the domain impersonation heuristic")
	cmd.Flags().StringVar(&serviceURL, "service", "", "Risk service base URL (overrides the config)")
	return cmd
}

func newReloadCmd() *cobra.Command {
	var pid string
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Send SIGHUP to a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pid == "" {
				return errors.New("pid is required (use --pid or SCAMSHIELD_PID)")
			}
			parsed, err := strconv.Atoi(pid)
			if err != nil || parsed <= 0 {
				return errors.New("pid must be a positive integer")
			}
			proc, err := os.FindProcess(parsed)
			if err != nil {
				return err
			}
			if err := proc.Signal(syscall.SIGHUP); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reload signal sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&pid, "pid", getenvDefault("SCAMSHIELD_PID", ""), "PID of the daemon")
	return cmd
}

// Execute runs the root command until SIGINT or SIGTERM.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRoot(version).ExecuteContext(ctx)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
