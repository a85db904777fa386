package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"rampcheck/internal/banner"
	"rampcheck/internal/cli"
	"rampcheck/internal/config"
	"rampcheck/internal/logging"
	"rampcheck/internal/tui"
)

var (
	cfgFile string
	useTUI  bool

	v = config.NewViper()
)

var rootCmd = &cobra.Command{
	Use:   "rampcheck",
	Short: "rampcheck - ramp load and verify resilience behaviour",
	Long: `
rampcheck drives a staged virtual-user load against an HTTP service, classifies
every response (success, client error, circuit breaker open, bulkhead full,
timeout, transport error) and checks the aggregated results against
pass/fail thresholds.

It supports two modes:
1. CLI Mode (Default): progress lines and a summary, exit code 1 on failure
2. TUI Mode (--tui): interactive setup, live dashboard and result view`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadFile()
		if err != nil {
			return err
		}
		if useTUI {
			return runTUI(cmd.Context(), f)
		}
		return runHeadless(cmd.Context(), f)
	},
}

// Execute runs the root command; SIGINT and SIGTERM stop the run gracefully.
func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, cli.ErrThresholdsFailed) {
			fmt.Fprintln(os.Stderr, "❌", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(dummyCmd, historyCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rampcheck.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("history", "", "run history database (default is $HOME/.rampcheck/history.db)")

	f := rootCmd.Flags()
	f.StringP("url", "u", "", "target base URL")
	f.String("token", "", "bearer token sent with every request")
	f.Duration("timeout", 0, "per-request timeout")
	f.Duration("abort-timeout", 0, "how long to wait for in-flight requests after the run")
	f.StringArrayP("stage", "s", nil, "load stage as duration:VUs, repeatable (e.g. -s 10s:50 -s 30s:50)")
	f.Uint64("seed", 0, "random seed for scenario selection, template random functions and request ids")
	f.StringP("out", "o", "", "output filename prefix for the JSON, CSV and request log reports")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run (e.g. :9090)")
	f.Bool("insecure", false, "skip TLS certificate verification")
	f.BoolVar(&useTUI, "tui", false, "run with the interactive terminal UI")

	for key, name := range map[string]string{
		"log_level": "log-level",
		"history":   "history",
	} {
		cobra.CheckErr(v.BindPFlag(key, pf.Lookup(name)))
	}
	for key, name := range map[string]string{
		"target.url":           "url",
		"target.token":         "token",
		"target.timeout":       "timeout",
		"target.abort_timeout": "abort-timeout",
		"target.insecure":      "insecure",
		"stages":               "stage",
		"seed":                 "seed",
		"out":                  "out",
		"metrics_addr":         "metrics-addr",
	} {
		cobra.CheckErr(v.BindPFlag(key, f.Lookup(name)))
	}
}

func loadFile() (config.File, error) {
	if err := config.ReadInConfig(v, cfgFile); err != nil {
		return config.File{}, err
	}
	return config.Load(v)
}

func newLogger(level slog.Level) *slog.Logger {
	return logging.New(os.Stderr, level, !isatty.IsTerminal(os.Stderr.Fd()))
}

func levelOf(f config.File) slog.Level {
	level, err := logging.ParseLevel(f.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func runHeadless(ctx context.Context, f config.File) error {
	plan, err := f.Build()
	if err != nil {
		return err
	}
	logger := newLogger(plan.LogLevel)
	slog.SetDefault(logger)
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("using config file", "path", used)
	}
	return cli.Start(ctx, plan, logger)
}

func runTUI(ctx context.Context, f config.File) error {
	p := tea.NewProgram(tui.NewModel(ctx, f), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running rampcheck: %w", err)
	}

	m, ok := final.(tui.Model)
	if !ok || !m.Done {
		return nil
	}
	cli.PrintSummary(os.Stdout, m.Report)
	if m.Err != nil {
		return m.Err
	}
	if !m.Report.Verdict.Passed {
		return cli.ErrThresholdsFailed
	}
	return nil
}
