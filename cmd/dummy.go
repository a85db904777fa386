package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"rampcheck/internal/dummy"
)

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run the resilience dummy service",
	Long: `Serves POST /api/project-configs with a per-upstream circuit breaker and a
shared bulkhead, so a full run can be tried without a real backend. The
upstream token selects the behaviour: "invalid-token" answers 400,
"slow-simulation" answers after --slow-delay, "503-simulation" fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadFile()
		if err != nil {
			return err
		}

		cfg := dummy.DefaultConfig()
		cfg.Port, _ = cmd.Flags().GetInt("port")
		cfg.BulkheadSize, _ = cmd.Flags().GetInt("bulkhead")
		cfg.SlowDelay, _ = cmd.Flags().GetDuration("slow-delay")
		cfg.FailureThreshold, _ = cmd.Flags().GetInt("failure-threshold")
		cfg.OpenFor, _ = cmd.Flags().GetDuration("open-for")
		cfg.Logger = newLogger(levelOf(f))

		server, err := dummy.Start(cfg)
		if err != nil {
			return err
		}
		<-cmd.Context().Done()

		cfg.Logger.Info("shutting down dummy server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

func init() {
	def := dummy.DefaultConfig()
	dummyCmd.Flags().IntP("port", "p", def.Port, "port to run the dummy service on")
	dummyCmd.Flags().Int("bulkhead", def.BulkheadSize, "concurrent upstream calls allowed before rejecting")
	dummyCmd.Flags().Duration("slow-delay", def.SlowDelay, "delay of the slow upstream")
	dummyCmd.Flags().Int("failure-threshold", def.FailureThreshold, "consecutive upstream failures that open a breaker")
	dummyCmd.Flags().Duration("open-for", def.OpenFor, "how long an opened breaker rejects calls")
}
