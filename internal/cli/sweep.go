package cli

import (
	"time"

	"github.com/spf13/cobra"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/config"
)

// NewSweepCmd cancels expired waiting rooms once and exits, for cron-style deployments.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Cancel rooms whose join window expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			d, err := buildDeps(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer d.Close()

			sweeper := app.NewSweeper(d.engine, d.locker, config.TTLDuration(cfg.Engine.SweepInterval, time.Minute))
			n, err := sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("sweep done", "cancelled", n)
			return nil
		},
	}
}
