package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ctiharvest/internal/app"
	"ctiharvest/internal/config"
)

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Execute one pipeline pass over every enabled feed and exit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			summary := a.RunAll(cmd.Context())
			a.Logger().Info("run complete",
				zap.String("run_id", summary.RunID),
				zap.Int("succeeded", summary.Succeeded),
				zap.Int("failed", summary.Failed),
			)
			for _, r := range summary.Results {
				if r.Success {
					a.Logger().Info("feed result",
						zap.String("feed", r.Feed), zap.Int("ingested", r.Count))
				} else {
					a.Logger().Error("feed result",
						zap.String("feed", r.Feed), zap.String("error", r.Error))
				}
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d feed(s) failed", summary.Failed)
			}
			return nil
		},
	}
}
