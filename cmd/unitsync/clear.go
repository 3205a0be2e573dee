package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/unitsync/internal/store"
)

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every unit from the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := store.New(ctx, cfg.Store, logger.Named("store"))
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Clear(ctx); err != nil {
				return err
			}

			logger.Info("store cleared", zap.String("store", cfg.Store.Kind))
			return nil
		},
	}
}
