package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var replayLimit int

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Retry contributions that failed to reach the shared cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := newWriter(st, nil).Replay(ctx, replayLimit)
		if err != nil {
			return eris.Wrap(err, "replay")
		}

		zap.L().Info("replay complete",
			zap.Int("attempted", res.Attempted),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
		)
		return nil
	},
}

func init() {
	replayCmd.Flags().IntVar(&replayLimit, "limit", 100, "max entries to retry")
	rootCmd.AddCommand(replayCmd)
}
