package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sku-lookup/internal/model"
	"github.com/sells-group/sku-lookup/internal/resolver"
)

var (
	lookupUserID      string
	lookupFranchiseID string
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <barcode>...",
	Short: "Resolve one or more barcodes and print the records as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initLookup(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ctx = resolver.WithAttribution(ctx, model.Attribution{
			UserID:      lookupUserID,
			FranchiseID: lookupFranchiseID,
		})

		var recs []model.ProductRecord
		if len(args) == 1 {
			recs = []model.ProductRecord{env.Resolver.Resolve(ctx, args[0])}
		} else {
			recs = env.Resolver.ResolveBatch(ctx, args)
		}
		return writeRecords(cmd.OutOrStdout(), recs)
	},
}

// writeRecords prints one JSON object per line.
func writeRecords(w io.Writer, recs []model.ProductRecord) error {
	enc := json.NewEncoder(w)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return eris.Wrap(err, "encode record")
		}
	}
	return nil
}

func init() {
	lookupCmd.Flags().StringVar(&lookupUserID, "user", "", "contributing user ID")
	lookupCmd.Flags().StringVar(&lookupFranchiseID, "franchise", "", "contributing franchise ID")
	rootCmd.AddCommand(lookupCmd)
}
