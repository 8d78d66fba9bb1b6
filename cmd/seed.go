package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sku-lookup/internal/importer"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a product catalog CSV into the shared cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(seedFile)
		if err != nil {
			return eris.Wrapf(err, "open %s", seedFile)
		}
		defer f.Close() //nolint:errcheck

		entries, skipped, err := importer.ReadCatalog(ctx, f)
		if err != nil {
			return eris.Wrap(err, "read catalog")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.SeedProducts(ctx, entries)
		if err != nil {
			return eris.Wrap(err, "seed products")
		}

		zap.L().Info("seed complete",
			zap.String("file", seedFile),
			zap.Int("rows", len(entries)),
			zap.Int("skipped", skipped),
			zap.Int64("inserted", n),
		)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "catalog CSV with barcode,name,... header (required)")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}
