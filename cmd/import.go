package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sku-lookup/internal/category"
	"github.com/sells-group/sku-lookup/internal/importer"
)

var (
	importFile        string
	importDepartments bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Resolve every barcode in a CSV, XLSX or text file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		codes, err := importer.ReadCodes(ctx, importFile)
		if err != nil {
			return eris.Wrap(err, "read codes")
		}
		if len(codes) == 0 {
			return eris.Errorf("no barcodes found in %s", importFile)
		}

		env, err := initLookup(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		opts := importer.Options{
			Delay: importDelay(),
			OnResult: func(r importer.Result) {
				env.Metrics.ObserveImport(r.Record.Found)
				if err := enc.Encode(r); err != nil {
					zap.L().Warn("write import result", zap.Int("index", r.Index), zap.Error(err))
				}
			},
		}
		if importDepartments {
			opts.Departments = category.NewStandardizer(env.Tables)
		}

		sum, err := importer.New(env.Resolver, opts).Run(ctx, codes)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.String("file", importFile),
			zap.Int("total", sum.Total),
			zap.Int("found", sum.Found),
			zap.Int("not_found", sum.NotFound),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to .csv, .xlsx or .txt file (required)")
	importCmd.Flags().BoolVar(&importDepartments, "departments", false, "map each result onto a store department")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
