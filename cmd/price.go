package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sku-lookup/internal/pricing"
)

var (
	priceCost     float64
	priceCategory string
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Suggest a retail price from unit cost and category",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if priceCost <= 0 {
			return eris.New("--cost must be > 0")
		}
		s := pricing.NewSuggester(cfg.Pricing.Margins, cfg.Pricing.DefaultMargin)
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%.2f (margin %.0f%%)\n",
			s.Suggest(priceCost, priceCategory),
			s.MarginFor(priceCategory)*100,
		)
		return err
	},
}

func init() {
	priceCmd.Flags().Float64Var(&priceCost, "cost", 0, "unit cost (required)")
	priceCmd.Flags().StringVar(&priceCategory, "category", "", "product category")
	_ = priceCmd.MarkFlagRequired("cost")
	rootCmd.AddCommand(priceCmd)
}
