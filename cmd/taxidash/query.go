package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taxidash/taxidash/internal/app"
	"github.com/taxidash/taxidash/internal/dataset"
	"github.com/taxidash/taxidash/internal/query"
)

var (
	queryYear     int
	queryCategory string
	queryMonths   int
	queryStrict   bool
)

var queryCmd = &cobra.Command{
	Use:   "query [flags] SQL",
	Short: "Load datasets and run one SQL statement, printing JSON lines",
	Long: `Load datasets and run one SQL statement against them.

Without --year the configured datasets are loaded, as serve does. With
--year only that dataset is loaded. Each result row is printed as one
JSON object with numbers normalized.`,
	Example: `  taxidash query "SELECT COUNT(*) AS trips FROM taxi_2023"
  taxidash query --year 2022 --months 3 "SELECT * FROM taxi_2022 LIMIT 5"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	f := queryCmd.Flags()
	f.IntVar(&queryYear, "year", 0, "load only this year")
	f.StringVar(&queryCategory, "category", dataset.CategoryGreen, "category of --year")
	f.IntVar(&queryMonths, "months", 0, "months to load (default: datasets.month_count)")
	f.BoolVar(&queryStrict, "strict", true, "fail when a month of --year is unavailable")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if queryMonths > 0 {
		cfg.Datasets.MonthCount = queryMonths
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := a.Open(ctx); err != nil {
		a.Close()
		return err
	}
	defer a.Close()

	if queryYear != 0 {
		d := dataset.Descriptor{Year: queryYear, Category: queryCategory}
		opts := dataset.LoadOptions{MonthCount: cfg.Datasets.MonthCount, Strict: queryStrict}
		if _, err := a.Loader().LoadDataset(ctx, d, opts); err != nil {
			return fmt.Errorf("load %s: %w", d, err)
		}
	} else if err := a.Bootstrap(ctx); err != nil {
		// The statement may only need what did load.
		logger.Warn("some datasets failed to load", "error", err)
	}

	records, err := a.Facade().Query(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return writeRecords(cmd.OutOrStdout(), records)
}

func writeRecords(w io.Writer, records []query.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
