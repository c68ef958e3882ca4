package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/nbpilot/internal/chinook"
)

func newChinookCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "chinook",
		Short: "Inspect the Chinook sample database and export CSV samples",
		Long: `Work with the Chinook music-store database the notebook tasks analyse.

Subcommands:
  tables    list the database tables
  analyze   print summary analytics and data-quality checks
  export    write <table>_sample.csv files for the notebook

The database path comes from chinook.db_path or --db.`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to Chinook_Sqlite.sqlite")

	cmd.AddCommand(
		newChinookTablesCmd(&dbPath),
		newChinookAnalyzeCmd(&dbPath),
		newChinookExportCmd(&dbPath),
	)

	return cmd
}

// chinookSettings resolves the database path and load limit from config
// and flags.
type chinookSettings struct {
	dbPath     string
	exportDir  string
	loadLimit  int
	sampleRows int
}

func loadChinookSettings(dbFlag string) (chinookSettings, error) {
	cfg, err := loadConfig()
	if err != nil {
		return chinookSettings{}, err
	}
	s := chinookSettings{
		dbPath:     cfg.Chinook.DBPath,
		exportDir:  cfg.Chinook.ExportDir,
		loadLimit:  cfg.Chinook.LoadLimit,
		sampleRows: cfg.Chinook.SampleRows,
	}
	if dbFlag != "" {
		s.dbPath = dbFlag
	}
	return s, nil
}

func openChinook(out io.Writer, dbFlag string) (*chinook.DB, chinookSettings, error) {
	s, err := loadChinookSettings(dbFlag)
	if err != nil {
		return nil, s, err
	}
	db, err := chinook.Open(s.dbPath)
	if err != nil {
		return nil, s, err
	}
	fmt.Fprintf(out, "%s Connected to Chinook database at %s\n", okStyle.Render("✓"), s.dbPath)
	return db, s, nil
}

func newChinookTablesCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			db, _, err := openChinook(out, *dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			names, err := db.Tables(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, heading("Available Tables:"))
			fmt.Fprintln(out, strings.Join(names, ", "))
			return nil
		},
	}
}

func newChinookAnalyzeCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Print analytics and data-quality checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			db, s, err := openChinook(out, *dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			tables := loadTables(cmd, db, s.loadLimit)
			printStructure(out, tables)
			printBasic(out, chinook.Basic(tables))
			if err := printAdvanced(cmd, db); err != nil {
				return err
			}
			printTrackStats(out, tables)
			printQuality(out, chinook.CheckQuality(tables))
			return nil
		},
	}
}

func newChinookExportCmd(dbPath *string) *cobra.Command {
	var (
		outDir string
		rows   int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the first rows of each table as CSV",
		Long: `Export the first rows of each core table to <dir>/<table>_sample.csv.
The default directory is chinook.export_dir, which is also the notebook
server's working directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			db, s, err := openChinook(out, *dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if outDir == "" {
				outDir = s.exportDir
			}
			if rows <= 0 {
				rows = s.sampleRows
			}

			tables := loadTables(cmd, db, s.loadLimit)
			paths, err := chinook.ExportSamples(tables, outDir, rows)
			for i, p := range paths {
				fmt.Fprintf(out, "%s Exported %s sample to %s\n", okStyle.Render("✓"), tables[i].Name, p)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default chinook.export_dir)")
	cmd.Flags().IntVar(&rows, "rows", 0, "rows per table (default chinook.sample_rows)")

	return cmd
}

func loadTables(cmd *cobra.Command, db *chinook.DB, limit int) []*chinook.Table {
	out := cmd.OutOrStdout()
	tables, failed := db.LoadTables(cmd.Context(), limit)

	for _, t := range tables {
		fmt.Fprintf(out, "%s Loaded %s: %d rows, %d columns\n", okStyle.Render("✓"), t.Name, len(t.Rows), len(t.Columns))
	}
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%s Error loading %s: %v\n", errStyle.Render("✗"), name, failed[name])
	}
	return tables
}

func printStructure(out io.Writer, tables []*chinook.Table) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, heading("Data Structure"))
	rows := make([][]string, 0, len(tables))
	for _, t := range tables {
		rows = append(rows, []string{t.Name, strconv.Itoa(len(t.Rows)), strings.Join(t.Columns, ", ")})
	}
	fmt.Fprintln(out, renderTable([]string{"Table", "Rows", "Columns"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft}))
}

func printBasic(out io.Writer, stats chinook.BasicStats) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, heading("Basic Analytics"))

	if t := stats.Tracks; t != nil {
		fmt.Fprintf(out, "Total tracks: %d\n", t.Count)
		fmt.Fprintf(out, "Average track length: %.2f seconds\n", t.AvgSeconds)
		fmt.Fprintf(out, "Total tracks size: %.2f GB\n", t.TotalGB)
	}
	if c := stats.Customers; c != nil {
		fmt.Fprintf(out, "Total customers: %d\n", c.Count)
		rows := make([][]string, 0, len(c.ByCountry))
		for _, cc := range c.ByCountry {
			rows = append(rows, []string{cc.Country, strconv.Itoa(cc.Count)})
		}
		fmt.Fprintln(out, renderTable([]string{"Country", "Customers"}, rows,
			[]columnAlignment{alignLeft, alignRight}))
	}
	if i := stats.Invoices; i != nil {
		fmt.Fprintf(out, "Total invoices: %d\n", i.Count)
		fmt.Fprintf(out, "Total revenue: $%.2f\n", i.Revenue)
		fmt.Fprintf(out, "Average invoice amount: $%.2f\n", i.Average)
	}
}

func printAdvanced(cmd *cobra.Command, db *chinook.DB) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	artists, err := db.TopArtists(ctx, 10)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, heading("Top 10 Artists by Sales"))
	rows := make([][]string, 0, len(artists))
	for _, a := range artists {
		rows = append(rows, []string{a.Artist, money(a.TotalSales), strconv.Itoa(a.TotalInvoices), strconv.Itoa(a.TracksSold)})
	}
	fmt.Fprintln(out, renderTable([]string{"Artist", "Sales", "Invoices", "Tracks sold"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight}))

	genres, err := db.TopGenres(ctx, 10)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, heading("Genre Popularity"))
	rows = rows[:0]
	for _, g := range genres {
		rows = append(rows, []string{g.Genre, strconv.Itoa(g.TracksSold), money(g.Revenue)})
	}
	fmt.Fprintln(out, renderTable([]string{"Genre", "Tracks sold", "Revenue"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight}))

	months, err := db.MonthlySales(ctx, 5)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, heading("Monthly Sales (last 5 months)"))
	rows = rows[:0]
	for _, m := range months {
		rows = append(rows, []string{m.Month, money(m.Sales), strconv.Itoa(m.InvoiceCount)})
	}
	fmt.Fprintln(out, renderTable([]string{"Month", "Sales", "Invoices"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight}))
	return nil
}

func printTrackStats(out io.Writer, tables []*chinook.Table) {
	stats := chinook.ArtistTrackStats(tables, 5)
	if len(stats) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, heading("Top 5 Artists by Track Count"))
		rows := make([][]string, 0, len(stats))
		for _, s := range stats {
			rows = append(rows, []string{
				s.Artist,
				strconv.Itoa(s.Tracks),
				fmt.Sprintf("%.2f", s.MeanMillis),
				fmt.Sprintf("%.0f", s.TotalMillis),
				fmt.Sprintf("%.2f", s.MeanPrice),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"Artist", "Tracks", "Mean ms", "Total ms", "Mean price"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight}))
	}

	n, longest := chinook.LongTracks(tables, 5)
	fmt.Fprintf(out, "Tracks longer than 5 minutes: %d\n", n)
	for _, t := range longest {
		fmt.Fprintf(out, "  '%s' by %s: %.2f min\n", t.Track, t.Artist, t.Minutes)
	}
}

func printQuality(out io.Writer, report []chinook.Quality) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, heading("Data Quality Check"))
	for _, q := range report {
		fmt.Fprintf(out, "--- %s ---\n", q.Table)
		if len(q.Missing) == 0 {
			fmt.Fprintf(out, "%s No missing values\n", okStyle.Render("✓"))
		}
		for _, m := range q.Missing {
			fmt.Fprintf(out, "  %s: %d missing\n", m.Column, m.Count)
		}
		if q.Duplicates > 0 {
			fmt.Fprintf(out, "%s %d duplicate rows found\n", errStyle.Render("!"), q.Duplicates)
		} else {
			fmt.Fprintf(out, "%s No duplicate rows\n", okStyle.Render("✓"))
		}
	}
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}
