package chinook

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

// LongTrackMillis is the length above which a track counts as long (5 minutes).
const LongTrackMillis = 300000

// CountryCount is the number of customers in one country.
type CountryCount struct {
	Country string
	Count   int
}

// BasicStats summarises the loaded Track, Customer and Invoice tables.
// Sections whose table was not loaded are left nil.
type BasicStats struct {
	Tracks    *TrackStats
	Customers *CustomerStats
	Invoices  *InvoiceStats
}

type TrackStats struct {
	Count      int
	AvgSeconds float64
	TotalGB    float64
}

type CustomerStats struct {
	Count     int
	ByCountry []CountryCount
}

type InvoiceStats struct {
	Count   int
	Revenue float64
	Average float64
}

// Basic computes the per-table summaries over already loaded tables.
func Basic(tables []*Table) BasicStats {
	var stats BasicStats

	if t := Find(tables, "Track"); t != nil {
		ms := columnValues(t, "Milliseconds")
		bytes := columnValues(t, "Bytes")
		stats.Tracks = &TrackStats{
			Count:      len(t.Rows),
			AvgSeconds: mean(ms) / 1000,
			TotalGB:    sum(bytes) / (1 << 30),
		}
	}

	if t := Find(tables, "Customer"); t != nil {
		stats.Customers = &CustomerStats{
			Count:     len(t.Rows),
			ByCountry: countBy(t, "Country", 10),
		}
	}

	if t := Find(tables, "Invoice"); t != nil {
		totals := columnValues(t, "Total")
		stats.Invoices = &InvoiceStats{
			Count:   len(t.Rows),
			Revenue: sum(totals),
			Average: mean(totals),
		}
	}

	return stats
}

// ArtistSales is one row of the top-artists report.
type ArtistSales struct {
	Artist        string
	TotalSales    float64
	TotalInvoices int
	TracksSold    int
}

// GenreSales is one row of the genre popularity report.
type GenreSales struct {
	Genre      string
	TracksSold int
	Revenue    float64
}

// MonthSales is the invoice total for one calendar month (YYYY-MM).
type MonthSales struct {
	Month        string
	Sales        float64
	InvoiceCount int
}

// TopArtists returns the artists with the highest invoiced sales.
func (d *DB) TopArtists(ctx context.Context, limit int) ([]ArtistSales, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT ar.Name,
		       SUM(il.UnitPrice * il.Quantity) AS TotalSales,
		       COUNT(DISTINCT i.InvoiceId),
		       COUNT(il.TrackId)
		FROM Artist ar
		JOIN Album al ON ar.ArtistId = al.ArtistId
		JOIN Track t ON al.AlbumId = t.AlbumId
		JOIN InvoiceLine il ON t.TrackId = il.TrackId
		JOIN Invoice i ON il.InvoiceId = i.InvoiceId
		GROUP BY ar.ArtistId, ar.Name
		ORDER BY TotalSales DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top artists query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ArtistSales
	for rows.Next() {
		var a ArtistSales
		if err := rows.Scan(&a.Artist, &a.TotalSales, &a.TotalInvoices, &a.TracksSold); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TopGenres returns the genres with the most tracks sold.
func (d *DB) TopGenres(ctx context.Context, limit int) ([]GenreSales, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT g.Name,
		       COUNT(il.TrackId) AS TracksSold,
		       SUM(il.UnitPrice * il.Quantity)
		FROM Genre g
		JOIN Track t ON g.GenreId = t.GenreId
		JOIN InvoiceLine il ON t.TrackId = il.TrackId
		GROUP BY g.GenreId, g.Name
		ORDER BY TracksSold DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("genre query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []GenreSales
	for rows.Next() {
		var g GenreSales
		if err := rows.Scan(&g.Genre, &g.TracksSold, &g.Revenue); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// MonthlySales returns the last n months of sales in chronological order.
func (d *DB) MonthlySales(ctx context.Context, last int) ([]MonthSales, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m', InvoiceDate) AS Month,
		       SUM(Total),
		       COUNT(*)
		FROM Invoice
		GROUP BY Month
		ORDER BY Month`)
	if err != nil {
		return nil, fmt.Errorf("monthly sales query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []MonthSales
	for rows.Next() {
		var m MonthSales
		if err := rows.Scan(&m.Month, &m.Sales, &m.InvoiceCount); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if last > 0 && len(out) > last {
		out = out[len(out)-last:]
	}
	return out, nil
}

// ArtistTracks aggregates the loaded tracks of one artist.
type ArtistTracks struct {
	Artist      string
	Tracks      int
	MeanMillis  float64
	TotalMillis float64
	MeanPrice   float64
}

// LongTrack is a track above LongTrackMillis.
type LongTrack struct {
	Track   string
	Artist  string
	Minutes float64
}

// trackRow is a loaded track joined with its album and artist.
type trackRow struct {
	name   string
	artist string
	millis float64
	price  float64
}

// joinTracks left-joins the loaded Track rows to Album and Artist.
func joinTracks(tables []*Table) ([]trackRow, bool) {
	tracks, albums, artists := Find(tables, "Track"), Find(tables, "Album"), Find(tables, "Artist")
	if tracks == nil || albums == nil || artists == nil {
		return nil, false
	}

	artistNames := lookup(artists, "ArtistId", "Name")
	albumArtist := lookup(albums, "AlbumId", "ArtistId")

	nameCol := tracks.Column("Name")
	albumCol := tracks.Column("AlbumId")
	msCol := tracks.Column("Milliseconds")
	priceCol := tracks.Column("UnitPrice")

	out := make([]trackRow, 0, len(tracks.Rows))
	for i, row := range tracks.Rows {
		r := trackRow{}
		if nameCol >= 0 {
			r.name = formatCell(row[nameCol])
		}
		if albumCol >= 0 {
			if artistID, ok := albumArtist[formatCell(row[albumCol])]; ok {
				r.artist = formatCell(artistNames[formatCell(artistID)])
			}
		}
		if msCol >= 0 {
			r.millis, _ = tracks.Float(i, msCol)
		}
		if priceCol >= 0 {
			r.price, _ = tracks.Float(i, priceCol)
		}
		out = append(out, r)
	}
	return out, true
}

// ArtistTrackStats groups the loaded tracks by artist and returns the
// artists with the most tracks. Tracks without a known artist are skipped.
func ArtistTrackStats(tables []*Table, limit int) []ArtistTracks {
	rows, ok := joinTracks(tables)
	if !ok {
		return nil
	}

	byArtist := make(map[string]*ArtistTracks)
	prices := make(map[string]float64)
	for _, r := range rows {
		if r.artist == "" {
			continue
		}
		a, ok := byArtist[r.artist]
		if !ok {
			a = &ArtistTracks{Artist: r.artist}
			byArtist[r.artist] = a
		}
		a.Tracks++
		a.TotalMillis += r.millis
		prices[r.artist] += r.price
	}

	out := make([]ArtistTracks, 0, len(byArtist))
	for name, a := range byArtist {
		a.MeanMillis = a.TotalMillis / float64(a.Tracks)
		a.MeanPrice = prices[name] / float64(a.Tracks)
		out = append(out, *a)
	}
	slices.SortFunc(out, func(x, y ArtistTracks) int {
		if c := cmp.Compare(y.Tracks, x.Tracks); c != 0 {
			return c
		}
		return cmp.Compare(x.Artist, y.Artist)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// LongTracks returns how many loaded tracks exceed LongTrackMillis and the
// longest of them.
func LongTracks(tables []*Table, limit int) (int, []LongTrack) {
	rows, ok := joinTracks(tables)
	if !ok {
		return 0, nil
	}

	var long []trackRow
	for _, r := range rows {
		if r.millis > LongTrackMillis {
			long = append(long, r)
		}
	}
	slices.SortStableFunc(long, func(x, y trackRow) int {
		return cmp.Compare(y.millis, x.millis)
	})

	n := len(long)
	if limit > 0 && len(long) > limit {
		long = long[:limit]
	}

	out := make([]LongTrack, 0, len(long))
	for _, r := range long {
		out = append(out, LongTrack{Track: r.name, Artist: r.artist, Minutes: r.millis / 60000})
	}
	return n, out
}

func lookup(t *Table, keyCol, valCol string) map[string]any {
	k, v := t.Column(keyCol), t.Column(valCol)
	out := make(map[string]any, len(t.Rows))
	if k < 0 || v < 0 {
		return out
	}
	for _, row := range t.Rows {
		out[formatCell(row[k])] = row[v]
	}
	return out
}

func columnValues(t *Table, name string) []float64 {
	col := t.Column(name)
	if col < 0 {
		return nil
	}
	vals := make([]float64, 0, len(t.Rows))
	for i := range t.Rows {
		if f, ok := t.Float(i, col); ok {
			vals = append(vals, f)
		}
	}
	return vals
}

// countBy counts non-null values of a column, most frequent first.
func countBy(t *Table, name string, limit int) []CountryCount {
	col := t.Column(name)
	if col < 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, row := range t.Rows {
		if row[col] == nil {
			continue
		}
		counts[formatCell(row[col])]++
	}

	out := make([]CountryCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, CountryCount{Country: k, Count: n})
	}
	slices.SortFunc(out, func(x, y CountryCount) int {
		if c := cmp.Compare(y.Count, x.Count); c != 0 {
			return c
		}
		return cmp.Compare(x.Country, y.Country)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sum(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return sum(vals) / float64(len(vals))
}
