package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"schwabbridge/internal/domain"
)

// Compile-time interface check.
var _ TickStore = (*ParquetTickStore)(nil)

// ParquetTickStore implements TickStore using Parquet files on disk.
type ParquetTickStore struct {
	DataDir string
}

// NewParquetTickStore creates a tick store rooted at the given data directory.
func NewParquetTickStore(dataDir string) *ParquetTickStore {
	return &ParquetTickStore{DataDir: dataDir}
}

// TickRecord is the Parquet schema for captured level-one ticks.
type TickRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Bid       float64 `parquet:"bid"`
	Ask       float64 `parquet:"ask"`
	Last      float64 `parquet:"last"`
	BidSize   int64   `parquet:"bid_size"`
	AskSize   int64   `parquet:"ask_size"`
	LastSize  int64   `parquet:"last_size"`
}

// ---------------------------------------------------------------------------
// TickStore implementation
// ---------------------------------------------------------------------------

// WriteTicks writes ticks to Parquet files organized by symbol and date.
func (s *ParquetTickStore) WriteTicks(_ context.Context, ticks []domain.QuoteTick) error {
	if len(ticks) == 0 {
		return nil
	}

	type key struct {
		symbol string
		date   string // YYYY-MM-DD
	}
	groups := make(map[key][]TickRecord)
	for _, t := range ticks {
		k := key{symbol: t.Symbol, date: t.Time.UTC().Format("2006-01-02")}
		groups[k] = append(groups[k], TickRecord{
			Symbol:    t.Symbol,
			Timestamp: t.Time.UnixMilli(),
			Bid:       t.BidPrice,
			Ask:       t.AskPrice,
			Last:      t.LastPrice,
			BidSize:   t.BidSize,
			AskSize:   t.AskSize,
			LastSize:  t.LastSize,
		})
	}

	for k, records := range groups {
		day, _ := time.Parse("2006-01-02", k.date)
		path := s.tickPath(k.symbol, day)

		existing, _ := readParquetFile[TickRecord](path)
		merged := mergeTickRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing ticks for %s/%s: %w", k.symbol, k.date, err)
		}
	}
	return nil
}

// ReadTicks reads ticks for the given wire symbol within [start, end].
func (s *ParquetTickStore) ReadTicks(_ context.Context, symbol string, start, end time.Time) ([]domain.QuoteTick, error) {
	var ticks []domain.QuoteTick
	for d := start.UTC().Truncate(24 * time.Hour); !d.After(end); d = d.AddDate(0, 0, 1) {
		path := s.tickPath(symbol, d)
		records, err := readParquetFile[TickRecord](path)
		if err != nil {
			// No file for this day, skip.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if (ts.Equal(start) || ts.After(start)) && (ts.Equal(end) || ts.Before(end)) {
				ticks = append(ticks, domain.QuoteTick{
					Symbol:    r.Symbol,
					Time:      ts,
					BidPrice:  r.Bid,
					AskPrice:  r.Ask,
					LastPrice: r.Last,
					BidSize:   r.BidSize,
					AskSize:   r.AskSize,
					LastSize:  r.LastSize,
				})
			}
		}
	}
	return ticks, nil
}

// ListSymbols lists all symbols with captured tick data.
func (s *ParquetTickStore) ListSymbols(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, "ticks")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// symbolDirReplacer strips path-hostile characters from wire symbols: option
// symbols carry spaces and future symbols a leading slash.
var symbolDirReplacer = strings.NewReplacer(" ", "_", "/", "")

// tickPath returns the filesystem path for a tick Parquet file.
// Layout: <dataDir>/ticks/<SYMBOL>/<YYYY-MM-DD>.parquet
func (s *ParquetTickStore) tickPath(symbol string, t time.Time) string {
	date := t.Format("2006-01-02")
	return filepath.Join(s.DataDir, "ticks", symbolDirReplacer.Replace(symbol), date+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTickRecords deduplicates tick records by (symbol, timestamp),
// preferring new records over existing ones. Results are sorted by timestamp.
func mergeTickRecords(existing, incoming []TickRecord) []TickRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]TickRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]TickRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
