package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"schwabbridge/internal/domain"
)

func TestParquetTickPath(t *testing.T) {
	ps := NewParquetTickStore("/data")
	ts := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	got := ps.tickPath("AAPL", ts)
	want := filepath.Join("/data", "ticks", "AAPL", "2025-03-03.parquet")
	if got != want {
		t.Errorf("tickPath mismatch:\n  got  %s\n  want %s", got, want)
	}

	// Option wire symbols carry spaces, future symbols a leading slash;
	// neither may leak into the directory name.
	got = ps.tickPath("AAPL  250117C00180000", ts)
	want = filepath.Join("/data", "ticks", "AAPL__250117C00180000", "2025-03-03.parquet")
	if got != want {
		t.Errorf("option tickPath mismatch:\n  got  %s\n  want %s", got, want)
	}

	got = ps.tickPath("/ESZ24", ts)
	want = filepath.Join("/data", "ticks", "ESZ24", "2025-03-03.parquet")
	if got != want {
		t.Errorf("future tickPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetWriteReadTicks(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetTickStore(dir)
	ctx := context.Background()

	base := time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)
	ticks := []domain.QuoteTick{
		{Symbol: "AAPL", Time: base, BidPrice: 189.95, AskPrice: 190.05, LastPrice: 190, BidSize: 300, AskSize: 200, LastSize: 100},
		{Symbol: "AAPL", Time: base.Add(time.Second), BidPrice: 189.96, AskPrice: 190.06, LastPrice: 190.01, BidSize: 310, AskSize: 190, LastSize: 50},
	}
	if err := ps.WriteTicks(ctx, ticks); err != nil {
		t.Fatalf("WriteTicks: %v", err)
	}

	got, err := ps.ReadTicks(ctx, "AAPL", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadTicks returned %d ticks, want 2", len(got))
	}
	if got[0].BidPrice != 189.95 || got[1].AskPrice != 190.06 {
		t.Errorf("ticks = %+v", got)
	}
}

func TestParquetMergeTicks(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetTickStore(dir)
	ctx := context.Background()

	base := time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)
	first := []domain.QuoteTick{{Symbol: "MSFT", Time: base, BidPrice: 500}}
	if err := ps.WriteTicks(ctx, first); err != nil {
		t.Fatalf("WriteTicks (first): %v", err)
	}

	// Second batch for the same symbol+day should merge, not overwrite.
	second := []domain.QuoteTick{{Symbol: "MSFT", Time: base.Add(time.Second), BidPrice: 501}}
	if err := ps.WriteTicks(ctx, second); err != nil {
		t.Fatalf("WriteTicks (second): %v", err)
	}

	got, err := ps.ReadTicks(ctx, "MSFT", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadTicks returned %d ticks after merge, want 2", len(got))
	}
}

func TestJournalSaveAndListOrders(t *testing.T) {
	dir := t.TempDir()
	j, err := NewSQLiteJournal(filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	defer j.Close()
	ctx := context.Background()

	o := &domain.Order{
		ID:         7,
		Instrument: domain.NewEquity("AAPL"),
		Quantity:   decimal.NewFromInt(10),
		Kind:       domain.OrderLimit,
		Status:     domain.StatusSubmitted,
		BrokerIDs:  []string{"1000"},
		CreatedAt:  time.Now(),
	}
	if err := j.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	// Status change must update, not duplicate, the row.
	o.Status = domain.StatusFilled
	o.UpdatedAt = time.Now()
	if err := j.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder (update): %v", err)
	}

	records, err := j.ListOrders(ctx, "")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ListOrders returned %d rows, want 1", len(records))
	}
	if records[0].Status != string(domain.StatusFilled) {
		t.Errorf("status = %q, want filled", records[0].Status)
	}
	if records[0].BrokerIDs != "1000" {
		t.Errorf("broker IDs = %q", records[0].BrokerIDs)
	}

	filled, err := j.ListOrders(ctx, domain.StatusFilled)
	if err != nil {
		t.Fatalf("ListOrders(filled): %v", err)
	}
	if len(filled) != 1 {
		t.Errorf("filtered rows = %d, want 1", len(filled))
	}
	empty, err := j.ListOrders(ctx, domain.StatusCanceled)
	if err != nil {
		t.Fatalf("ListOrders(canceled): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("canceled rows = %d, want 0", len(empty))
	}
}

func TestJournalEvents(t *testing.T) {
	dir := t.TempDir()
	j, err := NewSQLiteJournal(filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	defer j.Close()
	ctx := context.Background()

	events := []domain.OrderEvent{
		{Kind: domain.EventStatusChanged, OrderID: 7, Status: domain.StatusSubmitted, Time: time.Now()},
		{Kind: domain.EventIDChanged, OrderID: 7, OldBrokerID: "1000", NewBrokerID: "2000", Time: time.Now()},
		{Kind: domain.EventStatusChanged, OrderID: 7, Status: domain.StatusFilled, Time: time.Now()},
		{Kind: domain.EventStatusChanged, OrderID: 8, Status: domain.StatusInvalid, Message: "market closed", Time: time.Now()},
	}
	for _, e := range events {
		if err := j.RecordEvent(ctx, e); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	got, err := j.ListEvents(ctx, 7)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListEvents returned %d events, want 3", len(got))
	}
	if got[1].Kind != string(domain.EventIDChanged) || got[1].NewBrokerID != "2000" {
		t.Errorf("second event = %+v", got[1])
	}
	if got[0].Seq >= got[2].Seq {
		t.Error("events not in append order")
	}
}
