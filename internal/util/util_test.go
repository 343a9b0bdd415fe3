package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"schwabbridge/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestTradingCalendarRegularSession(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	// Monday 2025-03-03, 10:00 ET: open.
	if !cal.IsMarketOpen(time.Date(2025, 3, 3, 10, 0, 0, 0, et)) {
		t.Error("Monday 10:00 ET reported closed")
	}
	// Monday 17:00 ET: closed, but extended hours.
	afterHours := time.Date(2025, 3, 3, 17, 0, 0, 0, et)
	if cal.IsMarketOpen(afterHours) {
		t.Error("Monday 17:00 ET reported open")
	}
	if !cal.IsExtendedHours(afterHours) {
		t.Error("Monday 17:00 ET not reported as extended hours")
	}
	// Saturday: neither.
	saturday := time.Date(2025, 3, 1, 12, 0, 0, 0, et)
	if cal.IsMarketOpen(saturday) || cal.IsExtendedHours(saturday) {
		t.Error("Saturday reported as a session")
	}
}

func TestTradingCalendarNextOpen(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	// Friday 2025-02-28 after close → next open Monday 2025-03-03 9:30.
	fridayEvening := time.Date(2025, 2, 28, 18, 0, 0, 0, et)
	next := cal.NextOpen(fridayEvening)
	want := time.Date(2025, 3, 3, 9, 30, 0, 0, et)
	if !next.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", next, want)
	}
}
