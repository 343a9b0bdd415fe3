package util

import (
	"time"

	"schwabbridge/internal/domain"
)

// US equity session boundaries in exchange-local time.
var (
	usEastern = mustLoadLocation("America/New_York")
)

// TradingCalendar provides market-hours awareness for a specific market.
// Exchange holidays are not modeled; weekends and session hours are.
type TradingCalendar struct {
	market domain.Market
}

// NewTradingCalendar creates a TradingCalendar for the given market.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	return &TradingCalendar{market: market}
}

// IsMarketOpen returns whether the regular session is open at time t
// (NYSE 9:30-16:00 ET, weekdays).
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	et := t.In(usEastern)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, usEastern)
	close := time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, usEastern)
	return !et.Before(open) && et.Before(close)
}

// IsExtendedHours returns whether t falls in the pre-market (4:00-9:30 ET)
// or after-hours (16:00-20:00 ET) session on a weekday.
func (tc *TradingCalendar) IsExtendedHours(t time.Time) bool {
	et := t.In(usEastern)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return false
	}
	preOpen := time.Date(et.Year(), et.Month(), et.Day(), 4, 0, 0, 0, usEastern)
	open := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, usEastern)
	close := time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, usEastern)
	postClose := time.Date(et.Year(), et.Month(), et.Day(), 20, 0, 0, 0, usEastern)

	pre := !et.Before(preOpen) && et.Before(open)
	post := !et.Before(close) && et.Before(postClose)
	return pre || post
}

// NextOpen returns the next regular-session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	et := t.In(usEastern)
	for {
		open := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, usEastern)
		if et.Weekday() != time.Saturday && et.Weekday() != time.Sunday && !open.Before(et) {
			return open
		}
		et = time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, usEastern).AddDate(0, 0, 1)
	}
}

// NextClose returns the next regular-session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	et := t.In(usEastern)
	for {
		close := time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, usEastern)
		if et.Weekday() != time.Saturday && et.Weekday() != time.Sunday && !close.Before(et) {
			return close
		}
		et = time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, usEastern).AddDate(0, 0, 1)
	}
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}
