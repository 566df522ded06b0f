// Package marketclock implements the market-hours gate for trade booking.
//
// The gate is a pure function of wall-clock time and asset identity: it runs
// before any price lookup or mutation. The trading window is configuration,
// not a constant, and the clock is injectable so the rule is testable without
// wall-clock dependence.
package marketclock

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time within a trading day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" into a TimeOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
		return t, fmt.Errorf("marketclock: invalid time of day %q: %w", s, err)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return t, fmt.Errorf("marketclock: time of day %q out of range", s)
	}
	return t, nil
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// String formats the time as "HH:MM".
func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Config describes one exchange's trading window.
type Config struct {
	// Timezone is the IANA location of the exchange (e.g. "Asia/Kolkata").
	Timezone string

	// Open and Close bound the session, inclusive on both ends.
	Open  TimeOfDay
	Close TimeOfDay

	// TradingDays is the set of weekdays the market operates.
	TradingDays map[time.Weekday]bool

	// AlwaysOpen lists asset symbols exempt from the gate (24/7 markets).
	AlwaysOpen []string
}

// DefaultConfig is the NSE window: Mon-Fri 09:15-15:30 IST, BTCUSD exempt.
func DefaultConfig() Config {
	return Config{
		Timezone: "Asia/Kolkata",
		Open:     TimeOfDay{Hour: 9, Minute: 15},
		Close:    TimeOfDay{Hour: 15, Minute: 30},
		TradingDays: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		AlwaysOpen: []string{"BTCUSD"},
	}
}

// ClosedError reports a trade attempt outside the trading window.
type ClosedError struct {
	Asset string
	Now   time.Time
	Open  TimeOfDay
	Close TimeOfDay
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf(
		"market closed for %s: open %s-%s on trading days, current time %s",
		e.Asset, e.Open, e.Close, e.Now.Format("Monday 15:04 MST"),
	)
}

// Gate decides whether an asset is tradeable at a given instant.
type Gate struct {
	cfg        Config
	loc        *time.Location
	alwaysOpen map[string]bool
	now        func() time.Time
}

// New builds a Gate from cfg. The timezone must be a valid IANA name.
func New(cfg Config) (*Gate, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("marketclock: load timezone %q: %w", cfg.Timezone, err)
	}
	always := make(map[string]bool, len(cfg.AlwaysOpen))
	for _, sym := range cfg.AlwaysOpen {
		always[sym] = true
	}
	return &Gate{cfg: cfg, loc: loc, alwaysOpen: always, now: time.Now}, nil
}

// WithNow replaces the clock. For tests.
func (g *Gate) WithNow(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Check returns nil if asset is tradeable right now, or a *ClosedError.
func (g *Gate) Check(asset string) error {
	if g.alwaysOpen[asset] {
		return nil
	}

	local := g.now().In(g.loc)
	if !g.cfg.TradingDays[local.Weekday()] {
		return &ClosedError{Asset: asset, Now: local, Open: g.cfg.Open, Close: g.cfg.Close}
	}

	mins := local.Hour()*60 + local.Minute()
	if mins < g.cfg.Open.minutes() || mins > g.cfg.Close.minutes() {
		return &ClosedError{Asset: asset, Now: local, Open: g.cfg.Open, Close: g.cfg.Close}
	}
	return nil
}
