package cycle

import "time"

// Ticker is the part of [time.Ticker] the orchestrator uses. Tests swap in
// manual tickers through [WithTickerFactory].
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker wraps time.NewTicker.
func NewStdTicker(d time.Duration) Ticker { return stdTicker{t: time.NewTicker(d)} }
