package replication

import "time"

type tickerFactory func(d time.Duration) loopTicker

type loopTicker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct {
	t *time.Ticker
}

func (t *stdTicker) C() <-chan time.Time { return t.t.C }
func (t *stdTicker) Stop()               { t.t.Stop() }

func defaultTickerFactory(d time.Duration) loopTicker {
	return &stdTicker{t: time.NewTicker(d)}
}
