package sim

import (
	"time"

	"github.com/shopspring/decimal"

	"tradelink/pkg/exchange"
)

// aggregate buckets ticks into candles. With a zero since the most recent
// limit candles are kept, otherwise the first limit from since.
func aggregate(ticks []tick, step time.Duration, since time.Time, limit int) []exchange.Candle {
	candles := make([]exchange.Candle, 0)
	for _, t := range ticks {
		bucket := t.at.Truncate(step)
		if !since.IsZero() && bucket.Before(since.Truncate(step)) {
			continue
		}
		n := len(candles)
		if n > 0 && candles[n-1].Time.Equal(bucket) {
			c := &candles[n-1]
			c.High = decimal.Max(c.High, t.price)
			c.Low = decimal.Min(c.Low, t.price)
			c.Close = t.price
			c.Volume = c.Volume.Add(t.volume)
			continue
		}
		candles = append(candles, exchange.Candle{
			Time:   bucket,
			Open:   t.price,
			High:   t.price,
			Low:    t.price,
			Close:  t.price,
			Volume: t.volume,
		})
	}
	if limit > 0 && len(candles) > limit {
		if since.IsZero() {
			candles = candles[len(candles)-limit:]
		} else {
			candles = candles[:limit]
		}
	}
	return candles
}
