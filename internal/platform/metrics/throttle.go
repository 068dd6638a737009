package metrics

import (
	"sync"
	"time"
)

// Throttle wraps fn so it runs at most once per interval; calls in between
// are dropped. Use it for gauge refreshes that are too costly to run on
// every scrape.
func Throttle(interval time.Duration, fn func()) func() {
	return throttle(interval, time.Now, fn)
}

func throttle(interval time.Duration, now func() time.Time, fn func()) func() {
	var (
		mu   sync.Mutex
		last time.Time
		ran  bool
	)
	return func() {
		mu.Lock()
		defer mu.Unlock()
		t := now()
		if ran && t.Sub(last) < interval {
			return
		}
		ran = true
		last = t
		fn()
	}
}
