package bridge

import "time"

// maxDelay caps exponential growth so a long retry chain cannot stall a
// worker for minutes.
const maxDelay = time.Minute

// Delay returns the pause before the next attempt after `failures`
// consecutive failures: base * multiplier^(failures-1). Pure on purpose,
// decoupled from the dispatch loop.
func Delay(failures int, base time.Duration, multiplier float64) time.Duration {
	if base <= 0 {
		return 0
	}
	d := float64(base)
	for i := 1; i < failures; i++ {
		d *= multiplier
		if time.Duration(d) > maxDelay {
			return maxDelay
		}
	}
	if d < float64(base) {
		return base
	}
	return time.Duration(d)
}
