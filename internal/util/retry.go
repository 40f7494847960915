package util

import (
	crand "crypto/rand"
	"math/big"
	"time"
)

// Retry retries fn with exponential backoff and jitter up to max duration.
// fn returns retry=false to stop; the last error is surfaced either way.
func Retry(max time.Duration, fn func() (retry bool, err error)) error {
	start := time.Now()
	attempt := 0
	for {
		retry, err := fn()
		if !retry || time.Since(start) > max {
			return err
		}
		// exponential with jitter, capped at 30s
		capShift := 5
		if attempt > capShift {
			attempt = capShift
		}
		sleep := time.Second << uint(attempt)
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		half := sleep / 2
		var jitter time.Duration
		if half > 0 {
			if n, err := crand.Int(crand.Reader, big.NewInt(int64(half))); err == nil {
				jitter = time.Duration(n.Int64())
			}
		}
		time.Sleep(half + jitter)
		attempt++
	}
}
