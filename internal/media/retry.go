package media

import (
	"fmt"
	"time"
)

// Verdict classifies one attempt of a retryable operation.
type Verdict int

const (
	// Ok means the attempt succeeded.
	Ok Verdict = iota
	// Again means the attempt failed transiently and may be retried.
	Again
	// Fatal means retrying cannot help.
	Fatal
)

// boundedRetry runs fn until it returns Ok or Fatal, or attempts are
// exhausted, sleeping delay between attempts. It consolidates the scattered
// open/read retry loops of the video path into one place.
func boundedRetry(attempts int, delay time.Duration, fn func() (Verdict, error)) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		verdict, err := fn()
		switch verdict {
		case Ok:
			return nil
		case Fatal:
			return err
		}
		lastErr = err
		if i < attempts-1 && delay > 0 {
			time.Sleep(delay)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("retries exhausted after %d attempts", attempts)
	}
	return lastErr
}
