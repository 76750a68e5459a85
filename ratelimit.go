package http2

import (
	"time"
)

// rapidResetWindow and rapidResetMaxCancels bound how many streams a
// peer may reset via RST_STREAM within a sliding window before the
// connection is torn down. This mirrors the mitigation servers adopted
// for the HTTP/2 "Rapid Reset" class of attack (CVE-2023-44487):
// opening a stream and resetting it immediately, over and over, to
// force cheap-for-the-attacker/expensive-for-the-peer work.
//
// The counter records every RST_STREAM received from the peer, and
// every reset sent through resetStream. Requests have no cancellation
// path, so streams the local caller abandons are not counted.
const (
	rapidResetWindow      = 10 * time.Second
	rapidResetMaxCancels  = 100
)

// resetCounter is a sliding-window counter of stream resets, owned by
// the Dispatcher goroutine (no locking needed).
type resetCounter struct {
	timestamps []time.Time
}

// record registers a reset at `now` and reports whether the rate over
// the trailing window exceeds the configured limit.
func (rc *resetCounter) record(now time.Time) bool {
	rc.timestamps = append(rc.timestamps, now)

	cutoff := now.Add(-rapidResetWindow)

	i := 0
	for i < len(rc.timestamps) && rc.timestamps[i].Before(cutoff) {
		i++
	}

	if i > 0 {
		rc.timestamps = append(rc.timestamps[:0], rc.timestamps[i:]...)
	}

	return len(rc.timestamps) > rapidResetMaxCancels
}
