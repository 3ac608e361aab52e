package exact

import (
	"net/http"
	"strconv"
	"time"
)

const (
	headerDailyLimit       = "X-RateLimit-Limit"
	headerDailyRemaining   = "X-RateLimit-Remaining"
	headerDailyReset       = "X-RateLimit-Reset"
	headerMinutelyLimit    = "X-RateLimit-Minutely-Limit"
	headerMinutelyRemain   = "X-RateLimit-Minutely-Remaining"
	headerMinutelyReset    = "X-RateLimit-Minutely-Reset"
	rateLimitUnknownMarker = -1
)

// RateLimit holds the quota reported on the most recent response.
// Counts are -1 when the header was absent.
type RateLimit struct {
	DailyLimit        int
	DailyRemaining    int
	DailyReset        time.Time
	MinutelyLimit     int
	MinutelyRemaining int
	MinutelyReset     time.Time
}

// Known reports whether any rate limit header has been seen.
func (r RateLimit) Known() bool {
	return r.DailyLimit >= 0 || r.MinutelyLimit >= 0
}

// MinutelyExhausted reports whether the minutely quota is used up.
func (r RateLimit) MinutelyExhausted() bool {
	return r.MinutelyLimit >= 0 && r.MinutelyRemaining == 0
}

func unknownRateLimit() RateLimit {
	return RateLimit{
		DailyLimit:        rateLimitUnknownMarker,
		DailyRemaining:    rateLimitUnknownMarker,
		MinutelyLimit:     rateLimitUnknownMarker,
		MinutelyRemaining: rateLimitUnknownMarker,
	}
}

// parseRateLimit reads the X-RateLimit-* headers. Reset values are unix
// timestamps in milliseconds.
func parseRateLimit(h http.Header) (RateLimit, bool) {
	rl := unknownRateLimit()
	seen := false

	readInt := func(key string, dst *int) {
		if v := h.Get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				seen = true
			}
		}
	}
	readTime := func(key string, dst *time.Time) {
		if v := h.Get(key); v != "" {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = time.UnixMilli(ms)
				seen = true
			}
		}
	}

	readInt(headerDailyLimit, &rl.DailyLimit)
	readInt(headerDailyRemaining, &rl.DailyRemaining)
	readTime(headerDailyReset, &rl.DailyReset)
	readInt(headerMinutelyLimit, &rl.MinutelyLimit)
	readInt(headerMinutelyRemain, &rl.MinutelyRemaining)
	readTime(headerMinutelyReset, &rl.MinutelyReset)

	return rl, seen
}
