package clock

import "time"

// NowUTC returns the current time truncated to microseconds, the resolution Postgres keeps.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
