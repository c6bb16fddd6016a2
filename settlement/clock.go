package settlement

import "time"

// Clock supplies the current time to every transition. Implementations must
// never move backwards.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
