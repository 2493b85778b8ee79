// Package stamp formats the timestamps the backend services expect in
// request bodies (orderDate, likeDate, paymentDate).
package stamp

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"shopload/internal/core"
)

// dateLayout covers everything up to the seconds; the microsecond part is
// separated by a colon, which time.Format cannot express.
const dateLayout = "02-01-2006__15:04:05"

// Format renders t as dd-MM-yyyy__HH:mm:ss:ffffff.
func Format(t time.Time) string {
	return fmt.Sprintf("%s:%06d", t.Format(dateLayout), t.Nanosecond()/int(time.Microsecond))
}

// Parse is the inverse of Format.
func Parse(s string) (time.Time, error) {
	if len(s) != len(dateLayout)+7 || s[len(dateLayout)] != ':' {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	t, err := time.ParseInLocation(dateLayout, s[:len(dateLayout)], time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	micros, err := strconv.Atoi(s[len(dateLayout)+1:])
	if err != nil || micros < 0 {
		return time.Time{}, fmt.Errorf("invalid microseconds in %q", s)
	}
	return t.Add(time.Duration(micros) * time.Microsecond), nil
}

// Sequence hands out unique timestamps: the n-th call returns now + n
// seconds, so rapid writes never collide even when the backend truncates
// sub-second precision. Safe for concurrent use.
//
// The offset is never reset: each write pushes later stamps one more second
// ahead of the wall clock, so after n writes in a run the stamps lie n
// seconds in the future.
type Sequence struct {
	clock   core.Clock
	counter atomic.Int64
}

func NewSequence(clock core.Clock) *Sequence {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Sequence{clock: clock}
}

// Now returns the current time formatted, without advancing the counter.
func (s *Sequence) Now() string {
	return Format(s.clock.Now())
}

// Next returns the next unique timestamp, one second further ahead of the
// clock than the previous one.
func (s *Sequence) Next() string {
	n := s.counter.Add(1)
	return Format(s.clock.Now().Add(time.Duration(n) * time.Second))
}
