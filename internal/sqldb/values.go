package sqldb

import "time"

// Date is a calendar date read from a DATE column. Drivers return dates as
// midnight timestamps, which would otherwise be indistinguishable from them.
type Date time.Time

func (d Date) String() string {
	return time.Time(d).Format(time.DateOnly)
}

func asDate(v any) any {
	if t, ok := v.(time.Time); ok {
		return Date(t)
	}
	return v
}
